package megafon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"strings"
	"sync"
	"testing"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://portal.test/"

type mockResponse struct {
	status int
	body   string
	err    error
}

func jsonResponse(t *testing.T, status int, v any) mockResponse {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return mockResponse{status: status, body: string(data)}
}

func okJSON(t *testing.T, v any) mockResponse {
	return jsonResponse(t, http.StatusOK, v)
}

type recordedRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Form     url.Values
}

// mockDoer replays queued responses in order and records every request.
type mockDoer struct {
	mu        sync.Mutex
	responses []mockResponse
	requests  []recordedRequest
}

func newMockDoer(responses ...mockResponse) *mockDoer {
	return &mockDoer{responses: responses}
}

func (m *mockDoer) Do(req *http.Request) (*http.Response, error) {
	rec := recordedRequest{
		Method:   req.Method,
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header.Clone(),
	}
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if rec.Form, err = url.ParseQuery(string(data)); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, rec)

	if len(m.responses) == 0 {
		return nil, errors.New("mock: no responses queued")
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	if next.err != nil {
		return nil, next.err
	}

	return &http.Response{
		StatusCode: next.status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(next.body)),
		Request:    req,
	}, nil
}

func (m *mockDoer) Requests() []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedRequest(nil), m.requests...)
}

// fakeResolver hands out codes in order and counts calls.
type fakeResolver struct {
	mu     sync.Mutex
	codes  []string
	err    error
	calls  int
	seen   []*Response
	onCall func()
}

func (f *fakeResolver) Resolve(_ context.Context, _ *Transport, challenge *Response) (SolvedCaptcha, error) {
	f.mu.Lock()
	f.calls++
	f.seen = append(f.seen, challenge)
	onCall := f.onCall
	var code string
	if len(f.codes) > 0 {
		code = f.codes[0]
		f.codes = f.codes[1:]
	}
	err := f.err
	f.mu.Unlock()

	if onCall != nil {
		onCall()
	}
	if err != nil {
		return nil, err
	}
	return SolvedCode(code), nil
}

func (f *fakeResolver) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestTransport(t *testing.T, doer Doer, opts ...TransportOption) *Transport {
	t.Helper()
	tr, err := NewTransport(doer, append([]TransportOption{WithBaseURL(testBaseURL)}, opts...)...)
	require.NoError(t, err)
	return tr
}

func newTestService(t *testing.T, resolver CaptchaResolver, doer Doer, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(resolver, append([]Option{WithTransport(newTestTransport(t, doer))}, opts...)...)
	require.NoError(t, err)
	return svc
}
