package megafon

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"testing"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_Do(t *testing.T) {
	doer := newMockDoer(mockResponse{status: http.StatusOK, body: `{"ok":true}`})
	tr := newTestTransport(t, doer)

	resp, err := tr.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/mlk/api/tariff/current",
		Query:  url.Values{"tariffId": {"42"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))

	req := doer.Requests()[0]
	assert.Equal(t, "/mlk/api/tariff/current", req.Path)
	assert.Equal(t, "tariffId=42", req.RawQuery)
	assert.Equal(t, IOSAppUserAgent, req.Header.Get("User-Agent"))
	assert.Empty(t, req.Header.Get("Content-Type"))
	assert.Nil(t, req.Form)
}

func TestTransport_ResolvesAgainstBaseURL(t *testing.T) {
	tr, err := NewTransport(newMockDoer())
	require.NoError(t, err)
	assert.Equal(t, "https://api.megafon.ru/mlk/login", tr.resolve(Request{Path: "/mlk/login"}))
	assert.Equal(t, "https://api.megafon.ru/mlk/api/tariff/current?tariffId=7",
		tr.resolve(Request{Path: "/mlk/api/tariff/current", Query: url.Values{"tariffId": {"7"}}}))
}

func TestTransport_StatusError(t *testing.T) {
	tr := newTestTransport(t, newMockDoer(mockResponse{status: http.StatusUnauthorized, body: "denied"}))

	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/mlk/api/main/info"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.MethodGet, statusErr.Method)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "denied", statusErr.Body)
	assert.False(t, IsRetryableError(err))
}

func TestTransport_Options(t *testing.T) {
	doer := newMockDoer(mockResponse{status: http.StatusOK})
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tr := newTestTransport(t, doer, WithUserAgent("MLK Android 4.0"), WithTransportLogger(logger))
	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/mlk/api/main/info"})
	require.NoError(t, err)

	assert.Equal(t, "MLK Android 4.0", doer.Requests()[0].Header.Get("User-Agent"))
	assert.Contains(t, buf.String(), "GET /mlk/api/main/info -> 200")
	assert.Contains(t, buf.String(), "session="+tr.ID())
}

func TestNewTransport_Invalid(t *testing.T) {
	_, err := NewTransport(nil)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = NewTransport(newMockDoer(), WithBaseURL("not a url"))
	assert.Error(t, err)

	_, err = NewTransport(newMockDoer(), WithTransportLogger(nil))
	assert.ErrorAs(t, err, &cfgErr)
}

func TestTransport_SessionBeforeLogin(t *testing.T) {
	tr := newTestTransport(t, newMockDoer())
	_, ok := tr.Session()
	assert.False(t, ok)

	a := newTestTransport(t, newMockDoer())
	b := newTestTransport(t, newMockDoer())
	assert.NotEqual(t, a.ID(), b.ID())
}
