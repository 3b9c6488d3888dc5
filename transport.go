package megafon

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/google/uuid"
)

// DefaultBaseURL is the root of the portal API.
const DefaultBaseURL = "https://api.megafon.ru/"

// Doer issues a single HTTP request. tls_client.HttpClient satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one portal call. Path is resolved against the base URL.
type Request struct {
	Method string
	Path   string
	Form   url.Values
	Query  url.Values
}

// Response is a fully read portal response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Session is the authenticated state established by a successful login.
// The server side of it lives in the transport's cookie jar.
type Session struct {
	MSISDN        string
	EstablishedAt time.Time
}

// Transport sends requests to the portal on behalf of a single subscriber.
// Cookies set by the portal persist for the lifetime of the underlying Doer,
// so one Transport must not be shared between concurrent logins.
type Transport struct {
	doer      Doer
	baseURL   *url.URL
	userAgent string
	logger    Logger
	id        string

	loggingIn atomic.Bool

	mu      sync.Mutex
	session *Session
}

type TransportOption func(*Transport) error

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(raw string) TransportOption {
	return func(t *Transport) error {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid base url %q: %w", raw, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid base url %q: scheme and host are required", raw)
		}
		t.baseURL = u
		return nil
	}
}

func WithUserAgent(ua string) TransportOption {
	return func(t *Transport) error {
		t.userAgent = ua
		return nil
	}
}

func WithTransportLogger(logger Logger) TransportOption {
	return func(t *Transport) error {
		if logger == nil {
			return &ConfigurationError{Reason: "transport logger must not be nil"}
		}
		t.logger = logger
		return nil
	}
}

// NewTransport wraps doer with the portal base URL and app user agent.
func NewTransport(doer Doer, opts ...TransportOption) (*Transport, error) {
	if doer == nil {
		return nil, &ConfigurationError{Reason: "http client must not be nil"}
	}

	base, _ := url.Parse(DefaultBaseURL)
	t := &Transport{
		doer:      doer,
		baseURL:   base,
		userAgent: DefaultProfile.UserAgent,
		logger:    NopLogger(),
		id:        uuid.New().String()[:8],
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// DefaultTransport builds a Transport over a fresh cookie-jar client.
func DefaultTransport(proxyURL string, opts ...TransportOption) (*Transport, error) {
	client, err := NewClient(nil, proxyURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create portal client: %w", err)
	}
	return NewTransport(client, opts...)
}

// ID returns the short identifier attached to every log line of this transport.
func (t *Transport) ID() string {
	return t.id
}

// Session returns the session established by the last successful login.
func (t *Transport) Session() (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return Session{}, false
	}
	return *t.session, true
}

func (t *Transport) establish(msisdn string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = &Session{MSISDN: msisdn, EstablishedAt: time.Now()}
}

func (t *Transport) beginLogin() error {
	if !t.loggingIn.CompareAndSwap(false, true) {
		return ErrLoginInProgress
	}
	return nil
}

func (t *Transport) endLogin() {
	t.loggingIn.Store(false)
}

func (t *Transport) resolve(r Request) string {
	u := t.baseURL.ResolveReference(&url.URL{Path: r.Path})
	if len(r.Query) > 0 {
		u.RawQuery = r.Query.Encode()
	}
	return u.String()
}

// Do sends r and reads the whole body. A non-2xx status is returned as *StatusError.
func (t *Transport) Do(ctx context.Context, r Request) (*Response, error) {
	var body io.Reader
	if r.Form != nil {
		body = strings.NewReader(r.Form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, t.resolve(r), body)
	if err != nil {
		return nil, err
	}

	req.Header = http.Header{
		"User-Agent":         {t.userAgent},
		http.HeaderOrderKey:  headerOrder,
		http.PHeaderOrderKey: iosPseudoHeaderOrder,
	}
	if r.Form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := t.doer.Do(req)
	if err != nil {
		t.logger.DebugContext(ctx, "portal request failed",
			"session", t.id, "method", r.Method, "path", r.Path, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	t.logger.DebugContext(ctx, fmt.Sprintf("%s %s -> %d", r.Method, r.Path, resp.StatusCode), "session", t.id)

	data, err := readResponseBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s response: %w", r.Method, r.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method:     r.Method,
			Path:       r.Path,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
