package megafon

import (
	"context"
	"net/url"

	http "github.com/bogdanfinn/fhttp"
)

const pathLogin = "/mlk/login"

// Login codes that mean the portal wants a captcha before it accepts the password.
const (
	codeCaptchaRequired = "a211"
	codeCaptchaWrong    = "a212"
)

// Service is a portal client for one subscriber.
type Service struct {
	transport          *Transport
	logger             Logger
	resolver           CaptchaResolver
	maxCaptchaAttempts int
}

type Option func(*Service) error

// WithTransport replaces the default tls-client transport.
func WithTransport(t *Transport) Option {
	return func(s *Service) error {
		if t == nil {
			return &ConfigurationError{Reason: "transport must not be nil"}
		}
		s.transport = t
		return nil
	}
}

func WithLogger(logger Logger) Option {
	return func(s *Service) error {
		if logger == nil {
			return &ConfigurationError{Reason: "logger must not be nil"}
		}
		s.logger = logger
		return nil
	}
}

// WithMaxCaptchaAttempts caps how many captchas a single Authenticate call
// will solve. Zero, the default, means no limit.
func WithMaxCaptchaAttempts(n int) Option {
	return func(s *Service) error {
		if n < 0 {
			return &ConfigurationError{Reason: "max captcha attempts must not be negative"}
		}
		s.maxCaptchaAttempts = n
		return nil
	}
}

// NewService creates a portal client. The resolver is required; without
// WithTransport a direct tls-client transport is created.
func NewService(resolver CaptchaResolver, opts ...Option) (*Service, error) {
	if resolver == nil {
		return nil, &ConfigurationError{Reason: "captcha resolver required"}
	}

	s := &Service{
		logger:   NopLogger(),
		resolver: resolver,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.transport == nil {
		t, err := DefaultTransport("", WithTransportLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.transport = t
	}

	return s, nil
}

func (s *Service) Transport() *Transport {
	return s.transport
}

type loginOutcome int

const (
	loginSucceeded loginOutcome = iota
	loginChallenged
	loginRejected
)

// classifyLogin maps a login answer to its outcome. An answer carrying
// msisdn is a success whatever its code says.
func classifyLogin(a *Answer) loginOutcome {
	if !a.Has("code") || a.Has("msisdn") {
		return loginSucceeded
	}
	switch code, _ := a.String("code"); code {
	case codeCaptchaRequired, codeCaptchaWrong:
		return loginChallenged
	default:
		return loginRejected
	}
}

// loginForm drops empty fields so the first attempt carries no captcha at all.
func loginForm(login, password, captcha string) url.Values {
	form := url.Values{}
	for _, f := range [...]struct{ key, value string }{
		{"login", login},
		{"password", password},
		{"captcha", captcha},
	} {
		if f.value != "" {
			form.Set(f.key, f.value)
		}
	}
	return form
}

// Authenticate logs in, solving as many captchas as the portal asks for.
// captcha may carry an already solved code and is usually empty.
// On success the session lives in the transport's cookie jar and the
// portal's profile answer is returned.
func (s *Service) Authenticate(ctx context.Context, login, password, captcha string) (*Answer, error) {
	if err := s.transport.beginLogin(); err != nil {
		return nil, err
	}
	defer s.transport.endLogin()

	for solved := 0; ; solved++ {
		resp, err := s.transport.Do(ctx, Request{
			Method: http.MethodPost,
			Path:   pathLogin,
			Form:   loginForm(login, password, captcha),
		})
		if err != nil {
			return nil, err
		}

		s.logger.InfoContext(ctx, string(resp.Body), "session", s.transport.ID())

		answer, err := decodeAnswer(resp.Body)
		if err != nil {
			return nil, err
		}

		switch classifyLogin(answer) {
		case loginSucceeded:
			msisdn, _ := answer.String("msisdn")
			s.transport.establish(msisdn)
			return answer, nil

		case loginChallenged:
			if s.maxCaptchaAttempts > 0 && solved >= s.maxCaptchaAttempts {
				return nil, ErrCaptchaAttemptsExceeded
			}
			s.logger.InfoContext(ctx, "Solving captcha.", "session", s.transport.ID())
			code, err := s.resolver.Resolve(ctx, s.transport, resp)
			if err != nil {
				return nil, err
			}
			captcha = code.Code()

		default:
			return nil, &UnauthorizedError{Body: string(resp.Body), StatusCode: resp.StatusCode}
		}
	}
}
