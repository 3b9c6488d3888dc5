package megafon

import (
	"context"
	"fmt"

	http "github.com/bogdanfinn/fhttp"
)

const (
	pathCaptcha = "/mlk/auth/captcha"

	// captchaLength is the exact number of digits in a portal captcha.
	captchaLength = 6
)

// SolvedCaptcha is a captcha answer ready to be sent back to the portal.
type SolvedCaptcha interface {
	Code() string
}

// CaptchaResolver turns a login challenge into a solved code. It may use t
// to fetch whatever the challenge refers to.
type CaptchaResolver interface {
	Resolve(ctx context.Context, t *Transport, challenge *Response) (SolvedCaptcha, error)
}

// NumericMode restricts the alphabet a solver should answer with.
type NumericMode int

const (
	NumericAny NumericMode = iota
	NumericOnly
	NumericNone
)

// ImageTask is an image-to-text job for a solving service.
type ImageTask struct {
	Body      []byte
	Numeric   NumericMode
	MinLength int
	MaxLength int
}

// ImageSolver solves image captchas, usually through a paid service.
type ImageSolver interface {
	SolveImage(ctx context.Context, task ImageTask) (SolvedCaptcha, error)
}

// SolvedCode is the plain SolvedCaptcha implementation.
type SolvedCode string

func (c SolvedCode) Code() string {
	return string(c)
}

// PortalCaptcha resolves portal challenges by downloading a fresh image
// from /mlk/auth/captcha and handing it to an ImageSolver.
type PortalCaptcha struct {
	solver ImageSolver
}

func NewPortalCaptcha(solver ImageSolver) *PortalCaptcha {
	return &PortalCaptcha{solver: solver}
}

// Resolve leaves the alphabet unrestricted; the portal only fixes the length.
func (p *PortalCaptcha) Resolve(ctx context.Context, t *Transport, _ *Response) (SolvedCaptcha, error) {
	resp, err := t.Do(ctx, Request{Method: http.MethodGet, Path: pathCaptcha})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch captcha image: %w", err)
	}

	return p.solver.SolveImage(ctx, ImageTask{
		Body:      resp.Body,
		Numeric:   NumericAny,
		MinLength: captchaLength,
		MaxLength: captchaLength,
	})
}
