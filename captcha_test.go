package megafon

import (
	"context"
	"errors"
	"testing"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImageSolver struct {
	code  string
	err   error
	tasks []ImageTask
}

func (f *fakeImageSolver) SolveImage(_ context.Context, task ImageTask) (SolvedCaptcha, error) {
	f.tasks = append(f.tasks, task)
	if f.err != nil {
		return nil, f.err
	}
	return SolvedCode(f.code), nil
}

func TestPortalCaptcha_Resolve(t *testing.T) {
	image := "\x89PNG\r\n\x1a\nfake"
	doer := newMockDoer(mockResponse{status: http.StatusOK, body: image})
	solver := &fakeImageSolver{code: "482913"}

	solved, err := NewPortalCaptcha(solver).Resolve(context.Background(), newTestTransport(t, doer), &Response{})
	require.NoError(t, err)
	assert.Equal(t, "482913", solved.Code())

	reqs := doer.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodGet, reqs[0].Method)
	assert.Equal(t, "/mlk/auth/captcha", reqs[0].Path)

	require.Len(t, solver.tasks, 1)
	task := solver.tasks[0]
	assert.Equal(t, []byte(image), task.Body)
	assert.Equal(t, NumericAny, task.Numeric, "alphabet is left to the solver")
	assert.Equal(t, 6, task.MinLength)
	assert.Equal(t, 6, task.MaxLength)
}

func TestPortalCaptcha_ImageFetchFails(t *testing.T) {
	doer := newMockDoer(mockResponse{status: http.StatusInternalServerError})
	solver := &fakeImageSolver{}

	_, err := NewPortalCaptcha(solver).Resolve(context.Background(), newTestTransport(t, doer), &Response{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "/mlk/auth/captcha", statusErr.Path)
	assert.Empty(t, solver.tasks)
}

func TestAuthenticate_WithPortalCaptcha(t *testing.T) {
	doer := newMockDoer(
		okJSON(t, map[string]any{"code": "a211"}),
		mockResponse{status: http.StatusOK, body: "image-bytes"},
		okJSON(t, map[string]any{"code": "a212"}),
		mockResponse{status: http.StatusOK, body: "image-bytes-2"},
		okJSON(t, map[string]any{"msisdn": "9250000000"}),
	)
	solver := &fakeImageSolver{code: "123456"}
	svc := newTestService(t, NewPortalCaptcha(solver), doer)

	_, err := svc.Authenticate(context.Background(), "9250000000", "password", "")
	require.NoError(t, err)

	var paths []string
	for _, r := range doer.Requests() {
		paths = append(paths, r.Method+" "+r.Path)
	}
	assert.Equal(t, []string{
		"POST /mlk/login",
		"GET /mlk/auth/captcha",
		"POST /mlk/login",
		"GET /mlk/auth/captcha",
		"POST /mlk/login",
	}, paths)
	assert.Len(t, solver.tasks, 2)
	assert.Equal(t, []byte("image-bytes-2"), solver.tasks[1].Body)
}

func TestAuthenticate_SolverFailureStopsLogin(t *testing.T) {
	solverErr := NewFatalError(errors.New("ERROR_ZERO_BALANCE"))
	doer := newMockDoer(
		okJSON(t, map[string]any{"code": "a211"}),
		mockResponse{status: http.StatusOK, body: "image-bytes"},
	)
	svc := newTestService(t, NewPortalCaptcha(&fakeImageSolver{err: solverErr}), doer)

	_, err := svc.Authenticate(context.Background(), "9250000000", "password", "")
	assert.Same(t, solverErr, err)
	assert.True(t, IsFatalError(err))
	assert.Len(t, doer.Requests(), 2)
}
