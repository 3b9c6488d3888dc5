// Package anticaptcha solves image captchas through services speaking the
// createTask/getTaskResult JSON protocol (anti-captcha.com, 2captcha, CapSolver).
package anticaptcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/valyala/fasthttp"

	"megafon"
)

// Provider base URLs.
const (
	AntiCaptcha = "https://api.anti-captcha.com"
	TwoCaptcha  = "https://api.2captcha.com"
	CapSolver   = "https://api.capsolver.com"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultSolveTimeout   = 120 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

var errNotReady = errors.New("captcha not ready")

// Providers maps the names accepted on the command line to base URLs.
var Providers = map[string]string{
	"anti-captcha": AntiCaptcha,
	"2captcha":     TwoCaptcha,
	"capsolver":    CapSolver,
}

// TaskResponse is the envelope of both createTask and getTaskResult.
type TaskResponse struct {
	ErrorID          int             `json:"errorId"`
	ErrorCode        string          `json:"errorCode"`
	ErrorDescription string          `json:"errorDescription"`
	TaskID           json.RawMessage `json:"taskId"`
	Status           string          `json:"status"`
	Solution         struct {
		Text string `json:"text"`
	} `json:"solution"`
}

// APIError is an error reported by the solving service itself.
type APIError struct {
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anticaptcha error: %s - %s", e.Code, e.Description)
}

var fatalCaptchaCodes = []string{
	"ERROR_ZERO_BALANCE",
	"ERROR_KEY_DOES_NOT_EXIST",
	"ERROR_WRONG_USER_KEY",
	"ERROR_IP_NOT_ALLOWED",
	"ERROR_IP_BANNED",
	"ERROR_ACCOUNT_SUSPENDED",
}

func isFatalCaptchaError(errorCode string) bool {
	return slices.Contains(fatalCaptchaCodes, errorCode)
}

func handleAPIError(res *TaskResponse) error {
	err := &APIError{Code: res.ErrorCode, Description: res.ErrorDescription}
	if isFatalCaptchaError(res.ErrorCode) {
		return megafon.NewFatalError(err)
	}
	return err
}

// Client talks to one solving service.
type Client struct {
	apiKey         string
	baseURL        string
	httpClient     *fasthttp.Client
	pollInterval   time.Duration
	solveTimeout   time.Duration
	requestTimeout time.Duration
}

type Option func(*Client)

// WithBaseURL selects the provider, AntiCaptcha by default.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

func WithHTTPClient(hc *fasthttp.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithSolveTimeout bounds createTask plus all polling.
func WithSolveTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.solveTimeout = d
	}
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:         apiKey,
		baseURL:        AntiCaptcha,
		httpClient:     &fasthttp.Client{},
		pollInterval:   defaultPollInterval,
		solveTimeout:   defaultSolveTimeout,
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func imageTaskData(task megafon.ImageTask) map[string]any {
	data := map[string]any{
		"type": "ImageToTextTask",
		"body": base64.StdEncoding.EncodeToString(task.Body),
	}
	if task.Numeric != megafon.NumericAny {
		data["numeric"] = int(task.Numeric)
	}
	if task.MinLength > 0 {
		data["minLength"] = task.MinLength
	}
	if task.MaxLength > 0 {
		data["maxLength"] = task.MaxLength
	}
	return data
}

// SolveImage submits task and waits for its text.
func (c *Client) SolveImage(ctx context.Context, task megafon.ImageTask) (megafon.SolvedCaptcha, error) {
	ctx, cancel := context.WithTimeout(ctx, c.solveTimeout)
	defer cancel()

	res, err := c.Solve(ctx, imageTaskData(task))
	if err != nil {
		return nil, fmt.Errorf("image captcha: %w", err)
	}
	if res.Solution.Text == "" {
		return nil, errors.New("image captcha: no text in solution")
	}
	return megafon.SolvedCode(res.Solution.Text), nil
}

// Solve creates a task and polls until it is ready.
func (c *Client) Solve(ctx context.Context, taskData map[string]any) (*TaskResponse, error) {
	res, err := c.createTask(ctx, taskData)
	if err != nil {
		return nil, err
	}
	if res.ErrorID != 0 {
		return nil, handleAPIError(res)
	}
	// CapSolver answers image tasks synchronously.
	if res.Status == "ready" {
		return res, nil
	}

	return c.pollResult(ctx, res.TaskID)
}

func (c *Client) createTask(ctx context.Context, taskData map[string]any) (*TaskResponse, error) {
	return c.request(ctx, "/createTask", map[string]any{
		"clientKey": c.apiKey,
		"task":      taskData,
	})
}

func (c *Client) pollResult(ctx context.Context, taskID json.RawMessage) (*TaskResponse, error) {
	var result *TaskResponse

	backoff := retry.NewConstant(c.pollInterval)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := c.request(ctx, "/getTaskResult", map[string]any{
			"clientKey": c.apiKey,
			"taskId":    taskID,
		})
		if err != nil {
			return err
		}
		if res.ErrorID != 0 {
			return handleAPIError(res)
		}
		if res.Status != "ready" {
			return retry.RetryableError(errNotReady)
		}
		result = res
		return nil
	})
	if err != nil {
		if errors.Is(err, errNotReady) || errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.New("solve timeout")
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) request(ctx context.Context, path string, payload any) (*TaskResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	release := func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(c.requestTimeout)
	ctxDeadline := false
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline, ctxDeadline = d, true
	}

	// fasthttp has no context support; req and resp belong to the request
	// goroutine until it reports back.
	done := make(chan error, 1)
	go func() { done <- c.httpClient.DoDeadline(req, resp, deadline) }()

	select {
	case <-ctx.Done():
		go func() {
			<-done
			release()
		}()
		return nil, fmt.Errorf("%s: %w", path, ctx.Err())
	case err = <-done:
	}
	defer release()

	if err != nil {
		// Running out of the solve budget mid-request is the context's deadline.
		if ctxDeadline && errors.Is(err, fasthttp.ErrTimeout) {
			err = context.DeadlineExceeded
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", path, code)
	}

	var res TaskResponse
	if err := json.Unmarshal(resp.Body(), &res); err != nil {
		return nil, fmt.Errorf("%s: failed to parse response: %w", path, err)
	}
	return &res, nil
}
