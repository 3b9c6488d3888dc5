package megafon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Account is a subscriber login pair.
type Account struct {
	Login    string
	Password string
}

// BalanceResult is the outcome of one account check.
type BalanceResult struct {
	Login   string
	Balance *Answer
	Error   error
	Fatal   bool
}

// ServiceFactory builds a Service over a fresh transport. Every task gets
// its own, so no two logins share a cookie jar.
type ServiceFactory func(proxyURL string) (*Service, error)

const defaultTaskRetries = 3

type batchWorker struct {
	id     string
	logger Logger
}

// BatchRunner checks the balance of many accounts with a fixed number of workers.
type BatchRunner struct {
	workerCount  int
	factory      ServiceFactory
	proxies      *ProxyPool
	logger       Logger
	staggerDelay time.Duration
	maxRetries   int

	workChan    chan Account
	resultsChan chan BalanceResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	fatalOnce   sync.Once
	fatalErr    error
	stopped     atomic.Bool
}

// NewBatchRunner creates a runner. proxies may be nil for direct connections.
func NewBatchRunner(workerCount int, factory ServiceFactory, proxies *ProxyPool, staggerDelay time.Duration, logger Logger) (*BatchRunner, error) {
	if workerCount <= 0 {
		return nil, &ConfigurationError{Reason: "worker count must be positive"}
	}
	if factory == nil {
		return nil, &ConfigurationError{Reason: "service factory required"}
	}
	if logger == nil {
		logger = NopLogger()
	}

	return &BatchRunner{
		workerCount:  workerCount,
		factory:      factory,
		proxies:      proxies,
		logger:       logger,
		staggerDelay: staggerDelay,
		maxRetries:   defaultTaskRetries,
		workChan:     make(chan Account, workerCount*2),
		resultsChan:  make(chan BalanceResult, workerCount*2),
	}, nil
}

func generateWorkerID() string {
	return uuid.New().String()[:8]
}

// workerLogger tags every line with the worker ID.
type workerLogger struct {
	id   string
	base Logger
}

func (w *workerLogger) with(args []any) []any {
	return append([]any{"worker", w.id}, args...)
}

func (w *workerLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	w.base.DebugContext(ctx, msg, w.with(args)...)
}

func (w *workerLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	w.base.InfoContext(ctx, msg, w.with(args)...)
}

func (w *workerLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	w.base.WarnContext(ctx, msg, w.with(args)...)
}

// Start launches the workers. It must be called before Submit.
func (b *BatchRunner) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)

	for i := range b.workerCount {
		id := generateWorkerID()
		w := &batchWorker{id: id, logger: &workerLogger{id: id, base: b.logger}}

		b.wg.Add(1)
		go b.runWorker(b.ctx, w)

		if b.staggerDelay > 0 && i < b.workerCount-1 {
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(b.staggerDelay):
			}
		}
	}
}

func (b *BatchRunner) handleFatalError(err error) {
	b.fatalOnce.Do(func() {
		b.fatalErr = err
		b.stopped.Store(true)
		b.logger.WarnContext(b.ctx, "fatal error, stopping all workers", "error", err)

		b.cancel()

		select {
		case b.resultsChan <- BalanceResult{Fatal: true, Error: err}:
		default:
		}
	})
}

func (b *BatchRunner) runWorker(ctx context.Context, w *batchWorker) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case acc, ok := <-b.workChan:
			if !ok {
				return
			}

			result, fatal := b.process(ctx, w, acc)
			if fatal {
				return
			}
			select {
			case b.resultsChan <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

// process checks one account, retrying network failures on another proxy.
// It reports true when the batch has been stopped.
func (b *BatchRunner) process(ctx context.Context, w *batchWorker, acc Account) (BalanceResult, bool) {
	for attempt := 0; ; attempt++ {
		if b.stopped.Load() {
			return BalanceResult{}, true
		}

		w.logger.InfoContext(ctx, "checking account", "login", acc.Login, "attempt", attempt+1)
		balance, err := b.checkBalance(ctx, w, acc)
		if err == nil {
			return BalanceResult{Login: acc.Login, Balance: balance}, false
		}

		if IsFatalError(err) {
			b.handleFatalError(err)
			return BalanceResult{}, true
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return BalanceResult{}, true
		}

		if IsRetryableError(err) && attempt < b.maxRetries {
			w.logger.WarnContext(ctx, "network error, retrying on a new transport",
				"login", acc.Login, "attempt", attempt+1, "max", b.maxRetries, "error", err)
			continue
		}

		return BalanceResult{Login: acc.Login, Error: err}, false
	}
}

func (b *BatchRunner) checkBalance(ctx context.Context, w *batchWorker, acc Account) (*Answer, error) {
	var proxyURL string
	if b.proxies != nil {
		var idx int
		proxyURL, idx = b.proxies.Random()
		w.logger.DebugContext(ctx, "using proxy", "proxy", b.proxies.DisplayAt(idx))
	}

	svc, err := b.factory(proxyURL)
	if err != nil {
		return nil, err
	}
	if _, err := svc.Authenticate(ctx, acc.Login, acc.Password, ""); err != nil {
		return nil, err
	}
	return svc.Balance(ctx)
}

// Submit queues an account. It returns false before Start and once the
// batch has stopped.
func (b *BatchRunner) Submit(acc Account) bool {
	if b.ctx == nil || b.stopped.Load() {
		return false
	}
	select {
	case b.workChan <- acc:
		return true
	case <-b.ctx.Done():
		return false
	}
}

// Results returns the results channel. It is closed by Close.
func (b *BatchRunner) Results() <-chan BalanceResult {
	return b.resultsChan
}

// Close stops accepting work, waits for the workers and closes Results.
// Call it from the goroutine that submits.
func (b *BatchRunner) Close() {
	close(b.workChan)
	b.wg.Wait()
	close(b.resultsChan)
	if b.cancel != nil {
		b.cancel()
	}
}

// Err returns the fatal error that stopped the batch, if any.
// Only valid after Results has been drained.
func (b *BatchRunner) Err() error {
	return b.fatalErr
}

// WorkerCount returns the number of workers.
func (b *BatchRunner) WorkerCount() int {
	return b.workerCount
}
