package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/venue-payments/internal/observability"
	"go.uber.org/zap"
)

// StaleResubmitter is implemented by service.WithdrawalService.
type StaleResubmitter interface {
	ResubmitStale(ctx context.Context, batchSize int32) (int, error)
}

// WithdrawalWorker resubmits withdrawals left pending by an interrupted create.
// Safe for concurrent instances thanks to FOR UPDATE SKIP LOCKED.
type WithdrawalWorker struct {
	svc          StaleResubmitter
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewWithdrawalWorker(svc StaleResubmitter) *WithdrawalWorker {
	return &WithdrawalWorker{
		svc:          svc,
		pollInterval: 30 * time.Second,
		batchSize:    10,
		stopCh:       make(chan struct{}),
	}
}

func (w *WithdrawalWorker) WithPollInterval(interval time.Duration) *WithdrawalWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

func (w *WithdrawalWorker) WithBatchSize(size int32) *WithdrawalWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks until Stop is called or ctx is canceled.
func (w *WithdrawalWorker) Start(ctx context.Context) {
	zap.L().Info("withdrawal worker starting", zap.Duration("interval", w.pollInterval), zap.Int32("batch", w.batchSize))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("withdrawal worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("withdrawal worker stop signal received")
			return
		case <-ticker.C:
			_ = w.ProcessOnce(ctx)
		}
	}
}

func (w *WithdrawalWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// ProcessOnce handles a single batch immediately.
func (w *WithdrawalWorker) ProcessOnce(ctx context.Context) error {
	n, err := w.svc.ResubmitStale(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("withdrawal", "failed")
		zap.L().Error("withdrawal resubmission failed", zap.Error(err))
		return err
	}
	observability.IncrementWorkerRun("withdrawal", "success")
	if n > 0 {
		zap.L().Info("withdrawal worker batch done", zap.Int("resubmitted", n))
	}
	return nil
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *WithdrawalWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *WithdrawalWorker) String() string {
	return fmt.Sprintf("WithdrawalWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
