package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dispatch is the callback the worker loop invokes for each dequeued
// item; normally bound to the orchestrator (spec §4.3).
type Dispatch func(ctx context.Context, item Item)

// Worker runs the single-process background loop described in spec
// §4.2: sweep expired leases, dequeue up to capacity, dispatch, sleep.
type Worker struct {
	svc               *Service
	dispatch          Dispatch
	maxConcurrent     int
	dequeueBatch      int
	pollInterval      time.Duration
	processingTimeout time.Duration
	logger            *zap.Logger

	mu       sync.Mutex
	inFlight int
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewWorker builds a worker. maxConcurrent bounds how many dispatched
// tasks may be in flight at once; dequeueBatch caps how many items are
// claimed per loop iteration.
func NewWorker(svc *Service, dispatch Dispatch, maxConcurrent, dequeueBatch int, pollInterval, processingTimeout time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if dequeueBatch < 1 {
		dequeueBatch = 5
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		svc:               svc,
		dispatch:          dispatch,
		maxConcurrent:     maxConcurrent,
		dequeueBatch:      dequeueBatch,
		pollInterval:      pollInterval,
		processingTimeout: processingTimeout,
		logger:            logger.Named("queue.worker"),
	}
}

// Start begins the background processing loop (spec §4.2
// "startBackgroundProcessing").
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.run(loopCtx)
}

// Stop ends the background loop and waits for the in-flight iteration
// to finish (spec §4.2 "stopBackgroundProcessing").
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if n, err := w.svc.SweepExpiredLeases(w.processingTimeout); err != nil {
		w.logger.Error("sweep expired leases failed", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("swept expired leases", zap.Int("count", n))
	}

	w.mu.Lock()
	capacity := w.maxConcurrent - w.inFlight
	w.mu.Unlock()
	if capacity <= 0 {
		return
	}
	if capacity > w.dequeueBatch {
		capacity = w.dequeueBatch
	}

	for i := 0; i < capacity; i++ {
		item, err := w.svc.Dequeue()
		if err != nil {
			w.logger.Error("dequeue failed", zap.Error(err))
			return
		}
		if item == nil {
			return
		}

		w.mu.Lock()
		w.inFlight++
		w.mu.Unlock()

		go func(it Item) {
			defer func() {
				w.mu.Lock()
				w.inFlight--
				w.mu.Unlock()
			}()
			w.dispatch(ctx, it)
		}(*item)
	}
}
