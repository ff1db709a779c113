// Command execserv runs the test execution engine: a queue worker
// dispatches executions to the orchestrator, a monitoring loop tracks
// system health, and an HTTP surface exposes the execution façade.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qen-labs/execserv/internal/config"
	"github.com/qen-labs/execserv/internal/httpapi"
	"github.com/qen-labs/execserv/internal/monitor"
	"github.com/qen-labs/execserv/internal/orchestrator"
	"github.com/qen-labs/execserv/internal/queue"
	"github.com/qen-labs/execserv/internal/result"
	"github.com/qen-labs/execserv/internal/runner"
	"github.com/qen-labs/execserv/internal/service"
	"github.com/qen-labs/execserv/internal/state"
	"github.com/qen-labs/execserv/internal/trace"
)

func main() {
	cfg, err := config.Load(os.Getenv("EXECSERV_CONFIG_FILE"))
	if err != nil {
		panic(err)
	}

	logger := buildLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		logger.Fatal("create data dir", zap.Error(err))
	}

	traceStore, err := trace.NewStore(filepath.Join(cfg.DataDir, "trace.db"))
	if err != nil {
		logger.Fatal("open trace store", zap.Error(err))
	}
	defer traceStore.Close()

	queueStore, err := queue.NewStore(filepath.Join(cfg.DataDir, "queue.db"))
	if err != nil {
		logger.Fatal("open queue store", zap.Error(err))
	}
	defer queueStore.Close()

	monitorStore, err := monitor.NewStore(filepath.Join(cfg.DataDir, "monitor.db"))
	if err != nil {
		logger.Fatal("open monitor store", zap.Error(err))
	}
	defer monitorStore.Close()

	metrics := monitor.NewMetrics()

	stateSvc := state.New(traceStore, logger)
	queueSvc := queue.New(queueStore, logger).WithMetrics(metrics)

	registry := runner.NewRegistry(logger)
	caseLoader, suiteLoader := emptyCaseLoader{}, emptySuiteLoader{}
	processor := result.NewProcessor(&cfg)

	orch := orchestrator.New(traceStore, stateSvc, queueSvc, registry, caseLoader, suiteLoader, processor, logger)
	worker := queue.NewWorker(queueSvc, orch.Dispatch, cfg.MaxConcurrentExecutions, cfg.QueueDequeueBatch, cfg.QueuePollInterval, cfg.QueueProcessingTimeout, logger)

	monitorSvc := monitor.New(monitorStore, traceStore, queueSvc, cfg, metrics, logger)

	execSvc := service.New(traceStore, stateSvc, queueSvc, caseLoader, cfg.StepCountThreshold, logger)
	api := httpapi.New(cfg.ListenAddr, execSvc, processor, monitorSvc, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	worker.Start(ctx)
	monitorSvc.Start(ctx)

	logger.Info("starting execution engine", zap.String("addr", cfg.ListenAddr))
	go func() {
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}

	worker.Stop()
	monitorSvc.Stop()
}

func buildLogger(level string) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// emptyCaseLoader and emptySuiteLoader are placeholder external
// collaborators (spec §6: the catalog is consumed only through these
// interfaces) used until a real catalog backend is wired in.
type emptyCaseLoader struct{}

func (emptyCaseLoader) Load(id string) (*runner.TestCase, error) {
	return nil, errors.New("test case catalog not configured: " + id)
}

type emptySuiteLoader struct{}

func (emptySuiteLoader) Load(id string) (*runner.TestSuite, error) {
	return nil, errors.New("test suite catalog not configured: " + id)
}
