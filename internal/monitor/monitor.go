package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qen-labs/execserv/internal/config"
	"github.com/qen-labs/execserv/internal/queue"
	"github.com/qen-labs/execserv/internal/trace"
)

// Service runs the periodic health-check/metrics/alert/retention loop,
// a ticker+evaluate shape applied to this domain's four health checks
// and alert rules.
type Service struct {
	store    *Store
	trace    *trace.Store
	queueSvc *queue.Service
	cfg      config.Config
	metrics  *Metrics
	logger   *zap.Logger

	ticker      *time.Ticker
	cancel      context.CancelFunc
	done        chan struct{}
	nextSweepAt time.Time

	lastHealth SystemHealth
}

// New builds a monitoring service. metrics may be nil, in which case
// NewMetrics() is used.
func New(store *Store, traceStore *trace.Store, queueSvc *queue.Service, cfg config.Config, metrics *Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Service{
		store:    store,
		trace:    traceStore,
		queueSvc: queueSvc,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.Named("monitor"),
	}
}

func (s *Service) Metrics() *Metrics { return s.metrics }

// Start begins the periodic loop at cfg.HealthCheckInterval. Idempotent.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	interval := s.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	s.ticker = time.NewTicker(interval)

	if next, err := nextRun(s.cfg.RetentionSweepSchedule, time.Now().UTC()); err == nil {
		s.nextSweepAt = next
	} else {
		s.logger.Warn("invalid retention sweep schedule, disabling sweep", zap.Error(err))
	}

	go s.run(ctx)
}

// Stop halts the loop and waits for it to exit.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	s.tick()
	for {
		select {
		case <-ctx.Done():
			s.ticker.Stop()
			return
		case <-s.ticker.C:
			s.tick()
		}
	}
}

func (s *Service) tick() {
	now := time.Now().UTC()

	health := RunHealthChecks(s.trace, s.queueSvc, s.cfg, now)
	s.lastHealth = health
	if err := s.store.RecordHealthChecks(health.Components); err != nil {
		s.logger.Error("record health checks failed", zap.Error(err))
	}

	s.evaluateAlerts(health, now)
	s.refreshActiveGauge()

	if !s.nextSweepAt.IsZero() && !now.Before(s.nextSweepAt) {
		cutoff := now.AddDate(0, 0, -s.cfg.MetricsRetentionDays)
		if err := s.store.PruneOlderThan(cutoff); err != nil {
			s.logger.Error("prune retention failed", zap.Error(err))
		}
		if next, err := nextRun(s.cfg.RetentionSweepSchedule, now); err == nil {
			s.nextSweepAt = next
		}
	}
}

// LastHealth returns the most recent health snapshot (for GET
// /system/health and GET /health to consult without recomputing).
func (s *Service) LastHealth() SystemHealth { return s.lastHealth }

// evaluateAlerts turns WARN/DOWN component health into firing alerts
// and clears them when the component recovers (spec §4.7 "Alerts").
func (s *Service) evaluateAlerts(health SystemHealth, now time.Time) {
	for _, c := range health.Components {
		id := fmt.Sprintf("component:%s", c.Component)
		if c.Status == HealthOK {
			if err := s.store.ResolveAlert(id, now); err != nil {
				s.logger.Error("resolve alert failed", zap.String("id", id), zap.Error(err))
			}
			continue
		}
		severity := "warning"
		if c.Status == HealthDown {
			severity = "critical"
		}
		alert := Alert{
			ID:       id,
			RuleType: c.Component,
			Severity: severity,
			Message:  c.Message,
			FiredAt:  now,
		}
		if err := s.store.UpsertFiringAlert(alert); err != nil {
			s.logger.Error("upsert firing alert failed", zap.String("id", id), zap.Error(err))
		}
	}
}

func (s *Service) refreshActiveGauge() {
	active, err := s.trace.GetActiveExecutions()
	if err != nil {
		s.logger.Error("load active executions for gauge failed", zap.Error(err))
		return
	}
	counts := make(map[string]int)
	for _, t := range active {
		counts[string(t.ExecutionType)]++
	}
	for execType, n := range counts {
		s.metrics.SetActiveExecutions(execType, n)
	}
}

// AcknowledgeAlert marks an alert acknowledged by a client.
func (s *Service) AcknowledgeAlert(id string) error { return s.store.AcknowledgeAlert(id) }

// ListAlerts returns recent alerts, firing and resolved.
func (s *Service) ListAlerts(limit int) ([]Alert, error) { return s.store.ListAlerts(limit) }
