// Package scheduler runs the reminder scan and the ledger sweep on a cron cadence.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/services"
)

// Scanner is the periodic work the scheduler drives.
type Scanner interface {
	Scan(ctx context.Context, now time.Time) services.ScanResult
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type Config struct {
	// ScanSpec and SweepSpec accept 5-field cron expressions, an optional
	// seconds field and descriptors such as "@hourly".
	ScanSpec  string
	SweepSpec string
	Timezone  string
}

type Service struct {
	cfg     Config
	log     *slog.Logger
	scanner Scanner
	parser  cron.Parser

	mu  sync.Mutex
	c   *cron.Cron
	ctx context.Context
}

func New(cfg Config, scanner Scanner, log *slog.Logger) *Service {
	if strings.TrimSpace(cfg.ScanSpec) == "" {
		cfg.ScanSpec = "@hourly"
	}
	if strings.TrimSpace(cfg.SweepSpec) == "" {
		cfg.SweepSpec = "@daily"
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		scanner: scanner,
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start registers both jobs and starts the cron loop. Jobs run detached from
// ctx cancellation so a cycle in progress is never cut short.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := s.loadLocation()
	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s.ctx = context.WithoutCancel(ctx)

	if _, err := c.AddFunc(s.cfg.ScanSpec, func() { s.RunScan(s.ctx) }); err != nil {
		return fmt.Errorf("invalid reminder scan schedule %q: %w", s.cfg.ScanSpec, err)
	}
	if _, err := c.AddFunc(s.cfg.SweepSpec, func() { s.RunSweep(s.ctx) }); err != nil {
		return fmt.Errorf("invalid ledger sweep schedule %q: %w", s.cfg.SweepSpec, err)
	}

	s.c = c
	c.Start()
	s.log.Info("scheduler started",
		slog.String("scan", s.cfg.ScanSpec),
		slog.String("sweep", s.cfg.SweepSpec),
		slog.String("tz", loc.String()),
	)
	return nil
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; jobs still running")
	}
}

// RunScan runs one reminder scan now.
func (s *Service) RunScan(ctx context.Context) services.ScanResult {
	start := time.Now()
	res := s.scanner.Scan(ctx, start)
	s.log.Debug("reminder scan job done", slog.Duration("took", time.Since(start)))
	return res
}

// RunSweep clears reminder keys of buckets that have already ended.
func (s *Service) RunSweep(ctx context.Context) {
	if _, err := s.scanner.Sweep(ctx, time.Now()); err != nil {
		s.log.Error("ledger sweep failed", slog.Any("error", err))
	}
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to UTC", slog.String("tz", tz), slog.Any("err", err))
		return time.UTC
	}
	return loc
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
