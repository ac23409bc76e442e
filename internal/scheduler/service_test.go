package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/services"
)

type countingScanner struct {
	scans  atomic.Int32
	sweeps atomic.Int32
	panic  bool
}

func (c *countingScanner) Scan(context.Context, time.Time) services.ScanResult {
	c.scans.Add(1)
	if c.panic {
		panic("scan exploded")
	}
	return services.ScanResult{Sent: 1}
}

func (c *countingScanner) Sweep(context.Context, time.Time) (int, error) {
	c.sweeps.Add(1)
	return 0, nil
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestStartRejectsInvalidSchedule(t *testing.T) {
	t.Parallel()
	s := New(Config{ScanSpec: "every now and then"}, &countingScanner{}, discard)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reminder scan schedule")
}

func TestDefaultsAndManualRun(t *testing.T) {
	t.Parallel()
	scanner := &countingScanner{}
	s := New(Config{Timezone: "Not/AZone"}, scanner, discard)
	assert.Equal(t, "@hourly", s.cfg.ScanSpec)
	assert.Equal(t, "@daily", s.cfg.SweepSpec)
	assert.Equal(t, time.UTC, s.loadLocation())

	assert.Equal(t, 1, s.RunScan(context.Background()).Sent)
	s.RunSweep(context.Background())
	assert.Equal(t, int32(1), scanner.sweeps.Load())
}

func TestCronDrivesJobsAndSurvivesPanics(t *testing.T) {
	t.Parallel()
	scanner := &countingScanner{panic: true}
	s := New(Config{ScanSpec: "@every 1s", SweepSpec: "@every 1s", Timezone: "UTC"}, scanner, discard)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return scanner.scans.Load() >= 2 && scanner.sweeps.Load() >= 1
	}, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}
