// Package scheduler gates the single automatic report of a page lifecycle: it
// polls the resolution pass until the amounts look populated or a timeout
// passes, then fires exactly once.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bondai/universal-reporter/internal/payload"
	"github.com/bondai/universal-reporter/pkg/logger"
	"github.com/bondai/universal-reporter/pkg/metrics"
)

const (
	DefaultInterval = 120 * time.Millisecond
	DefaultTimeout  = 2 * time.Second
)

type State int

const (
	StateIdle State = iota
	StatePolling
	StateSent
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateSent:
		return "sent"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Trigger says why the scheduler fired.
type Trigger string

const (
	TriggerReady   Trigger = "ready"
	TriggerTimeout Trigger = "timeout"
)

// ProbeFunc runs one full resolution pass.
type ProbeFunc func(ctx context.Context) payload.Record

// ReadyFunc decides whether a probed record is worth sending before the timeout.
type ReadyFunc func(rec payload.Record) bool

// FireFunc performs the send. It runs on its own goroutine with a context that
// is not cancelled with the polling context.
type FireFunc func(ctx context.Context, trigger Trigger)

type Params struct {
	Interval time.Duration
	Timeout  time.Duration
	Probe    ProbeFunc
	Ready    ReadyFunc
	Fire     FireFunc
	Logger   *logger.Logger
	Metrics  *metrics.ReporterMetrics
}

type Scheduler struct {
	interval time.Duration
	timeout  time.Duration
	probe    ProbeFunc
	ready    ReadyFunc
	fire     FireFunc
	logg     *logger.Logger
	metrics  *metrics.ReporterMetrics

	mu    sync.Mutex
	state State
	done  chan struct{}
}

func New(p Params) (*Scheduler, error) {
	if p.Probe == nil {
		return nil, fmt.Errorf("probe required")
	}
	if p.Fire == nil {
		return nil, fmt.Errorf("fire required")
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ready := p.Ready
	if ready == nil {
		ready = AmountPopulated
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Scheduler{
		interval: interval,
		timeout:  timeout,
		probe:    p.Probe,
		ready:    ready,
		fire:     p.Fire,
		logg:     logg,
		metrics:  p.Metrics,
		done:     make(chan struct{}),
	}, nil
}

// AmountPopulated is the default readiness check: a positive offer amount.
// Zero-total purchases are sent by the timeout instead.
func AmountPopulated(rec payload.Record) bool {
	return rec.OfferAmount.IsPositive()
}

// Start begins polling. It returns false, doing nothing, unless the scheduler
// is still idle, so competing start paths cannot produce a second send.
func (s *Scheduler) Start(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return false
	}
	s.state = StatePolling
	s.mu.Unlock()

	go s.run(ctx, time.Now())
	return true
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the scheduler reaches a terminal state.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) run(ctx context.Context, started time.Time) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	polls := 0
	for {
		rec := s.probe(ctx)
		polls++
		elapsed := time.Since(started)
		switch {
		case s.ready(rec):
			s.finish(ctx, TriggerReady, elapsed, polls)
			return
		case elapsed >= s.timeout:
			s.finish(ctx, TriggerTimeout, elapsed, polls)
			return
		}

		select {
		case <-ctx.Done():
			s.abandon(ctx)
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) finish(ctx context.Context, trigger Trigger, elapsed time.Duration, polls int) {
	s.mu.Lock()
	s.state = StateSent
	close(s.done)
	s.mu.Unlock()

	s.metrics.ObserveWait(string(trigger), elapsed)
	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"trigger":    string(trigger),
		"elapsed_ms": elapsed.Milliseconds(),
		"polls":      polls,
	}), "scheduler firing")

	go s.fire(context.WithoutCancel(ctx), trigger)
}

func (s *Scheduler) abandon(ctx context.Context) {
	s.mu.Lock()
	s.state = StateAbandoned
	close(s.done)
	s.mu.Unlock()
	s.logg.Debug(ctx, "scheduler abandoned before sending")
}
