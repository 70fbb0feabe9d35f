package scenarios

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bondai/universal-reporter/internal/dispatch"
	"github.com/bondai/universal-reporter/internal/page"
	"github.com/bondai/universal-reporter/internal/payload"
	"github.com/bondai/universal-reporter/internal/reporter"
	"github.com/bondai/universal-reporter/pkg/config"
	"github.com/bondai/universal-reporter/pkg/hub"
	"github.com/bondai/universal-reporter/pkg/logger"
	"github.com/bondai/universal-reporter/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 4
	resultGrace        = 2 * time.Second
)

type RunnerParams struct {
	// Config is the base reporter configuration; each scenario overlays its
	// attributes and forces an immediate send.
	Config      config.ReporterConfig
	Concurrency int
	Logger      *logger.Logger
	Metrics     *metrics.ReporterMetrics
}

type Runner struct {
	cfg         config.ReporterConfig
	concurrency int
	logg        *logger.Logger
	metrics     *metrics.ReporterMetrics
}

// Outcome is the verdict for one scenario.
type Outcome struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Passed   bool            `json:"passed"`
	Result   dispatch.Result `json:"result"`
	Record   *payload.Record `json:"payload,omitempty"`
	Problems []string        `json:"problems,omitempty"`
	Elapsed  time.Duration   `json:"elapsed_ns"`
}

func NewRunner(p RunnerParams) *Runner {
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Runner{
		cfg:         p.Config.WithDefaults(),
		concurrency: concurrency,
		logg:        logg,
		metrics:     p.Metrics,
	}
}

// Run executes every scenario and returns outcomes in input order. The error is
// non-nil only when ctx ends before all scenarios finish.
func (r *Runner) Run(ctx context.Context, list []Scenario) ([]Outcome, error) {
	outcomes := make([]Outcome, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, s := range list {
		i, s := i, s
		g.Go(func() error {
			out, err := r.runOne(gctx, s)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", s.ID, err)
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func (r *Runner) runOne(ctx context.Context, s Scenario) (Outcome, error) {
	ctx = r.logg.WithField(ctx, "scenario", s.ID)
	started := time.Now()

	env := newEnv()
	if s.Prime != nil {
		s.Prime(env)
	}

	cfg := r.cfg.ApplyAttributes(s.Attrs)
	cfg.SendImmediately = true
	cfg.Mode = config.ModeAuto
	if env.key != nil {
		cfg.APIKey = *env.key
	}
	if env.endpoint != "" {
		cfg.APIEndpoint = env.endpoint
	}

	p, err := page.New(env.pageOptions())
	if err != nil {
		return Outcome{}, err
	}
	for _, c := range env.cookies {
		p.SetCookie(c.name, c.value, c.maxAge)
	}

	client, err := hub.NewClient(cfg.APIEndpoint, cfg.APIKey, hub.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		return Outcome{}, err
	}
	transport := &recordingTransport{next: dispatch.NewHTTPTransport(client)}

	results := make(chan dispatch.Result, 1)
	rep, err := reporter.New(reporter.Params{
		Config:    cfg,
		Page:      p,
		Transport: transport,
		OnStatus: func(res dispatch.Result) {
			select {
			case results <- res:
			default:
			}
		},
		Logger:  r.logg,
		Metrics: r.metrics,
	})
	if err != nil {
		return Outcome{}, err
	}

	rep.Start(ctx)
	var timers []*time.Timer
	for _, action := range env.later {
		action := action
		timers = append(timers, time.AfterFunc(action.after, func() { action.do(p) }))
	}
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	wait := time.NewTimer(cfg.ReadyTimeout + cfg.RequestTimeout + resultGrace)
	defer wait.Stop()

	out := Outcome{ID: s.ID, Label: s.Label}
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-wait.C:
		out.Problems = append(out.Problems, "no status reported")
	case out.Result = <-results:
	}
	out.Record = transport.last()
	out.Problems = append(out.Problems, check(s.Expect, out.Result, out.Record)...)
	out.Passed = len(out.Problems) == 0
	out.Elapsed = time.Since(started)

	if out.Passed {
		r.logg.Info(ctx, "scenario passed")
	} else {
		r.logg.Warn(r.logg.WithField(ctx, "problems", out.Problems), "scenario failed")
	}
	return out, nil
}

func check(want Expectation, res dispatch.Result, rec *payload.Record) []string {
	var problems []string
	if res.OK != want.OK {
		problems = append(problems, fmt.Sprintf("ok=%t, want %t", res.OK, want.OK))
	}
	if want.AmountMin == nil && want.DiscountMax == nil {
		return problems
	}
	if rec == nil {
		return append(problems, "no payload was sent")
	}
	if want.AmountMin != nil && rec.OfferAmount.LessThan(*want.AmountMin) {
		problems = append(problems, fmt.Sprintf("offer_amount %s below %s", rec.OfferAmount.StringFixed(2), want.AmountMin.StringFixed(2)))
	}
	if want.DiscountMax != nil && rec.OfferSavingsAmount.GreaterThan(*want.DiscountMax) {
		problems = append(problems, fmt.Sprintf("offer_savings_amount %s above %s", rec.OfferSavingsAmount.StringFixed(2), want.DiscountMax.StringFixed(2)))
	}
	return problems
}

// recordingTransport remembers the last record handed to the network.
type recordingTransport struct {
	next dispatch.Transport

	mu  sync.Mutex
	rec *payload.Record
}

func (t *recordingTransport) Send(ctx context.Context, rec payload.Record) (hub.Response, error) {
	t.mu.Lock()
	t.rec = &rec
	t.mu.Unlock()
	return t.next.Send(ctx, rec)
}

func (t *recordingTransport) last() *payload.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec
}

// Summary counts passed scenarios.
func Summary(outcomes []Outcome) (passed, total int) {
	for _, o := range outcomes {
		if o.Passed {
			passed++
		}
	}
	return passed, len(outcomes)
}
