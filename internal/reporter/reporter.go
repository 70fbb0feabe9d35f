// Package reporter wires the resolution chains, scheduler and dispatcher to a
// page and decides when the single automatic report starts.
package reporter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bondai/universal-reporter/internal/dispatch"
	"github.com/bondai/universal-reporter/internal/eventlog"
	"github.com/bondai/universal-reporter/internal/page"
	"github.com/bondai/universal-reporter/internal/payload"
	"github.com/bondai/universal-reporter/internal/resolve"
	"github.com/bondai/universal-reporter/internal/scanner"
	"github.com/bondai/universal-reporter/internal/scheduler"
	"github.com/bondai/universal-reporter/internal/sources"
	"github.com/bondai/universal-reporter/pkg/config"
	"github.com/bondai/universal-reporter/pkg/hub"
	"github.com/bondai/universal-reporter/pkg/logger"
	"github.com/bondai/universal-reporter/pkg/metrics"
)

const (
	observerName   = "bondai-reporter"
	purchaseEvent  = "purchase"
	landingCookie  = "bondai_mid"
	landingStorage = "bondai_mid"
	landingMaxAge  = 30 * 24 * time.Hour
)

var receiptMarkers = []string{"thank", "receipt", "order", "success", "checkout"}

type Params struct {
	Config config.ReporterConfig
	Page   *page.Page
	// Transport defaults to an HTTP transport built from Config.
	Transport dispatch.Transport
	OnStatus  dispatch.StatusFunc
	Scanner   scanner.Func
	Logger    *logger.Logger
	Metrics   *metrics.ReporterMetrics
}

// Reporter serves one page lifecycle.
type Reporter struct {
	cfg        config.ReporterConfig
	page       *page.Page
	resolver   *resolve.Resolver
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler
	logg       *logger.Logger
	metrics    *metrics.ReporterMetrics

	startOnce    sync.Once
	sawPurchase  atomic.Bool
	lastDispatch atomic.Pointer[dispatch.Result]
}

// Snapshot is what one resolution pass produced.
type Snapshot struct {
	Identifier       string          `json:"mid"`
	IdentifierSource sources.Source  `json:"mid_source,omitempty"`
	IdentifierValid  bool            `json:"mid_looks_valid"`
	Amounts          payload.Amounts `json:"-"`
	Branch           resolve.Branch  `json:"branch"`
	Payload          payload.Record  `json:"payload"`
}

func New(p Params) (*Reporter, error) {
	if p.Page == nil {
		return nil, fmt.Errorf("page required")
	}
	cfg := p.Config.WithDefaults()
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}

	transport := p.Transport
	if transport == nil {
		client, err := hub.NewClient(cfg.APIEndpoint, cfg.APIKey, hub.WithTimeout(cfg.RequestTimeout))
		if err != nil {
			return nil, fmt.Errorf("build transport: %w", err)
		}
		transport = dispatch.NewHTTPTransport(client)
	}

	r := &Reporter{
		cfg:  cfg,
		page: p.Page,
		resolver: resolve.New(resolve.Params{
			Config:  cfg,
			Scanner: p.Scanner,
			Logger:  logg,
		}),
		dispatcher: dispatch.New(dispatch.Params{
			Transport: transport,
			OnStatus:  p.OnStatus,
			Logger:    logg,
			Metrics:   p.Metrics,
		}),
		logg:    logg,
		metrics: p.Metrics,
	}

	sched, err := scheduler.New(scheduler.Params{
		Interval: cfg.PollInterval,
		Timeout:  cfg.ReadyTimeout,
		Probe:    func(ctx context.Context) payload.Record { return r.Debug(ctx).Payload },
		Fire:     func(ctx context.Context, _ scheduler.Trigger) { r.SendNow(ctx) },
		Logger:   logg,
		Metrics:  p.Metrics,
	})
	if err != nil {
		return nil, err
	}
	r.scheduler = sched
	return r, nil
}

// Start arms the automatic flow. Without an API key it does nothing. Calling it
// more than once has no further effect.
func (r *Reporter) Start(ctx context.Context) {
	r.startOnce.Do(func() { r.start(r.logg.WithPageID(ctx, r.page.ID())) })
}

func (r *Reporter) start(ctx context.Context) {
	if strings.TrimSpace(r.cfg.APIKey) == "" {
		r.logg.Warn(ctx, "missing api key; automatic reporting disabled")
		return
	}

	r.page.Events().Subscribe(observerName, func(entries []eventlog.Entry) {
		r.observe(ctx, entries)
	})

	if r.cfg.SendImmediately {
		r.scheduler.Start(ctx)
		return
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-r.page.Ready():
		}
		r.onReady(ctx)
	}()
}

func (r *Reporter) observe(ctx context.Context, entries []eventlog.Entry) {
	for _, entry := range entries {
		if !strings.EqualFold(entry.Event(), purchaseEvent) {
			continue
		}
		r.sawPurchase.Store(true)
		// A purchase push starts the send in manual mode too; mode only gates
		// the page-ready path.
		if r.scheduler.Start(ctx) {
			r.logg.Debug(ctx, "purchase event started the scheduler")
		}
		return
	}
}

func (r *Reporter) onReady(ctx context.Context) {
	if r.cfg.IsManual() {
		return
	}
	if LooksLikeReceipt(r.page.URL()) || r.sawPurchase.Load() {
		r.scheduler.Start(ctx)
		return
	}
	r.logg.Info(ctx, "auto mode idle; call SendNow to force a report")
}

// SendNow resolves afresh and dispatches one record, or reports a missing
// identifier without touching the network.
func (r *Reporter) SendNow(ctx context.Context) dispatch.Result {
	ctx = r.logg.WithPageID(ctx, r.page.ID())
	ident, ok := r.resolver.Identifier(ctx, r.page)
	if !ok {
		res := r.dispatcher.Reject(ctx, dispatch.MissingIdentifier())
		r.lastDispatch.Store(&res)
		return res
	}
	r.metrics.IncResolution("identifier", string(ident.Source))
	identifier := ident.String()
	if !payload.IdentifierLooksValid(identifier) {
		r.logg.Warn(r.logg.WithIdentifier(ctx, identifier), "identifier format looks unusual")
	}

	amounts, branch := r.resolver.Amounts(ctx, r.page)
	r.metrics.IncResolution("amounts", string(branch))
	rec := payload.Build(identifier, amounts)

	r.logg.Debug(r.logg.WithFields(ctx, map[string]any{
		"branch":               string(branch),
		"offer_amount":         rec.OfferAmount.StringFixed(2),
		"offer_savings_amount": rec.OfferSavingsAmount.StringFixed(2),
	}), "sending payload")

	res := r.dispatcher.Dispatch(ctx, rec)
	r.lastDispatch.Store(&res)
	return res
}

// Debug runs one resolution pass without sending.
func (r *Reporter) Debug(ctx context.Context) Snapshot {
	ident, _ := r.resolver.Identifier(ctx, r.page)
	amounts, branch := r.resolver.Amounts(ctx, r.page)
	identifier := ident.String()
	return Snapshot{
		Identifier:       identifier,
		IdentifierSource: ident.Source,
		IdentifierValid:  payload.IdentifierLooksValid(identifier),
		Amounts:          amounts,
		Branch:           branch,
		Payload:          payload.Build(identifier, amounts),
	}
}

// CaptureLanding persists an identifier found in the landing URL so that a
// later receipt page can resolve it from the cookie or storage.
func (r *Reporter) CaptureLanding(ctx context.Context) bool {
	mid := strings.TrimSpace(r.page.Query().Get(r.cfg.IdentifierQueryKey))
	if mid == "" {
		return false
	}
	r.page.SetCookie(landingCookie, mid, landingMaxAge)
	if err := r.page.LocalStorage().SetItem(landingStorage, mid); err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "could not persist identifier to storage")
	}
	r.logg.Info(r.logg.WithIdentifier(ctx, mid), "landing identifier captured")
	return true
}

// State exposes the scheduler state.
func (r *Reporter) State() scheduler.State {
	return r.scheduler.State()
}

// Done is closed when the automatic flow has fired or was abandoned.
func (r *Reporter) Done() <-chan struct{} {
	return r.scheduler.Done()
}

// LastResult returns the most recent dispatch result, if any.
func (r *Reporter) LastResult() (dispatch.Result, bool) {
	res := r.lastDispatch.Load()
	if res == nil {
		return dispatch.Result{}, false
	}
	return *res, true
}

// LooksLikeReceipt matches URLs of order confirmation pages.
func LooksLikeReceipt(rawURL string) bool {
	u := strings.ToLower(rawURL)
	for _, marker := range receiptMarkers {
		if strings.Contains(u, marker) {
			return true
		}
	}
	return false
}
