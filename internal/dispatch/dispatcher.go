// Package dispatch delivers attribution records and reports every outcome to
// an optional status callback.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/bondai/universal-reporter/internal/payload"
	pkgerrors "github.com/bondai/universal-reporter/pkg/errors"
	"github.com/bondai/universal-reporter/pkg/hub"
	"github.com/bondai/universal-reporter/pkg/logger"
	"github.com/bondai/universal-reporter/pkg/metrics"
)

const (
	OutcomeOK           = "ok"
	OutcomeFailed       = "failed"
	OutcomeRejected     = "rejected"
	OutcomeNetworkError = "network_error"
)

// Transport delivers one record. A returned error means no response arrived.
type Transport interface {
	Send(ctx context.Context, rec payload.Record) (hub.Response, error)
}

// StatusFunc receives every Result.
type StatusFunc func(Result)

type Params struct {
	Transport Transport
	OnStatus  StatusFunc
	Logger    *logger.Logger
	Metrics   *metrics.ReporterMetrics
}

type Dispatcher struct {
	transport Transport
	onStatus  StatusFunc
	logg      *logger.Logger
	metrics   *metrics.ReporterMetrics
}

func New(p Params) *Dispatcher {
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Dispatcher{transport: p.Transport, onStatus: p.OnStatus, logg: logg, metrics: p.Metrics}
}

// Dispatch calls the transport exactly once and never returns an error: every
// failure is folded into the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, rec payload.Record) Result {
	ctx = d.logg.WithIdentifier(ctx, rec.Identifier)
	if d.transport == nil {
		err := pkgerrors.New(pkgerrors.CodeConfiguration, "no transport configured")
		d.logg.Error(ctx, "dispatch skipped", err)
		return d.notify(ctx, NetworkError(err), OutcomeNetworkError)
	}

	resp, err := d.transport.Send(ctx, rec)
	if err != nil {
		d.logg.Warn(d.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "report delivery failed")
		return d.notify(ctx, NetworkError(unwrapCause(err)), OutcomeNetworkError)
	}

	res := Interpret(resp)
	outcome := OutcomeOK
	if !res.OK {
		outcome = OutcomeFailed
		d.logg.Warn(d.logg.WithField(ctx, "status", resp.StatusCode), "report rejected by endpoint")
	} else {
		d.logg.Info(d.logg.WithField(ctx, "status", resp.StatusCode), "report delivered")
	}
	return d.notify(ctx, res, outcome)
}

// Reject reports a failed send without any transport call.
func (d *Dispatcher) Reject(ctx context.Context, details ...ErrorDetail) Result {
	d.logg.Warn(ctx, "report not sent")
	return d.notify(ctx, Result{Errors: details}, OutcomeRejected)
}

func (d *Dispatcher) notify(ctx context.Context, res Result, outcome string) Result {
	if res.Errors == nil {
		res.Errors = []ErrorDetail{}
	}
	d.metrics.IncDispatch(outcome)
	if d.onStatus != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logg.Warn(ctx, "status callback panicked")
				}
			}()
			d.onStatus(res)
		}()
	}
	return res
}

// unwrapCause strips the typed wrapper so the detail shows the transport's own
// message, the way a browser would report it.
func unwrapCause(err error) error {
	if typed := pkgerrors.As(err); typed != nil && typed.Unwrap() != nil {
		return typed.Unwrap()
	}
	return err
}

// HTTPTransport posts records as JSON through a hub client.
type HTTPTransport struct {
	client *hub.Client
}

func NewHTTPTransport(client *hub.Client) *HTTPTransport {
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) Send(ctx context.Context, rec payload.Record) (hub.Response, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return hub.Response{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal record")
	}
	return t.client.Post(ctx, body)
}
