// Package relay forwards attribution records to the redemption API with the
// server-held key and normalizes every outcome into one envelope shape.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bondai/universal-reporter/pkg/config"
	"github.com/bondai/universal-reporter/pkg/db/models"
	"github.com/bondai/universal-reporter/pkg/enums"
	pkgerrors "github.com/bondai/universal-reporter/pkg/errors"
	"github.com/bondai/universal-reporter/pkg/hub"
	"github.com/bondai/universal-reporter/pkg/logger"
	"github.com/bondai/universal-reporter/pkg/metrics"
	"github.com/bondai/universal-reporter/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const MessageNetwork = "Network error while calling Bondai API."

// Submission is the attribution record as the relay validates it. Amounts are
// pointers so that a missing field fails "required" while 0 passes.
type Submission struct {
	Identifier         string   `json:"member_partner_key" validate:"required,max=128"`
	Timestamp          string   `json:"timestamp" validate:"required,datetime=2006-01-02T15:04:05.000Z"`
	OfferAmount        *float64 `json:"offer_amount" validate:"required,gte=0"`
	OfferSavingsAmount *float64 `json:"offer_savings_amount" validate:"required,gte=0"`
}

// Request carries the validated submission and the exact body to forward.
type Request struct {
	Body       []byte
	Submission Submission
	RequestID  string
	Origin     string
}

type Forwarder interface {
	Post(ctx context.Context, body []byte) (hub.Response, error)
}

type DeliveryStore interface {
	Record(ctx context.Context, delivery *models.RelayDelivery) error
}

type Params struct {
	Config config.RelayConfig
	// Forwarder defaults to a hub client built from Config when it is configured.
	Forwarder Forwarder
	Store     DeliveryStore
	Logger    *logger.Logger
	Metrics   *metrics.RelayMetrics
}

type Service struct {
	forwarder Forwarder
	store     DeliveryStore
	logg      *logger.Logger
	metrics   *metrics.RelayMetrics
	now       func() time.Time
}

func New(p Params) (*Service, error) {
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	forwarder := p.Forwarder
	if forwarder == nil && p.Config.Configured() {
		client, err := hub.NewClient(p.Config.UpstreamURL, p.Config.UpstreamKey, hub.WithTimeout(p.Config.UpstreamTimeout))
		if err != nil {
			return nil, err
		}
		forwarder = client
	}
	return &Service{
		forwarder: forwarder,
		store:     p.Store,
		logg:      logg,
		metrics:   p.Metrics,
		now:       time.Now,
	}, nil
}

// Configured is false when the upstream URL or key is missing; every request
// is then answered with a configuration error.
func (s *Service) Configured() bool {
	return s != nil && s.forwarder != nil
}

// ConfigurationMissing is the envelope returned while the relay is unconfigured.
func ConfigurationMissing() types.Envelope {
	meta := pkgerrors.MetadataFor(pkgerrors.CodeConfiguration)
	return types.Failure(meta.HTTPStatus, types.APIError{Message: meta.PublicMessage})
}

// Forward posts req.Body upstream. The envelope status mirrors the upstream
// status, or 502 when no response arrived.
func (s *Service) Forward(ctx context.Context, req Request) types.Envelope {
	if !s.Configured() {
		return ConfigurationMissing()
	}

	started := s.now()
	resp, err := s.forwarder.Post(ctx, req.Body)
	latency := s.now().Sub(started)

	var env types.Envelope
	outcome := enums.RelayOutcomeForwarded
	switch {
	case err != nil:
		outcome = enums.RelayOutcomeNetworkError
		env = types.Failure(http.StatusBadGateway, types.APIError{
			Message: MessageNetwork,
			Details: networkDetail(err),
		})
		s.metrics.ObserveForward(0, latency)
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "relay.upstream.unreachable")
	case resp.OK():
		env = types.Success(resp.StatusCode, parseBody(resp.Body))
		s.metrics.ObserveForward(resp.StatusCode, latency)
	default:
		outcome = enums.RelayOutcomeRejected
		env = types.Failure(resp.StatusCode, types.APIError{
			Message: pkgerrors.MetadataFor(pkgerrors.CodeUpstream).PublicMessage,
			Status:  resp.StatusCode,
			Data:    parseBody(resp.Body),
		})
		s.metrics.ObserveForward(resp.StatusCode, latency)
		s.logg.Warn(s.logg.WithField(ctx, "upstream_status", resp.StatusCode), "relay.upstream.rejected")
	}

	s.audit(ctx, req, env.Status, outcome, latency)
	return env
}

func (s *Service) audit(ctx context.Context, req Request, status int, outcome enums.RelayOutcome, latency time.Duration) {
	if s.store == nil {
		return
	}
	delivery := &models.RelayDelivery{
		ID:                    uuid.New(),
		RequestID:             req.RequestID,
		OriginDomain:          OriginDomain(req.Origin),
		IdentifierFingerprint: Fingerprint(req.Submission.Identifier),
		OfferAmount:           amountOf(req.Submission.OfferAmount),
		OfferSavingsAmount:    amountOf(req.Submission.OfferSavingsAmount),
		UpstreamStatus:        status,
		Outcome:               outcome,
		LatencyMS:             latency.Milliseconds(),
	}
	if err := s.store.Record(ctx, delivery); err != nil {
		s.logg.Error(s.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "relay.audit.failed", err)
	}
}

func amountOf(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v).Round(2)
}

// parseBody returns nil for an empty body, the decoded JSON when it parses and
// {"raw": text} otherwise.
func parseBody(body []byte) any {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return map[string]any{"raw": string(body)}
	}
	return parsed
}

func networkDetail(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		if cause := errors.Unwrap(typed); cause != nil {
			return cause.Error()
		}
	}
	return err.Error()
}
