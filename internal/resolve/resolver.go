// Package resolve runs the identifier and amount priority chains over a page.
package resolve

import (
	"context"
	"encoding/json"
	"math"
	"strconv"

	"github.com/bondai/universal-reporter/internal/money"
	"github.com/bondai/universal-reporter/internal/payload"
	"github.com/bondai/universal-reporter/internal/scanner"
	"github.com/bondai/universal-reporter/internal/sources"
	"github.com/bondai/universal-reporter/pkg/config"
	"github.com/bondai/universal-reporter/pkg/logger"
)

// Branch names the amount-chain branch that owned an outcome.
type Branch string

const (
	BranchConfiguredEvents Branch = "configured_events"
	BranchCommonEvents     Branch = "common_events"
	BranchSelectors        Branch = "selectors"
	BranchHeuristic        Branch = "heuristic"
)

var (
	commonIdentifierEventKeys = []string{"member_partner_key", "mid"}
	identifierQueryFallbacks  = []string{"member", "memberId", "ref"}
	identifierCookieNames     = []string{"bondai_mid", "mid"}
	identifierStorageKeys     = []string{"bondai_mid", "mid", "member_partner_key"}

	commonAmountEventKeys   = []string{"transactionTotal", "value", "purchase.value"}
	commonDiscountEventKeys = []string{"totalDiscounts", "purchase.discount", "discount"}
)

const (
	bodySelector      = "body"
	bodyIdentifierKey = "data-mid"
)

type Params struct {
	Config  config.ReporterConfig
	Scanner scanner.Func
	Logger  *logger.Logger
}

// Resolver is stateless between calls; every pass reads the page afresh.
type Resolver struct {
	cfg  config.ReporterConfig
	scan scanner.Func
	logg *logger.Logger
}

func New(p Params) *Resolver {
	scan := p.Scanner
	if scan == nil {
		scan = scanner.Scan
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Resolver{cfg: p.Config.WithDefaults(), scan: scan, logg: logg}
}

// Identifier walks the fixed priority list and returns the first value found.
// Format is not checked here.
func (r *Resolver) Identifier(ctx context.Context, env sources.Env) (sources.Value, bool) {
	steps := []func() (sources.Value, bool){
		func() (sources.Value, bool) {
			if r.cfg.IdentifierEventKey == "" {
				return sources.Value{}, false
			}
			return sources.EventLog(env, r.cfg.IdentifierEventKey)
		},
		func() (sources.Value, bool) { return sources.EventLog(env, commonIdentifierEventKeys...) },
		func() (sources.Value, bool) {
			keys := append([]string{r.cfg.IdentifierQueryKey}, identifierQueryFallbacks...)
			return sources.Query(env, keys...)
		},
		func() (sources.Value, bool) { return sources.Cookie(env, identifierCookieNames...) },
		func() (sources.Value, bool) { return sources.Storage(env, identifierStorageKeys...) },
		func() (sources.Value, bool) { return sources.Attr(env, bodySelector, bodyIdentifierKey) },
	}
	for _, step := range steps {
		v, ok := step()
		if ok && truthy(v.Raw) {
			return v, true
		}
	}
	r.logg.Debug(ctx, "no identifier source produced a value")
	return sources.Value{}, false
}

// truthy rejects empty strings, false and zero or NaN numbers so the chain
// moves on to the next source instead of sending "0" or "false".
func truthy(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	case float64:
		return v != 0 && !math.IsNaN(v)
	case float32:
		return v != 0 && !math.IsNaN(float64(v))
	case int:
		return v != 0
	case int64:
		return v != 0
	case int32:
		return v != 0
	case json.Number:
		f, err := strconv.ParseFloat(string(v), 64)
		return err != nil || (f != 0 && !math.IsNaN(f))
	default:
		return true
	}
}

// Amounts picks the first branch whose configuration precondition holds and
// lets it own the outcome even when its values are empty.
func (r *Resolver) Amounts(ctx context.Context, env sources.Env) (payload.Amounts, Branch) {
	if r.cfg.HasAmountEventMapping() {
		var amount, discount any
		if r.cfg.AmountEventKey != "" {
			if v, ok := sources.EventLog(env, r.cfg.AmountEventKey); ok {
				amount = v.Raw
			}
		}
		if r.cfg.DiscountEventKey != "" {
			if v, ok := sources.EventLog(env, r.cfg.DiscountEventKey); ok {
				discount = v.Raw
			}
		}
		return normalized(amount, discount), BranchConfiguredEvents
	}

	amountVal, amountOK := sources.EventLog(env, commonAmountEventKeys...)
	discountVal, discountOK := sources.EventLog(env, commonDiscountEventKeys...)
	if amountOK || discountOK {
		return normalized(amountVal.Raw, discountVal.Raw), BranchCommonEvents
	}

	if r.cfg.HasSelectors() {
		var amount, discount any
		if v, ok := sources.Text(env, r.cfg.TotalSelector); ok {
			amount = v.Raw
		}
		if v, ok := sources.Text(env, r.cfg.DiscountSelector); ok {
			discount = v.Raw
		}
		return normalized(amount, discount), BranchSelectors
	}

	doc, err := env.Document()
	if err != nil {
		r.logg.Debug(ctx, "document unavailable for heuristic scan")
		return payload.Amounts{}, BranchHeuristic
	}
	guess := r.scan(doc)
	var amount, discount any
	if guess.Total.Found {
		amount = guess.Total.Value
	}
	if guess.Discount.Found {
		discount = guess.Discount.Value
	}
	return normalized(amount, discount), BranchHeuristic
}

func normalized(amount, discount any) payload.Amounts {
	return payload.Amounts{Amount: money.Normalize(amount), Discount: money.Normalize(discount)}
}
