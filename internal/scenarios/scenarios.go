// Package scenarios is a self-test harness: each scenario primes a fresh page
// from one of the identifier, amount, timing, format, edge or failure cases and
// checks what the reporter sent.
package scenarios

import (
	"fmt"
	"html"
	"net/url"
	"time"

	"github.com/bondai/universal-reporter/internal/eventlog"
	"github.com/bondai/universal-reporter/internal/page"
	"github.com/bondai/universal-reporter/pkg/config"
	"github.com/shopspring/decimal"
)

// UnreachableEndpoint points at a local port nothing listens on.
const UnreachableEndpoint = "http://127.0.0.1:1/nowhere"

const baseURL = "https://shop.example/checkout/thank-you"

// Expectation is checked against the status callback and the sent record.
type Expectation struct {
	OK          bool
	AmountMin   *decimal.Decimal
	DiscountMax *decimal.Decimal
}

type Scenario struct {
	ID    string
	Label string
	// Attrs are script-tag attributes overlaid on the base configuration.
	Attrs  map[string]string
	Prime  func(e *Env)
	Expect Expectation
}

// Env collects the page state a scenario wants before the reporter starts.
// Later registers mutations that happen while the reporter is already polling.
type Env struct {
	query    url.Values
	cookies  []cookie
	storage  map[string]string
	events   []eventlog.Entry
	html     string
	key      *string
	endpoint string
	later    []lateAction
}

type cookie struct {
	name, value string
	maxAge      time.Duration
}

type lateAction struct {
	after time.Duration
	do    func(p *page.Page)
}

func newEnv() *Env {
	return &Env{
		query:   url.Values{},
		storage: map[string]string{},
		html:    "<html><body><main><h1>Order confirmed</h1></main></body></html>",
	}
}

func (e *Env) SetQuery(values map[string]string) {
	e.query = url.Values{}
	for k, v := range values {
		e.query.Set(k, v)
	}
}

func (e *Env) PushEvent(entry eventlog.Entry) { e.events = append(e.events, entry) }

func (e *Env) SetCookie(name, value string, days int) {
	e.cookies = append(e.cookies, cookie{name: name, value: value, maxAge: time.Duration(days) * 24 * time.Hour})
}

func (e *Env) SetStorage(key, value string) { e.storage[key] = value }

// SetTotals renders a receipt whose total and discount cells carry the
// order-total and order-discounts ids.
func (e *Env) SetTotals(total, discount string) { e.html = TotalsHTML(total, discount) }

// SetHeuristicTotals renders a receipt with labelled rows and no ids.
func (e *Env) SetHeuristicTotals(total, discount string) { e.html = HeuristicHTML(total, discount) }

func (e *Env) SetKey(key string) { e.key = &key }

func (e *Env) SetEndpoint(endpoint string) { e.endpoint = endpoint }

func (e *Env) Later(after time.Duration, do func(p *page.Page)) {
	e.later = append(e.later, lateAction{after: after, do: do})
}

func (e *Env) pageOptions() page.Options {
	u := baseURL
	if len(e.query) > 0 {
		u += "?" + e.query.Encode()
	}
	events := eventlog.New(e.events...)
	return page.Options{
		URL:    u,
		HTML:   e.html,
		Local:  page.NewMemoryStorage(e.storage),
		Events: events,
	}
}

func TotalsHTML(total, discount string) string {
	return fmt.Sprintf(`<html><body><main><section class="summary"><table>
<tr><td>Total</td><td id="order-total">%s</td></tr>
<tr><td>Discount</td><td id="order-discounts">%s</td></tr>
</table></section></main></body></html>`, html.EscapeString(total), html.EscapeString(discount))
}

func HeuristicHTML(total, discount string) string {
	return fmt.Sprintf(`<html><body><main><section class="summary"><table>
<tr><td>Grand total</td><td>%s</td></tr>
<tr><td>Coupon savings</td><td>%s</td></tr>
</table></section></main></body></html>`, html.EscapeString(total), html.EscapeString(discount))
}

func amount(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

var (
	eventAttrs = map[string]string{
		config.AttrAmountEventKey:   "transactionTotal",
		config.AttrDiscountEventKey: "totalDiscounts",
	}
	selectorAttrs = map[string]string{
		config.AttrTotalSelector:    "#order-total",
		config.AttrDiscountSelector: "#order-discounts",
	}
)

func purchase() eventlog.Entry {
	return eventlog.Entry{"event": "purchase", "transactionTotal": 79.99, "totalDiscounts": 10.0}
}

// Default returns the built-in scenario list in its canonical order.
func Default() []Scenario {
	return []Scenario{
		{
			ID: "mid_url", Label: "MID via URL (?mid=)",
			Prime: func(e *Env) {
				e.SetQuery(map[string]string{"mid": "BAURLMID1234567890"})
				e.SetTotals("$79.99", "$10.00")
			},
			Expect: Expectation{OK: true},
		},
		{
			ID: "mid_dl", Label: "MID via event log (member_partner_key)",
			Prime: func(e *Env) {
				e.PushEvent(eventlog.Entry{"member_partner_key": "BADLMEMBER12345678"})
				e.SetTotals("$79.99", "$10.00")
			},
			Expect: Expectation{OK: true},
		},
		{
			ID: "mid_cookie", Label: "MID via cookie (bondai_mid)",
			Prime: func(e *Env) {
				e.SetCookie("bondai_mid", "BACOOKIE1234567890", 30)
				e.SetTotals("$79.99", "$10.00")
			},
			Expect: Expectation{OK: true},
		},
		{
			ID: "mid_storage", Label: "MID via local storage (bondai_mid)",
			Prime: func(e *Env) {
				e.SetStorage("bondai_mid", "BASTORAGE12345678A")
				e.SetTotals("$79.99", "$10.00")
			},
			Expect: Expectation{OK: true},
		},
		{
			ID: "mid_missing", Label: "MID missing",
			Prime: func(e *Env) {
				e.SetTotals("$79.99", "$10.00")
			},
			Expect: Expectation{OK: false},
		},
		{
			ID: "mid_malformed", Label: "MID malformed",
			Prime: func(e *Env) {
				e.SetQuery(map[string]string{"mid": "NOT_A_VALID_MID"})
				e.SetTotals("$79.99", "$10.00")
			},
			Expect: Expectation{OK: true},
		},
		{
			ID: "amt_dl", Label: "Totals via event log", Attrs: eventAttrs,
			Prime: func(e *Env) {
				e.SetQuery(map[string]string{"mid": "BAAMTDL1234567890"})
				e.PushEvent(purchase())
			},
			Expect: Expectation{OK: true, AmountMin: amount("79.99"), DiscountMax: amount("10")},
		},
		{
			ID: "amt_dom_ids", Label: "Totals via DOM ids", Attrs: selectorAttrs,
			Prime: func(e *Env) {
				e.SetQuery(map[string]string{"mid": "BAAMTDOM1234567890"})
				e.SetTotals("$79.99", "$10.00")
			},
			Expect: Expectation{OK: true, AmountMin: amount("79.99"), DiscountMax: amount("10")},
		},
		{
			ID: "amt_dom_heuristic", Label: "Totals via DOM heuristic (no selectors)",
			Prime: func(e *Env) {
				e.SetQuery(map[string]string{"mid": "BAHEURIS1234567890"})
				e.SetHeuristicTotals("USD 1,234.56", "USD 34.56")
			},
			Expect: Expectation{OK: true, AmountMin: amount("1234.56"), DiscountMax: amount("34.56")},
		},
		{
			ID: "timing_dl_late", Label: "Purchase event pushed late", Attrs: eventAttrs,
			Prime: func(e *Env) {
				e.SetQuery(map[string]string{"mid": "BATIMINGDL12345678"})
				e.Later(400*time.Millisecond, func(p *page.Page) { p.Events().Push(purchase()) })
			},
			Expect: Expectation{OK: true, AmountMin: amount("79.99"), DiscountMax: amount("10")},
		},
		{
			ID: "timing_dom_late", Label: "DOM totals appear late", Attrs: selectorAttrs,
			Prime: func(e *Env) {
				e.SetQuery(map[string]string{"mid": "BATIMINGDOM1234567"})
				e.SetTotals("", "")
				e.Later(700*time.Millisecond, func(p *page.Page) { p.SetHTML(TotalsHTML("$79.99", "$10.00")) })
			},
			Expect: Expectation{OK: true, AmountMin: amount("79.99"), DiscountMax: amount("10")},
		},
		{
			ID: "fmt_us", Label: "US format 1,234.56", Attrs: selectorAttrs,
			Prime: func(e *Env) {
				e.SetQuery(map[string]string{"mid": "BAFMTUS1234567890"})
				e.SetTotals("$1,234.56", "$10.00")
			},
			Expect: Expectation{OK: true, AmountMin: amount("1234.56"), DiscountMax: amount("10")},
		},
		{
			ID: "fmt_eu", Label: "EU format 1.234,56 €", Attrs: selectorAttrs,
			Prime: func(e *Env) {
				e.SetQuery(map[string]string{"mid": "BAFMTEU1234567890"})
				e.SetTotals("1.234,56 €", "10,00 €")
			},
			Expect: Expectation{OK: true, AmountMin: amount("1234.56"), DiscountMax: amount("10")},
		},
		{
			ID: "fmt_space", Label: "Spaced 12 345,67 €", Attrs: selectorAttrs,
			Prime: func(e *Env) {
				e.SetQuery(map[string]string{"mid": "BAFMTSPACE12345678"})
				e.SetTotals("12 345,67 €", "345,67 €")
			},
			Expect: Expectation{OK: true, AmountMin: amount("12345.67"), DiscountMax: amount("345.67")},
		},
		{
			ID: "edge_zero_disc", Label: "Zero discount", Attrs: selectorAttrs,
			Prime: func(e *Env) {
				e.SetQuery(map[string]string{"mid": "BAZERODISC12345678"})
				e.SetTotals("$79.99", "0")
			},
			Expect: Expectation{OK: true, AmountMin: amount("79.99"), DiscountMax: amount("0")},
		},
		{
			ID: "edge_disc_gt_amt", Label: "Discount greater than amount (cap)", Attrs: selectorAttrs,
			Prime: func(e *Env) {
				e.SetQuery(map[string]string{"mid": "BADISCOVER12345678"})
				e.SetTotals("$10.00", "$15.00")
			},
			Expect: Expectation{OK: true, AmountMin: amount("10"), DiscountMax: amount("10")},
		},
		{
			ID: "edge_huge", Label: "Very large amount", Attrs: selectorAttrs,
			Prime: func(e *Env) {
				e.SetQuery(map[string]string{"mid": "BAHUGEAMOUNT123456"})
				e.SetTotals("$123,456,789.99", "$456.78")
			},
			Expect: Expectation{OK: true, AmountMin: amount("123456789.99"), DiscountMax: amount("456.78")},
		},
		{
			ID: "fail_invalid_key", Label: "Invalid API key",
			Prime: func(e *Env) {
				e.SetQuery(map[string]string{"mid": "BAINVALIDKEY123456"})
				e.SetTotals("$79.99", "$10.00")
				e.SetKey("INVALID_KEY")
			},
			Expect: Expectation{OK: false},
		},
		{
			ID: "fail_network", Label: "Network error (unreachable endpoint)",
			Prime: func(e *Env) {
				e.SetQuery(map[string]string{"mid": "BAFAILNETERR123456"})
				e.SetTotals("$79.99", "$10.00")
				e.SetEndpoint(UnreachableEndpoint)
			},
			Expect: Expectation{OK: false},
		},
	}
}

// Select keeps the scenarios whose ids are listed, in list order. No ids keeps
// everything.
func Select(list []Scenario, ids ...string) []Scenario {
	if len(ids) == 0 {
		return list
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []Scenario
	for _, s := range list {
		if _, ok := want[s.ID]; ok {
			out = append(out, s)
		}
	}
	return out
}
