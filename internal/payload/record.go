// Package payload builds the attribution record sent once per page lifecycle.
package payload

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/bondai/universal-reporter/internal/money"
	"github.com/shopspring/decimal"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var identifierPattern = regexp.MustCompile(`^(BA|MS)[A-Z0-9]{16}$`)

// Amounts are normalized but not yet clamped.
type Amounts struct {
	Amount   decimal.Decimal
	Discount decimal.Decimal
}

// Record is immutable once built.
type Record struct {
	Identifier         string
	Timestamp          time.Time
	OfferAmount        decimal.Decimal
	OfferSavingsAmount decimal.Decimal
}

type wireRecord struct {
	MemberPartnerKey   string      `json:"member_partner_key"`
	Timestamp          string      `json:"timestamp"`
	OfferAmount        json.Number `json:"offer_amount"`
	OfferSavingsAmount json.Number `json:"offer_savings_amount"`
}

// Build stamps the current time.
func Build(identifier string, amounts Amounts) Record {
	return BuildAt(identifier, amounts, time.Now())
}

// BuildAt clamps both amounts to be non-negative, caps the discount at the
// amount and rounds to two places.
func BuildAt(identifier string, amounts Amounts, now time.Time) Record {
	amount := clampZero(amounts.Amount).Round(money.Places)
	discount := clampZero(amounts.Discount).Round(money.Places)
	if discount.GreaterThan(amount) {
		discount = amount
	}
	return Record{
		Identifier:         identifier,
		Timestamp:          now.UTC(),
		OfferAmount:        amount,
		OfferSavingsAmount: discount,
	}
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRecord{
		MemberPartnerKey:   r.Identifier,
		Timestamp:          r.Timestamp.UTC().Format(TimestampLayout),
		OfferAmount:        json.Number(money.Format(r.OfferAmount)),
		OfferSavingsAmount: json.Number(money.Format(r.OfferSavingsAmount)),
	})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var wire wireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, wire.Timestamp)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	amount, err := decimal.NewFromString(wire.OfferAmount.String())
	if err != nil {
		return fmt.Errorf("parse offer_amount: %w", err)
	}
	savings, err := decimal.NewFromString(wire.OfferSavingsAmount.String())
	if err != nil {
		return fmt.Errorf("parse offer_savings_amount: %w", err)
	}
	*r = Record{Identifier: wire.MemberPartnerKey, Timestamp: ts.UTC(), OfferAmount: amount, OfferSavingsAmount: savings}
	return nil
}

// IdentifierLooksValid is a soft check used for diagnostics only; it never
// blocks a send.
func IdentifierLooksValid(identifier string) bool {
	return identifierPattern.MatchString(identifier)
}
