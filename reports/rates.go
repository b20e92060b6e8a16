package reports

import (
	"fmt"
	"strings"

	"github.com/mmdatafocus/freight_backend/models"
	"github.com/mmdatafocus/freight_backend/utils"
	"github.com/shopspring/decimal"
)

// RateTable holds units of each currency per one USD.
type RateTable map[models.Currency]decimal.Decimal

func DefaultRates() RateTable {
	return RateTable{
		models.CurrencyUSD: decimal.NewFromInt(1),
		models.CurrencyTZS: decimal.NewFromInt(2600),
		models.CurrencyCNY: decimal.RequireFromString("7.2"),
	}
}

// ParseRates applies an override such as "TZS=2650,CNY=7.1" on top of the
// defaults. USD stays pinned at 1.
func ParseRates(raw string) (RateTable, error) {
	rates := DefaultRates()
	for _, pair := range utils.SplitAndTrim(raw) {
		code, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("exchange rate %q: expected CODE=rate", pair)
		}
		cur := models.Currency(strings.ToUpper(strings.TrimSpace(code)))
		if !cur.IsValid() {
			return nil, fmt.Errorf("exchange rate %q: unknown currency", pair)
		}
		rate, err := utils.ParseDecimal(value)
		if err != nil {
			return nil, fmt.Errorf("exchange rate %q: %w", pair, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("exchange rate %q: must be positive", pair)
		}
		if cur == models.CurrencyUSD && !rate.Equal(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("exchange rate %q: USD is the base currency", pair)
		}
		rates[cur] = rate
	}
	return rates, nil
}

// Snapshot returns a copy so a report keeps the rates it was computed with.
func (r RateTable) Snapshot() RateTable {
	out := make(RateTable, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (r RateTable) ToUSD(amount decimal.Decimal, cur models.Currency) (decimal.Decimal, error) {
	rate, ok := r[cur]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("no exchange rate for %s", cur)
	}
	return amount.Div(rate), nil
}
