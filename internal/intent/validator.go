// Package intent validates raw planner rows into typed trade intentions.
package intent

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/trailbot/internal/feed"
	"github.com/tathienbao/trailbot/internal/types"
)

var (
	pctMin = decimal.Zero
	pctMax = decimal.NewFromInt(100)
)

// Validate parses one planner row into a TradeIntention. It is pure: no
// I/O, no state. A *types.ValidationError names the offending field.
func Validate(row []string, idx map[string]int) (types.TradeIntention, error) {
	profile := strings.TrimSpace(feed.Cell(row, idx, "profile"))
	if profile == "" {
		return types.TradeIntention{}, &types.ValidationError{
			Field: "profile", Reason: "must not be empty",
		}
	}

	symbol := strings.ToUpper(strings.TrimSpace(feed.Cell(row, idx, "symbol")))
	if symbol == "" || !isAlpha(symbol) {
		return types.TradeIntention{}, &types.ValidationError{
			Field: "symbol", Value: symbol, Reason: "must be alphabetic",
		}
	}

	qtyCell := strings.TrimSpace(feed.Cell(row, idx, "qty"))
	qty, err := strconv.ParseInt(qtyCell, 10, 64)
	if err != nil {
		return types.TradeIntention{}, &types.ValidationError{
			Field: "qty", Value: qtyCell, Reason: "must be an integer",
		}
	}
	if qty == 0 {
		return types.TradeIntention{}, &types.ValidationError{
			Field: "qty", Value: qtyCell, Reason: "must be nonzero",
		}
	}

	trigger, err := parsePrice(feed.Cell(row, idx, "trigger price"))
	if err != nil {
		return types.TradeIntention{}, err
	}

	trailPct, err := parsePct("trailing %", feed.Cell(row, idx, "trailing %"))
	if err != nil {
		return types.TradeIntention{}, err
	}

	stopPct, err := parsePct("stop %", feed.Cell(row, idx, "stop %"))
	if err != nil {
		return types.TradeIntention{}, err
	}

	// TIF is opaque to the engine; the broker enforces its own vocabulary.
	tif := strings.TrimSpace(feed.Cell(row, idx, "tif"))
	if tif == "" {
		tif = "GTC"
	}

	key := strings.TrimSpace(feed.Cell(row, idx, feed.OptionalKeyColumn))
	if key == "" {
		key = types.DedupeKeyFor(profile, symbol)
	}

	return types.TradeIntention{
		Profile:      profile,
		Symbol:       symbol,
		SignedQty:    qty,
		TriggerPrice: trigger,
		TrailingPct:  trailPct,
		StopPct:      stopPct,
		TIF:          tif,
		DedupeKey:    key,
	}, nil
}

func parsePrice(cell string) (decimal.Decimal, error) {
	cell = strings.TrimSpace(cell)
	price, err := decimal.NewFromString(cell)
	if err != nil {
		return decimal.Zero, &types.ValidationError{
			Field: "trigger price", Value: cell, Reason: "must be a number",
		}
	}
	if !price.IsPositive() {
		return decimal.Zero, &types.ValidationError{
			Field: "trigger price", Value: cell, Reason: "must be > 0",
		}
	}
	return price, nil
}

func parsePct(field, cell string) (decimal.Decimal, error) {
	cell = strings.TrimSpace(cell)
	pct, err := decimal.NewFromString(cell)
	if err != nil {
		return decimal.Zero, &types.ValidationError{
			Field: field, Value: cell, Reason: "must be a number",
		}
	}
	if pct.LessThan(pctMin) || pct.GreaterThan(pctMax) {
		return decimal.Zero, &types.ValidationError{
			Field: field, Value: cell, Reason: "must be between 0 and 100",
		}
	}
	return pct, nil
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}
