// Package feed handles instruction sources for the orchestration engine.
package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/tathienbao/trailbot/internal/types"
)

// RequiredColumns are the planner columns every instruction source must
// provide, matched case-insensitively after trimming.
var RequiredColumns = []string{
	"profile", "symbol", "qty", "trigger price", "trailing %", "stop %", "tif",
}

// OptionalKeyColumn, when present, overrides the implicit profile/symbol
// dedupe key for a row.
const OptionalKeyColumn = "key"

// Table is one snapshot of the instruction source: a header row plus
// ordered data rows of string cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// Index builds the header name -> column index map and verifies all
// required columns are present. A missing column is a feed-level error.
func (t Table) Index() (map[string]int, error) {
	idx := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &types.FeedError{
			Op:  "header",
			Err: fmt.Errorf("%w: %s", types.ErrMissingColumns, strings.Join(missing, ", ")),
		}
	}

	return idx, nil
}

// Cell returns the named cell of a row, or "" when the row is short.
func Cell(row []string, idx map[string]int, column string) string {
	i, ok := idx[column]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// Source defines the interface for instruction sources.
// Implementations can be local files or remote sheet exports.
type Source interface {
	// Fetch returns the current planner table. An error here is
	// feed-level: the caller aborts the cycle and retries next cadence.
	Fetch(ctx context.Context) (Table, error)

	// Name returns the source identifier (e.g., "csv", "http").
	Name() string
}
