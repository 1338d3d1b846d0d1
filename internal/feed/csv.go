package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/tathienbao/trailbot/internal/types"
)

// CSVSource reads the planner table from a local CSV file. The file is
// re-read on every fetch so edits between cycles are picked up.
type CSVSource struct {
	path string
}

// NewCSVSource creates a planner source backed by a CSV file.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Fetch reads and parses the planner file.
func (s *CSVSource) Fetch(ctx context.Context) (Table, error) {
	if err := ctx.Err(); err != nil {
		return Table{}, &types.FeedError{Op: "fetch", Err: err}
	}

	f, err := os.Open(s.path)
	if err != nil {
		return Table{}, &types.FeedError{
			Op:  "open",
			Err: fmt.Errorf("%w: %v", types.ErrFeedUnavailable, err),
		}
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // planner rows may be ragged

	records, err := reader.ReadAll()
	if err != nil {
		return Table{}, &types.FeedError{Op: "parse", Err: err}
	}

	if len(records) == 0 {
		return Table{}, &types.FeedError{
			Op:  "parse",
			Err: fmt.Errorf("%w: empty planner", types.ErrFeedUnavailable),
		}
	}

	return Table{Header: records[0], Rows: records[1:]}, nil
}

// Name returns the source identifier.
func (s *CSVSource) Name() string {
	return "csv"
}
