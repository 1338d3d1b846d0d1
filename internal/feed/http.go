package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"github.com/tathienbao/trailbot/internal/types"
)

// HTTPSource fetches the planner table as CSV over HTTP, e.g. a published
// spreadsheet export URL.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates a planner source backed by an HTTP CSV endpoint.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &HTTPSource{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch downloads and parses the planner export.
func (s *HTTPSource) Fetch(ctx context.Context) (Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Table{}, &types.FeedError{Op: "request", Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Table{}, &types.FeedError{
			Op:  "fetch",
			Err: fmt.Errorf("%w: %v", types.ErrFeedUnavailable, err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Table{}, &types.FeedError{
			Op:  "fetch",
			Err: fmt.Errorf("%w: status %d", types.ErrFeedUnavailable, resp.StatusCode),
		}
	}

	reader := csv.NewReader(resp.Body)
	reader.FieldsPerRecord = -1

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
func (s *HTTPSource) Name() string {
	return "http"
}
