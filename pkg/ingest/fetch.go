// Package ingest lands source extracts in the bronze tier
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
)

// Define static errors
var (
	// ErrFetch wraps failures to retrieve a source
	ErrFetch = errors.New("failed to fetch source")
	// ErrSourceRequired is returned for a dataset without a configured source
	ErrSourceRequired = errors.New("source location is required")
)

// DefaultFetchTimeout bounds a single source download
const DefaultFetchTimeout = 5 * time.Minute

//nolint:gochecknoglobals // share link pattern
var driveShareLink = regexp.MustCompile(`^https://drive\.google\.com/file/d/([^/]+)/`)

// Fetcher retrieves the raw bytes of a source
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

type fetcher struct {
	http *http.Client
}

var _ Fetcher = (*fetcher)(nil)

// NewFetcher creates a fetcher reading http(s) URLs and local paths
func NewFetcher(timeout time.Duration) Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	return &fetcher{http: &http.Client{Timeout: timeout}}
}

// DirectURL rewrites a Google Drive share link into its download URL and
// returns any other location unchanged
func DirectURL(location string) string {
	m := driveShareLink.FindStringSubmatch(location)
	if m == nil {
		return location
	}

	return fmt.Sprintf("https://drive.usercontent.google.com/download?id=%s&export=download&authuser=0&confirm=t", url.QueryEscape(m[1]))
}

func (f *fetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, ErrSourceRequired
	}

	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		data, err := os.ReadFile(strings.TrimPrefix(location, "file://"))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}

		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, DirectURL(location), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrFetch, location, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrFetch, err)
	}

	return data, nil
}
