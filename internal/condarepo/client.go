package condarepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"time"
)

const (
	maxRetries    = 3
	clientTimeout = 60 * time.Second // repodata.json can run tens of MB
)

// Client fetches channel+subdir repodata and answers candidate-record
// lookups against it.
type Client interface {
	FetchRepodata(ctx context.Context, channel, subdir string) (*Repodata, error)
	Candidates(ctx context.Context, channel, subdir, name string) ([]NamedRecord, error)
}

// NamedRecord pairs a Record with the filename it was indexed under, since
// the build/version aren't always sufficient to reconstruct the download URL
// on their own (legacy channels omit the extension from Record.Build).
type NamedRecord struct {
	Filename string
	Record   Record
	IsConda  bool // true if sourced from "packages.conda", false if legacy "packages"
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the HTTP client used for repodata requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service fetches repodata over HTTP and caches it in memory for the
// lifetime of one command invocation, per the shared-handle design: repeated
// candidate lookups against the same (channel,subdir) reuse one fetch.
type Service struct {
	httpClient *http.Client
	logger     *slog.Logger

	cache map[string]*Repodata
}

var _ Client = (*Service)(nil)

// New creates a new condarepo client.
func New(opts ...Option) *Service {
	s := &Service{
		httpClient: &http.Client{Timeout: clientTimeout},
		logger:     slog.Default(),
		cache:      map[string]*Repodata{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// FetchRepodata fetches (or returns the cached) repodata.json for a
// channel+subdir pair.
func (s *Service) FetchRepodata(ctx context.Context, channel, subdir string) (*Repodata, error) {
	key := channel + "/" + subdir

	if rd, ok := s.cache[key]; ok {
		return rd, nil
	}

	url := fmt.Sprintf("%s/%s/repodata.json", channel, subdir)

	rd, err := s.fetch(ctx, url, key)
	if err != nil {
		return nil, err
	}

	s.cache[key] = rd

	return rd, nil
}

// Candidates returns every record in a channel+subdir matching the given
// package name, in a deterministic (filename-sorted) order so repeated
// solves over the same repodata make the same choices.
func (s *Service) Candidates(ctx context.Context, channel, subdir, name string) ([]NamedRecord, error) {
	rd, err := s.FetchRepodata(ctx, channel, subdir)
	if err != nil {
		return nil, err
	}

	var out []NamedRecord

	for filename, rec := range rd.Conda {
		if rec.Name == name {
			out = append(out, NamedRecord{Filename: filename, Record: rec, IsConda: true})
		}
	}

	for filename, rec := range rd.Packages {
		if rec.Name == name {
			out = append(out, NamedRecord{Filename: filename, Record: rec, IsConda: false})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })

	return out, nil
}

func (s *Service) fetch(ctx context.Context, url, key string) (*Repodata, error) {
	var lastErr error

	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 500 * time.Millisecond
			s.logger.Debug("retrying repodata request",
				slog.String("channel", key),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetching repodata for %s: %w", key, ctx.Err())
			case <-time.After(backoff):
			}
		}

		rd, err := s.doRequest(ctx, url)
		if err == nil {
			return rd, nil
		}

		var re *retryableError
		if !errors.As(err, &re) {
			return nil, fmt.Errorf("fetching repodata for %s: %w", key, err)
		}

		lastErr = err
		s.logger.Debug("repodata request failed",
			slog.String("channel", key),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("fetching repodata for %s after %d attempts: %w", key, maxRetries, lastErr)
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (s *Service) doRequest(ctx context.Context, url string) (*Repodata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", url, err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("requesting %s: %w", url, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("channel index not found at %s", url)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &retryableError{err: fmt.Errorf("server error %d from %s", resp.StatusCode, url)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("reading response from %s: %w", url, err)}
	}

	var rd Repodata
	if err := json.Unmarshal(body, &rd); err != nil {
		return nil, fmt.Errorf("decoding response from %s: %w", url, err)
	}

	return &rd, nil
}
