// Package ingest fetches reference ET, rainfall and forecasts from external sources.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lox/vinewater/internal/metrics"
	"github.com/lox/vinewater/internal/models"
)

// ETRequest describes the ET series wanted for a point.
type ETRequest struct {
	Latitude     float64
	Longitude    float64
	Start        time.Time
	End          time.Time
	Model        string // OpenET model, e.g. "Ensemble"
	Interval     string // "daily"
	CIMISStation int    // 0 when the block has no station
}

// FetchResult carries what a fetch observed, for ingest auditing.
type FetchResult struct {
	Source       string
	Endpoint     string
	HTTPStatus   int
	ResponseSize int
	RecordCount  int
	ParseErrors  int
	ParseError   string
	Error        error
}

// ETSource is a feed of daily reference ET.
type ETSource interface {
	Name() string
	FetchET(ctx context.Context, req ETRequest) (*models.ETSeries, *FetchResult, error)
}

var ErrNoETData = errors.New("source returned no ET data")

// retryMaxElapsed bounds how long a single fetch keeps retrying.
var retryMaxElapsed = 2 * time.Minute

// Chain tries each source in order and returns the first series with data.
// The winning source's tag is carried on the series.
type Chain struct {
	sources []ETSource
}

func NewChain(sources ...ETSource) *Chain {
	var live []ETSource
	for _, s := range sources {
		if s != nil {
			live = append(live, s)
		}
	}
	return &Chain{sources: live}
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) FetchET(ctx context.Context, req ETRequest) (*models.ETSeries, *FetchResult, error) {
	var errs []error
	var last *FetchResult
	for _, src := range c.sources {
		start := time.Now()
		series, result, err := src.FetchET(ctx, req)
		metrics.ETFetchLatency.WithLabelValues(src.Name()).Observe(time.Since(start).Seconds())
		last = result
		if err == nil && (series == nil || len(series.Records) == 0) {
			err = ErrNoETData
		}
		if err != nil {
			metrics.ETFetchTotal.WithLabelValues(src.Name(), "error").Inc()
			log.Printf("ingest: %s: %v", src.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		metrics.ETFetchTotal.WithLabelValues(src.Name(), "success").Inc()
		return series, result, nil
	}
	if len(errs) == 0 {
		return nil, last, errors.New("no ET sources configured")
	}
	return nil, last, errors.Join(errs...)
}

// fetchWithRetry performs the request built by newReq, retrying rate limits and
// server errors with exponential backoff. Other failures are permanent.
func fetchWithRetry(ctx context.Context, client *http.Client, result *FetchResult, newReq func() (*http.Request, error)) ([]byte, error) {
	var body []byte
	operation := func() error {
		req, err := newReq()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("%s: %w", result.Endpoint, err)
		}
		defer resp.Body.Close()

		result.HTTPStatus = resp.StatusCode
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		result.ResponseSize = len(b)

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("%s: status %d", result.Endpoint, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("%s: status %d: %s", result.Endpoint, resp.StatusCode, truncateBody(b, 200)))
		}
		body = b
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		result.Error = err
		return nil, err
	}
	return body, nil
}

func truncateBody(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
