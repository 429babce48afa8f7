// Package socrata fetches restaurant inspection rows from the NYC open-data
// (Socrata SODA) endpoint one page at a time.
package socrata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"

	"abceats/config"
	"abceats/metrics"
	"abceats/models"
	"abceats/utils"
)

// Client handles paged requests against the inspection dataset
type Client struct {
	cfg         config.SourceConfig
	httpClient  *http.Client
	logger      *utils.Logger
	rateLimiter *utils.RateLimiter
	metrics     *metrics.Metrics
}

// NewClient creates a Client. A nil metrics value disables instrumentation.
func NewClient(cfg config.SourceConfig, logger *utils.Logger, m *metrics.Metrics) *Client {
	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      logger.Named("socrata"),
		rateLimiter: utils.NewRateLimiter(cfg.RequestInterval),
		metrics:     m,
	}
}

// PageSize is the number of rows requested per page
func (c *Client) PageSize() int {
	return c.cfg.PageSize
}

// FetchPage returns up to limit rows starting at offset, ordered by camis.
// Transient failures are retried at the same offset; the returned error is a
// *FetchError once retries are exhausted, or the context error on cancellation.
func (c *Client) FetchPage(ctx context.Context, offset, limit int) ([]models.InspectionRecord, error) {
	if limit <= 0 {
		limit = c.cfg.PageSize
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var rows []models.InspectionRecord
	attempts := 0
	policy := utils.RetryPolicy{
		MaxRetries: c.cfg.MaxRetries,
		Delay:      c.cfg.RetryDelay,
		Retryable: func(err error) bool {
			var fe *FetchError
			return errors.As(err, &fe) && fe.Retryable()
		},
		OnRetry: func(int, error) { c.metrics.FetchRetried() },
	}

	err := utils.Retry(ctx, policy, func(ctx context.Context) error {
		attempts++
		var err error
		rows, err = c.fetchOnce(ctx, offset, limit)
		return err
	}, c.logger)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch page at offset %d: %w", offset, ctx.Err())
		}
		var fe *FetchError
		if errors.As(err, &fe) {
			fe.Attempts = attempts
			c.metrics.FetchFailed(string(fe.Kind))
			return nil, fe
		}
		return nil, err
	}

	c.metrics.PageFetched(len(rows))
	c.logger.Debug("Fetched %d rows at offset %d", len(rows), offset)
	return rows, nil
}

func (c *Client) pageURL(offset, limit int) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("$limit", strconv.Itoa(limit))
	q.Set("$offset", strconv.Itoa(offset))
	q.Set("$order", "camis")
	q.Set("$select", strings.Join(models.SelectColumns, ","))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) fetchOnce(ctx context.Context, offset, limit int) ([]models.InspectionRecord, error) {
	pageURL, err := c.pageURL(offset, limit)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Offset: offset, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Offset: offset, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	if c.cfg.AppToken != "" {
		req.Header.Set("X-App-Token", c.cfg.AppToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classifyTransport(err), Offset: offset, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{
			Kind:       KindStatus,
			Offset:     offset,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(snippet))),
		}
	}

	var rows []models.InspectionRecord
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		kind := KindDecode
		var netErr net.Error
		if errors.As(err, &netErr) {
			kind = classifyTransport(err)
		}
		return nil, &FetchError{Kind: kind, Offset: offset, Err: err}
	}
	return rows, nil
}

func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindOffline
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return KindOffline
	}
	return KindNetwork
}
