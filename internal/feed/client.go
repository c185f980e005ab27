package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/klauspost/compress/gzhttp"

	"github.com/xaviermiles/web-sentiment-analysis/internal/metrics"
	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
)

// ErrFetch wraps any failure retrieving the master list or a feed file.
var ErrFetch = errors.New("fetch failed")

// DefaultMasterListURL is the GDELT v2 master file list.
const DefaultMasterListURL = "http://data.gdeltproject.org/gdeltv2/masterfilelist.txt"

const (
	defaultTimeout   = 2 * time.Minute
	maxMasterRetries = 5
)

// Client downloads the master list and feed files over HTTP.
// It is safe for concurrent use.
type Client struct {
	http          *http.Client
	masterListURL string
	log           *slog.Logger
}

// NewClient returns a Client reading the master list from masterListURL.
func NewClient(masterListURL string, logger *slog.Logger) *Client {
	if masterListURL == "" {
		masterListURL = DefaultMasterListURL
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		http:          newHTTP(),
		masterListURL: masterListURL,
		log:           logger,
	}
}

func newHTTP() *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{
		Timeout:   defaultTimeout,
		Transport: gzhttp.Transport(tr),
	}
}

// MasterList downloads the master list, retrying transient failures with
// exponential backoff.
func (c *Client) MasterList(ctx context.Context) ([]byte, error) {
	attempt := 0
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		if attempt > 0 {
			c.log.Warn("master list fetch failed, retrying", slog.Int("attempt", attempt))
		}
		attempt++
		return c.get(ctx, c.masterListURL)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxMasterRetries))
	if err != nil {
		return nil, fmt.Errorf("%w: master list: %w", ErrFetch, err)
	}
	return body, nil
}

// Fetch downloads one feed file. It makes a single attempt; retrying a
// feed is left to a later run.
func (c *Client) Fetch(ctx context.Context, ref models.FeedReference) ([]byte, error) {
	body, err := c.get(ctx, ref.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, ref.Name, err)
	}
	metrics.FetchedBytes.Add(float64(len(body)))
	return body, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}

	res, err := c.http.Do(req)
	if err != nil {
		metrics.FetchErrs.WithLabelValues("transport").Inc()
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		metrics.FetchErrs.WithLabelValues("status").Inc()
		err := fmt.Errorf("get %s: unexpected status %s", url, res.Status)
		if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		metrics.FetchErrs.WithLabelValues("read").Inc()
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}
