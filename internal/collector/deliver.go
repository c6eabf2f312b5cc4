package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"tools.zach/dev/freezewatch/internal/report"
)

// Request headers sent with every report.
const (
	HeaderAPIKey         = "Freezewatch-Api-Key"
	HeaderPayloadVersion = "Freezewatch-Payload-Version"
	HeaderSentAt         = "Freezewatch-Sent-At"
)

// ErrRejected is returned when the endpoint refuses a report outright
// (a 4xx other than 408/429). Retrying such a report cannot succeed.
var ErrRejected = errors.New("report rejected by endpoint")

// ///////////////////////////////////////////////
// Deliverer
// ///////////////////////////////////////////////

// DeliveryOptions configures a [Deliverer].
type DeliveryOptions struct {
	// Endpoint is the URL reports are POSTed to.
	Endpoint string
	// RetryMax is the number of retries after the first attempt.
	RetryMax int
	// Timeout bounds each attempt.
	Timeout time.Duration
	// RetryWaitMin and RetryWaitMax bound the backoff between attempts.
	// Zero keeps the retryablehttp defaults.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// ShouldNotify gates delivery by release stage. Nil delivers everything.
	ShouldNotify func(stage string) bool
}

// Deliverer posts spooled reports to the collector endpoint.
type Deliverer struct {
	client       *retryablehttp.Client
	endpoint     string
	shouldNotify func(string) bool
}

// NewDeliverer creates a Deliverer using a retrying HTTP client.
func NewDeliverer(opts DeliveryOptions) *Deliverer {
	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	client.HTTPClient.Timeout = opts.Timeout
	client.Logger = nil // suppress retryablehttp's default logging
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			slog.Debug("retrying report delivery", "url", req.URL.Redacted(), "attempt", attempt)
		}
	}

	shouldNotify := opts.ShouldNotify
	if shouldNotify == nil {
		shouldNotify = func(string) bool { return true }
	}
	return &Deliverer{client: client, endpoint: opts.Endpoint, shouldNotify: shouldNotify}
}

// Enabled reports whether an endpoint is configured.
func (d *Deliverer) Enabled() bool {
	return d.endpoint != ""
}

// Send posts e. A non-2xx answer that retries cannot fix wraps ErrRejected.
func (d *Deliverer) Send(ctx context.Context, e *report.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", e.ID, err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderPayloadVersion, strconv.Itoa(e.Version))
	req.Header.Set(HeaderSentAt, time.Now().UTC().Format(time.RFC3339))
	if e.APIKey != "" {
		req.Header.Set(HeaderAPIKey, e.APIKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post report %s: %w", e.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRejected, resp.StatusCode)
	default:
		return fmt.Errorf("post report %s: HTTP %d", e.ID, resp.StatusCode)
	}
}

// ///////////////////////////////////////////////
// Flush
// ///////////////////////////////////////////////

// FlushResult counts what a [Deliverer.Flush] did.
type FlushResult struct {
	// Sent reports were delivered and removed.
	Sent int `json:"sent"`
	// Dropped reports were unreadable or rejected and removed.
	Dropped int `json:"dropped"`
	// Held reports stay spooled because their release stage is not notified.
	Held int `json:"held"`
}

// Flush delivers every spooled report, oldest first. Delivered, rejected,
// and undecodable reports are removed; reports from release stages that are
// not notified stay in the spool. The first transient failure stops the
// flush so the remaining reports keep their order for the next attempt.
func (d *Deliverer) Flush(ctx context.Context, s *Spool) (FlushResult, error) {
	var res FlushResult
	if !d.Enabled() {
		return res, nil
	}

	names, err := s.List()
	if err != nil {
		return res, err
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		e, err := s.Load(name)
		if err != nil {
			slog.Warn("dropping unreadable report", "file", name, "error", err)
			res.Dropped++
			if rmErr := s.Remove(name); rmErr != nil {
				slog.Warn("failed to remove report", "error", rmErr)
			}
			continue
		}

		if !d.shouldNotify(e.App.ReleaseStage) {
			res.Held++
			continue
		}

		err = d.Send(ctx, e)
		switch {
		case err == nil:
			res.Sent++
			slog.Info("report delivered", "event_id", e.ID, "file", name)
		case errors.Is(err, ErrRejected):
			res.Dropped++
			slog.Warn("report rejected, dropping", "event_id", e.ID, "error", err)
		default:
			return res, err
		}
		if rmErr := s.Remove(name); rmErr != nil {
			slog.Warn("failed to remove report", "error", rmErr)
		}
	}
	return res, nil
}
