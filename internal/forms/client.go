// Package forms talks to the external form-collection server: OSM attachment
// downloads for structure outlines, and operator daily summaries used by the
// data-quality cross-check. Both are narrow data-in contracts; failures are
// reported as retryable, never fatal.
package forms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrUnavailable marks an upstream fetch that failed or timed out. The
// ingestion pipeline treats it as defer/retry, keeping the event persisted.
var ErrUnavailable = errors.New("form server unavailable")

// DailySummary is an operator's self-reported count pair for one form
// submission id.
type DailySummary struct {
	Found   int `json:"found"`
	Sprayed int `json:"sprayed"`
}

// Client wraps the form-server REST API.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	cache   *redis.Client
	log     *zap.Logger
}

const summaryCacheTTL = time.Hour

// NewClient builds a form-server client. cache may be nil (no caching).
func NewClient(baseURL, token string, cache *redis.Client, log *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30 * time.Second).
		SetRetryCount(0)
	if token != "" {
		httpClient.SetHeader("Authorization", "Token "+token)
	}
	return &Client{
		http: httpClient,
		// Attachment downloads fan out per submission; stay polite.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		cache:   cache,
		log:     log,
	}
}

// attachment mirrors the form server's _attachments entries.
type attachment struct {
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
}

// FetchOSMAttachment resolves and downloads the OSM XML attached to a
// submission. osmValue is the payload's OSM field value (the attachment
// filename). Returns (nil, nil) when the submission carries no matching
// attachment; network failures return ErrUnavailable.
func (c *Client) FetchOSMAttachment(ctx context.Context, payload map[string]any, osmValue string) ([]byte, error) {
	if osmValue == "" {
		return nil, nil
	}

	att, ok := findAttachment(payload, osmValue)
	if !ok {
		return nil, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := c.http.R().SetContext(ctx).Get(att.DownloadURL)
	if err != nil {
		c.log.Warn("osm attachment fetch failed",
			zap.String("filename", att.Filename), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case resp.StatusCode() == 404:
		return nil, nil
	case resp.IsError():
		c.log.Warn("osm attachment fetch failed",
			zap.String("filename", att.Filename), zap.Int("status", resp.StatusCode()))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	}
	return resp.Body(), nil
}

// findAttachment scans the payload's _attachments list for the entry whose
// filename matches the OSM field value. Filenames arrive both bare and
// path-qualified, so match on the basename suffix.
func findAttachment(payload map[string]any, osmValue string) (attachment, bool) {
	raw, ok := payload["_attachments"].([]any)
	if !ok {
		return attachment{}, false
	}
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		att := attachment{
			Filename:    str(m["filename"]),
			DownloadURL: str(m["download_url"]),
		}
		if att.DownloadURL == "" {
			continue
		}
		if strings.HasSuffix(att.Filename, osmValue) {
			return att, true
		}
	}
	return attachment{}, false
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// FetchDailySummary returns the operator-reported found/sprayed counts for a
// form submission id. The second return is false when no summary exists.
// Results are cached when a redis client is configured.
func (c *Client) FetchDailySummary(ctx context.Context, sprayFormID string) (DailySummary, bool, error) {
	cacheKey := "forms:daily-summary:" + sprayFormID
	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, cacheKey).Result(); err == nil {
			var s DailySummary
			if err := json.Unmarshal([]byte(cached), &s); err == nil {
				return s, true, nil
			}
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return DailySummary{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var s DailySummary
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("spray_form_id", sprayFormID).
		SetResult(&s).
		Get("/daily-summaries")
	if err != nil {
		return DailySummary{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case resp.StatusCode() == 404:
		return DailySummary{}, false, nil
	case resp.IsError():
		return DailySummary{}, false, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	}

	if c.cache != nil {
		if buf, err := json.Marshal(s); err == nil {
			if err := c.cache.Set(ctx, cacheKey, buf, summaryCacheTTL).Err(); err != nil {
				c.log.Debug("daily summary cache write failed", zap.Error(err))
			}
		}
	}
	return s, true, nil
}
