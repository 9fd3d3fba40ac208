// Package fastly implements the one CDN operation publication needs:
// purge-by-surrogate-key. A purge invalidates every cached object
// stamped with an edition's surrogate key without touching sibling
// paths.
package fastly

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/envutil"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/httpx"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
)

type Client interface {
	PurgeKey(ctx context.Context, surrogateKey string) error
}

type Config struct {
	ServiceID  string
	APIKey     string
	BaseURL    string
	SoftPurge  bool
	Timeout    time.Duration
	MaxRetries int
}

func ConfigFromEnv() Config {
	timeoutSec := envutil.Int("FASTLY_TIMEOUT_SECONDS", 30)
	maxRetries := envutil.Int("FASTLY_MAX_RETRIES", 4)

	return Config{
		ServiceID:  strings.TrimSpace(os.Getenv("FASTLY_SERVICE_ID")),
		APIKey:     strings.TrimSpace(os.Getenv("FASTLY_KEY")),
		BaseURL:    strings.TrimSpace(os.Getenv("FASTLY_BASE_URL")),
		SoftPurge:  envutil.Bool("FASTLY_SOFT_PURGE", false),
		Timeout:    time.Duration(timeoutSec) * time.Second,
		MaxRetries: maxRetries,
	}
}

// Configured reports whether the environment names a Fastly service at
// all; when it does not, publication runs in degraded mode and skips
// cache invalidation.
func Configured() bool {
	cfg := ConfigFromEnv()
	return cfg.ServiceID != "" && cfg.APIKey != ""
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	return New(log, ConfigFromEnv())
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg.ServiceID = strings.TrimSpace(cfg.ServiceID)
	if cfg.ServiceID == "" {
		return nil, fmt.Errorf("missing FASTLY_SERVICE_ID")
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing FASTLY_KEY")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.fastly.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 4
	}

	return &client{
		log:        log.With("client", "FastlyClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
	}, nil
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
	maxRetries int
}

type purgeResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

func (c *client) PurgeKey(ctx context.Context, surrogateKey string) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("fastly client unavailable")
	}
	surrogateKey = strings.TrimSpace(surrogateKey)
	if surrogateKey == "" {
		return fmt.Errorf("fastly: surrogate key required")
	}

	endpoint := fmt.Sprintf("%s/service/%s/purge/%s",
		c.cfg.BaseURL,
		url.PathEscape(c.cfg.ServiceID),
		url.PathEscape(surrogateKey),
	)

	out, err := c.doPurge(ctx, endpoint)
	if err != nil {
		return err
	}
	c.log.Info("purged surrogate key",
		"service_id", c.cfg.ServiceID,
		"surrogate_key", surrogateKey,
		"purge_id", out.ID,
		"soft", c.cfg.SoftPurge,
	)
	return nil
}

// ---------- HTTP / retry helpers ----------

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "fastly: <nil error>"
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 4000 {
		msg = msg[:4000] + "..."
	}
	return fmt.Sprintf("fastly http %d: %s", e.StatusCode, msg)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doPurge(ctx context.Context, endpoint string) (*purgeResponse, error) {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		out, resp, err := c.doPurgeOnce(ctx, endpoint)
		if err == nil {
			return out, nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return nil, err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("fastly purge retrying",
			"url", endpoint,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return nil, fmt.Errorf("unreachable retry loop")
}

func (c *client) doPurgeOnce(ctx context.Context, endpoint string) (*purgeResponse, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Fastly-Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if c.cfg.SoftPurge {
		req.Header.Set("Fastly-Soft-Purge", "1")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resp, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out purgeResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, resp, fmt.Errorf("fastly decode error: %w; raw=%s", err, string(raw))
		}
	}
	return &out, resp, nil
}
