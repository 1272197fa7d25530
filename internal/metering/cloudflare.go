package metering

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lucledger/internal/config"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const maxErrorBody = 512

// CloudflareBackend 上报到 Cloudflare billing meter
type CloudflareBackend struct {
	cfg    config.CloudflareConfig
	client *http.Client
}

func NewCloudflareBackend(cfg config.CloudflareConfig, client *http.Client) *CloudflareBackend {
	if client == nil {
		client = &http.Client{Transport: NewRetryTransport(nil, DefaultRetryConfig())}
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.cloudflare.com/client/v4"
	}
	return &CloudflareBackend{cfg: cfg, client: client}
}

func (b *CloudflareBackend) Name() string { return ProviderCloudflare }

func (b *CloudflareBackend) endpoint() string {
	return fmt.Sprintf("%s/accounts/%s/billing/meters/%s/events",
		strings.TrimRight(b.cfg.APIBase, "/"),
		url.PathEscape(b.cfg.AccountID),
		url.PathEscape(b.cfg.MeterID))
}

func (b *CloudflareBackend) Emit(ctx context.Context, ev Event) (string, error) {
	if !b.cfg.Configured() {
		return "", ErrNotConfigured
	}
	body, err := cloudflareBody(ev)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint(), strings.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(respBody)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return "", fmt.Errorf("cloudflare meter returned %d: %s", resp.StatusCode, snippet)
	}

	result := gjson.GetBytes(respBody, "result")
	for _, key := range []string{"id", "event_id"} {
		if id := result.Get(key).String(); id != "" {
			return id, nil
		}
	}
	return "", nil
}

func cloudflareBody(ev Event) (string, error) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	body := `{}`
	var err error
	set := func(path string, value interface{}) {
		if err == nil {
			body, err = sjson.Set(body, path, value)
		}
	}
	set("event", ev.Name)
	set("timestamp", ts.UTC().Format(time.RFC3339Nano))
	set("value", ev.CostCents)
	set("dimensions.userId", ev.UserID)
	set("dimensions.sessionId", ev.SessionID)
	set("dimensions.phase", string(ev.Phase))
	set("dimensions.model", ev.Model)
	set("dimensions.refunded", ev.Refunded)
	return body, err
}
