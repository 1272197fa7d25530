package metering

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"lucledger/internal/config"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/billing/meterevent"
)

// StripeBackend 通过 Billing Meter Events API 上报
type StripeBackend struct {
	cfg    config.StripeConfig
	client meterevent.Client
}

func NewStripeBackend(cfg config.StripeConfig, httpClient *http.Client) *StripeBackend {
	backendCfg := &stripe.BackendConfig{
		// 重复提交由 Identifier 去重
		MaxNetworkRetries: stripe.Int64(2),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelWarn},
	}
	if cfg.APIBase != "" {
		backendCfg.URL = stripe.String(cfg.APIBase)
	}
	if httpClient != nil {
		backendCfg.HTTPClient = httpClient
	}
	return &StripeBackend{
		cfg: cfg,
		client: meterevent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
	}
}

func (b *StripeBackend) Name() string { return ProviderStripe }

func (b *StripeBackend) Emit(ctx context.Context, ev Event) (string, error) {
	if !b.cfg.Configured() {
		return "", ErrNotConfigured
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	params := &stripe.BillingMeterEventParams{
		EventName:  stripe.String(ev.Name),
		Identifier: stripe.String(ev.Identifier()),
		Timestamp:  stripe.Int64(ts.Unix()),
		Payload: map[string]string{
			"userId":    ev.UserID,
			"sessionId": ev.SessionID,
			"phase":     string(ev.Phase),
			"model":     ev.Model,
			"refunded":  strconv.FormatBool(ev.Refunded),
			"value":     strconv.FormatInt(ev.CostCents, 10),
			"timestamp": ts.UTC().Format(time.RFC3339Nano),
		},
	}
	params.Context = ctx

	resp, err := b.client.New(params)
	if err != nil {
		return "", err
	}
	return resp.Identifier, nil
}
