package metering

import (
	"context"
	"net/http"
	"time"

	"lucledger/internal/config"
	"lucledger/internal/metrics"
	"lucledger/internal/model"
	"lucledger/internal/repository"

	log "github.com/sirupsen/logrus"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultEventName = "token_usage"
)

// Result 一次上报的最终结果
type Result struct {
	OK              bool
	Provider        string
	ProviderEventID *string
	Error           string
}

// Reporter 按首选后端上报，失败时可依次回退到其它已配置后端。
// 每次尝试都会写一条 MeterEvent 审计记录，Report 从不返回错误。
type Reporter struct {
	backends  []Backend
	preferred string
	fallback  bool
	timeout   time.Duration
	eventName string
	repo      repository.MeterEventRepositoryInterface
}

// NewReporter 只注册已配置的后端
func NewReporter(cfg config.MeteringConfig, repo repository.MeterEventRepositoryInterface, httpClient *http.Client) *Reporter {
	var backends []Backend
	if cfg.Cloudflare.Configured() {
		backends = append(backends, NewCloudflareBackend(cfg.Cloudflare, httpClient))
	}
	if cfg.Stripe.Configured() {
		backends = append(backends, NewStripeBackend(cfg.Stripe, httpClient))
	}
	return NewReporterWithBackends(cfg, repo, backends...)
}

func NewReporterWithBackends(cfg config.MeteringConfig, repo repository.MeterEventRepositoryInterface, backends ...Backend) *Reporter {
	r := &Reporter{
		backends:  backends,
		preferred: cfg.Provider,
		fallback:  cfg.Fallback,
		timeout:   cfg.Timeout,
		eventName: cfg.EventName,
		repo:      repo,
	}
	if r.preferred == "" {
		r.preferred = ProviderCloudflare
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	if r.eventName == "" {
		r.eventName = defaultEventName
	}
	return r
}

// Backends 返回已注册后端名称
func (r *Reporter) Backends() []string {
	names := make([]string, 0, len(r.backends))
	for _, b := range r.backends {
		names = append(names, b.Name())
	}
	return names
}

// attemptOrder 首选后端在前；开启回退时其余后端按注册顺序排在后面
func (r *Reporter) attemptOrder() []Backend {
	var order []Backend
	for _, b := range r.backends {
		if b.Name() == r.preferred {
			order = append(order, b)
		}
	}
	if r.fallback {
		for _, b := range r.backends {
			if b.Name() != r.preferred {
				order = append(order, b)
			}
		}
	}
	return order
}

func (r *Reporter) Report(ctx context.Context, ev Event) Result {
	if ev.Name == "" {
		ev.Name = r.eventName
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Model == "" {
		ev.Model = model.UnknownValue
	}

	order := r.attemptOrder()
	if len(order) == 0 {
		provider := ProviderNone
		errMsg := "no metering backend configured"
		if len(r.backends) > 0 {
			provider = r.preferred
			errMsg = ErrNotConfigured.Error()
		}
		metrics.MeterReportsTotal.WithLabelValues(provider, "skipped").Inc()
		log.WithFields(log.Fields{"sessionId": ev.SessionID, "phase": ev.Phase}).
			Debugf("metering: %s, event recorded locally", errMsg)
		r.audit(ctx, ev, provider, nil, errMsg)
		return Result{Provider: provider, Error: errMsg}
	}

	var result Result
	for i, b := range order {
		id, err := r.attempt(ctx, b, ev)
		if err != nil {
			log.WithFields(log.Fields{
				"sessionId": ev.SessionID,
				"phase":     ev.Phase,
				"provider":  b.Name(),
				"attempt":   i + 1,
			}).Warnf("metering: report failed: %v", err)
			metrics.MeterReportsTotal.WithLabelValues(b.Name(), "error").Inc()
			r.audit(ctx, ev, b.Name(), nil, err.Error())
			result = Result{Provider: b.Name(), Error: err.Error()}
			continue
		}

		var providerEventID *string
		if id != "" {
			providerEventID = &id
		}
		metrics.MeterReportsTotal.WithLabelValues(b.Name(), "ok").Inc()
		r.audit(ctx, ev, b.Name(), providerEventID, "")
		return Result{OK: true, Provider: b.Name(), ProviderEventID: providerEventID}
	}
	return result
}

func (r *Reporter) attempt(ctx context.Context, b Backend, ev Event) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	id, err := b.Emit(attemptCtx, ev)
	metrics.MeterReportDuration.WithLabelValues(b.Name()).Observe(time.Since(start).Seconds())
	if err == nil && attemptCtx.Err() != nil {
		err = attemptCtx.Err()
	}
	return id, err
}

func (r *Reporter) audit(ctx context.Context, ev Event, provider string, providerEventID *string, errMsg string) {
	if r.repo == nil {
		return
	}
	row := &model.MeterEvent{
		SessionID:       ev.SessionID,
		UserID:          ev.UserID,
		Phase:           ev.Phase,
		Model:           ev.Model,
		Refunded:        ev.Refunded,
		ValueCents:      ev.CostCents,
		Provider:        provider,
		ProviderEventID: providerEventID,
		Error:           errMsg,
	}
	if err := r.repo.Create(ctx, row); err != nil {
		log.Errorf("metering: failed to write audit row for session %s: %v", ev.SessionID, err)
	}
}
