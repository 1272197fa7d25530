package metering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lucledger/internal/model"
)

const (
	ProviderCloudflare = "cloudflare"
	ProviderStripe     = "stripe"
	ProviderNone       = "none"
)

var ErrNotConfigured = errors.New("metering backend not configured")

// Event 一次计量上报的内容，CostCents 为负数时表示退款
type Event struct {
	Name      string
	SessionID string
	UserID    string
	Phase     model.Phase
	Model     string
	CostCents int64
	Refunded  bool
	Timestamp time.Time
}

// Identifier 由事件内容派生的幂等标识，同一事件重试时保持不变
func (e Event) Identifier() string {
	id := fmt.Sprintf("luc-%s-%s", e.SessionID, e.Phase)
	if e.Refunded {
		id += "-refund"
	}
	return id
}

// Backend 外部计量服务
type Backend interface {
	Name() string
	// Emit 上报事件，返回服务端事件 ID
	Emit(ctx context.Context, ev Event) (string, error)
}
