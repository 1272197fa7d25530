package model

import "time"

type Phase string

const (
	PhaseChat      Phase = "chat"
	PhaseIteration Phase = "iteration"
	PhaseComplete  Phase = "complete"
)

// Trackable 只有 chat 与 iteration 可以累计用量
func (p Phase) Trackable() bool {
	return p == PhaseChat || p == PhaseIteration
}

type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusComplete SessionStatus = "complete"
)

// 单次调用与会话计数器的 token 上限，超出部分截断
const (
	MaxTokensPerCall int64 = 1 << 40
	MaxCounterValue  int64 = 1 << 53
)

const (
	UnknownValue = "unknown"
	MixedModel   = "mixed"
)

// Session LUC 计费会话
type Session struct {
	SessionID             string        `json:"sessionId"`
	UserID                string        `json:"userId"`
	Status                SessionStatus `json:"status"`
	CurrentPhase          Phase         `json:"currentPhase"`
	PhaseTransitionAt     *time.Time    `json:"phaseTransitionAt"`
	ChatInputTokens       int64         `json:"chatInputTokens"`
	ChatOutputTokens      int64         `json:"chatOutputTokens"`
	ChatCostCents         int64         `json:"chatCostCents"`
	IterationInputTokens  int64         `json:"iterationInputTokens"`
	IterationOutputTokens int64         `json:"iterationOutputTokens"`
	IterationCostCents    int64         `json:"iterationCostCents"`
	RefundCents           *int64        `json:"refundCents"`
	TotalChargeCents      *int64        `json:"totalChargeCents"`
	FinalizedAt           *time.Time    `json:"finalizedAt"`
	CreatedAt             time.Time     `json:"createdAt"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}

func (s *Session) ChatTokens() int64 {
	return s.ChatInputTokens + s.ChatOutputTokens
}

func (s *Session) IterationTokens() int64 {
	return s.IterationInputTokens + s.IterationOutputTokens
}

func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// UsageEvent 单次 AI 调用的用量记录，只追加
type UsageEvent struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	UserID       string    `json:"userId"`
	Phase        Phase     `json:"phase"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int64     `json:"inputTokens"`
	OutputTokens int64     `json:"outputTokens"`
	TotalTokens  int64     `json:"totalTokens"`
	CostCents    int64     `json:"costCents"`
	CreatedAt    time.Time `json:"createdAt"`
}

// MeterEvent 一次外部计量上报尝试，ProviderEventID 为空表示未确认
type MeterEvent struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"sessionId"`
	UserID          string    `json:"userId"`
	Phase           Phase     `json:"phase"`
	Model           string    `json:"model"`
	Refunded        bool      `json:"refunded"`
	ValueCents      int64     `json:"valueCents"`
	Provider        string    `json:"provider"`
	ProviderEventID *string   `json:"providerEventId"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Receipt 会话结算单，每个会话只有一张
type Receipt struct {
	ReceiptID          string    `json:"receiptId"`
	SessionID          string    `json:"sessionId"`
	UserID             string    `json:"userId"`
	Phase              Phase     `json:"phase"`
	ChatTokens         int64     `json:"chatTokens"`
	IterationTokens    int64     `json:"iterationTokens"`
	ChatCostCents      int64     `json:"chatCostCents"`
	IterationCostCents int64     `json:"iterationCostCents"`
	RefundCents        int64     `json:"refundCents"`
	TotalChargeCents   int64     `json:"totalChargeCents"`
	FinalizedAt        time.Time `json:"finalizedAt"`
}

// ModelPricing 模型覆盖价格（美元/百万 token）
type ModelPricing struct {
	Model                   string    `json:"model"`
	InputCostPerMillionUSD  *float64  `json:"inputCostPerMillionUsd"`
	OutputCostPerMillionUSD *float64  `json:"outputCostPerMillionUsd"`
	Source                  string    `json:"source"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

// ========== API DTOs ==========

type InitSessionResponse struct {
	SessionID string `json:"sessionId"`
	Phase     Phase  `json:"phase"`
}

type TransitionRequest struct {
	ToPhase string `json:"toPhase"`
}

type TransitionResponse struct {
	SessionID         string     `json:"sessionId"`
	Phase             Phase      `json:"phase"`
	PhaseTransitionAt *time.Time `json:"phaseTransitionAt"`
}

// TrackRequest 已做宽松解析后的 track 请求
type TrackRequest struct {
	Provider      string
	Model         string
	InputTokens   int64
	OutputTokens  int64
	PhaseOverride string
}

type TrackResponse struct {
	SessionID       string `json:"sessionId"`
	Phase           Phase  `json:"phase"`
	CostCents       int64  `json:"costCents"`
	ChatTokens      int64  `json:"chatTokens"`
	IterationTokens int64  `json:"iterationTokens"`
	UsageRecorded   bool   `json:"usageRecorded"`
}

type SetPricingRequest struct {
	InputCostPerMillionUSD  *float64 `json:"inputCostPerMillionUsd"`
	OutputCostPerMillionUSD *float64 `json:"outputCostPerMillionUsd"`
}
