package billing

import "lucledger/internal/model"

// SessionTotals 结算所需的会话累计值
type SessionTotals struct {
	ChatTokens         int64
	IterationTokens    int64
	ChatCostCents      int64
	IterationCostCents int64
}

func TotalsOf(s *model.Session) SessionTotals {
	return SessionTotals{
		ChatTokens:         s.ChatTokens(),
		IterationTokens:    s.IterationTokens(),
		ChatCostCents:      s.ChatCostCents,
		IterationCostCents: s.IterationCostCents,
	}
}

type Settlement struct {
	SessionTotals
	RefundCents      int64
	TotalChargeCents int64
	Refunded         bool
}

// Settle 应用退款规则：iteration token 不少于 chat token 且 chat 有费用时，全额退还 chat 费用。
// 恒有 TotalChargeCents + RefundCents == ChatCostCents + IterationCostCents
func Settle(t SessionTotals) Settlement {
	s := Settlement{
		SessionTotals:    t,
		TotalChargeCents: t.ChatCostCents + t.IterationCostCents,
	}
	if t.IterationTokens >= t.ChatTokens && t.ChatCostCents > 0 {
		s.Refunded = true
		s.RefundCents = t.ChatCostCents
		s.TotalChargeCents = t.IterationCostCents
	}
	return s
}
