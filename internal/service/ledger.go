package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"lucledger/internal/billing"
	"lucledger/internal/database"
	"lucledger/internal/lock"
	"lucledger/internal/metering"
	"lucledger/internal/metrics"
	"lucledger/internal/model"
	"lucledger/internal/repository"
	"lucledger/internal/tracer"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultUsageEventLimit = 100
	// 结算后上报的整体上限，单次尝试另有 reporter 自身的超时
	finalizeReportBudget = 30 * time.Second
)

// TxRunner 在单个事务中执行 fn
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type CostEstimator interface {
	Calculate(model string, totalTokens int64) billing.CostResult
}

type MeterReporter interface {
	Report(ctx context.Context, ev metering.Event) metering.Result
}

// LedgerDeps 账本依赖，全部显式注入
type LedgerDeps struct {
	Tx          TxRunner
	Sessions    repository.SessionRepositoryInterface
	UsageEvents repository.UsageEventRepositoryInterface
	Receipts    repository.ReceiptRepositoryInterface
	MeterEvents repository.MeterEventRepositoryInterface
	Pricer      CostEstimator
	Reporter    MeterReporter
	Locker      lock.Locker
}

// LedgerService LUC 会话账本：chat/iteration 两阶段计量与结算
type LedgerService struct {
	tx          TxRunner
	sessions    repository.SessionRepositoryInterface
	usageEvents repository.UsageEventRepositoryInterface
	receipts    repository.ReceiptRepositoryInterface
	meterEvents repository.MeterEventRepositoryInterface
	pricer      CostEstimator
	reporter    MeterReporter
	locker      lock.Locker
}

func NewLedgerService(db *database.DB, pricer CostEstimator, reporter MeterReporter, locker lock.Locker) *LedgerService {
	return NewLedgerServiceWithDeps(LedgerDeps{
		Tx:          db,
		Sessions:    repository.NewSessionRepository(db),
		UsageEvents: repository.NewUsageEventRepository(db),
		Receipts:    repository.NewReceiptRepository(db),
		MeterEvents: repository.NewMeterEventRepository(db),
		Pricer:      pricer,
		Reporter:    reporter,
		Locker:      locker,
	})
}

func NewLedgerServiceWithDeps(deps LedgerDeps) *LedgerService {
	if deps.Locker == nil {
		deps.Locker = lock.NewStripedLocker(0)
	}
	if deps.Pricer == nil {
		deps.Pricer = billing.NewCostCalculator(nil)
	}
	return &LedgerService{
		tx:          deps.Tx,
		sessions:    deps.Sessions,
		usageEvents: deps.UsageEvents,
		receipts:    deps.Receipts,
		meterEvents: deps.MeterEvents,
		pricer:      deps.Pricer,
		reporter:    deps.Reporter,
		locker:      deps.Locker,
	}
}

// TrackResult 单次调用的费用与更新后的会话
type TrackResult struct {
	Session       *model.Session
	CostCents     int64
	UsageRecorded bool
}

// Init 新建 chat 阶段会话，除存储故障外总是成功
func (s *LedgerService) Init(ctx context.Context, userID string) (*model.Session, error) {
	session := &model.Session{SessionID: uuid.New().String(), UserID: userID}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, internalError("init session", err)
	}
	log.WithFields(log.Fields{"sessionId": session.SessionID, "userId": userID}).Info("ledger: session created")
	return session, nil
}

// Get 读取会话快照，不加锁
func (s *LedgerService) Get(ctx context.Context, sessionID, userID string) (*model.Session, error) {
	return s.loadOwned(ctx, sessionID, userID, false)
}

func (s *LedgerService) loadOwned(ctx context.Context, sessionID, userID string, forUpdate bool) (*model.Session, error) {
	var (
		session *model.Session
		err     error
	)
	if forUpdate {
		session, err = s.sessions.GetForUpdate(ctx, sessionID)
	} else {
		session, err = s.sessions.GetByID(ctx, sessionID)
	}
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, errSessionNotFound
	}
	if err != nil {
		return nil, internalError("load session", err)
	}
	if session.UserID != userID {
		return nil, errForbidden
	}
	return session, nil
}

// mutate 在会话锁与事务内加载并校验会话，再执行 fn
func (s *LedgerService) mutate(ctx context.Context, sessionID, userID string, fn func(ctx context.Context, session *model.Session) error) error {
	unlock, err := s.locker.Lock(ctx, sessionID)
	if err != nil {
		return internalError("acquire session lock", err)
	}
	defer unlock()

	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		session, err := s.loadOwned(ctx, sessionID, userID, true)
		if err != nil {
			return err
		}
		if !session.IsActive() {
			return errNotActive
		}
		return fn(ctx, session)
	})
}

// Transition chat -> iteration，重复调用返回原会话且保留原时间戳
func (s *LedgerService) Transition(ctx context.Context, sessionID, userID, toPhase string) (*model.Session, error) {
	ctx, span := tracer.Start(ctx, "ledger.Transition")
	defer span.End()

	target := model.Phase(strings.ToLower(strings.TrimSpace(toPhase)))
	if target == "" {
		target = model.PhaseIteration
	}

	var result *model.Session
	err := s.mutate(ctx, sessionID, userID, func(ctx context.Context, session *model.Session) error {
		if target != model.PhaseIteration {
			return newLedgerError(KindInvalidTransition, "only transition to iteration is allowed")
		}
		if session.CurrentPhase == model.PhaseIteration {
			result = session
			return nil
		}
		if session.CurrentPhase != model.PhaseChat {
			return newLedgerError(KindInvalidTransition, "cannot transition from phase "+string(session.CurrentPhase))
		}

		now := time.Now().UTC()
		changed, err := s.sessions.MarkIteration(ctx, sessionID, now)
		if err != nil {
			return internalError("transition session", err)
		}
		if !changed {
			return newLedgerError(KindInvalidState, "session changed concurrently")
		}
		session.CurrentPhase = model.PhaseIteration
		session.PhaseTransitionAt = &now
		session.UpdatedAt = now
		result = session
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"sessionId": sessionID, "phase": result.CurrentPhase}).Info("ledger: phase transition")
	return result, nil
}

// Track 记录一次 AI 调用的用量并累加对应阶段的计数器
func (s *LedgerService) Track(ctx context.Context, sessionID, userID string, req model.TrackRequest) (*TrackResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.Track")
	defer span.End()

	override := model.Phase(strings.ToLower(strings.TrimSpace(req.PhaseOverride)))
	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		provider = model.UnknownValue
	}
	modelName := strings.TrimSpace(req.Model)
	if modelName == "" {
		modelName = model.UnknownValue
	}
	inputTokens := clampTokens(req.InputTokens)
	outputTokens := clampTokens(req.OutputTokens)
	var totalTokens int64

	var (
		updated *model.Session
		phase   model.Phase
		cost    billing.CostResult
	)
	err := s.mutate(ctx, sessionID, userID, func(ctx context.Context, session *model.Session) error {
		phase = session.CurrentPhase
		if override != "" {
			if !override.Trackable() {
				return newLedgerError(KindInvalidArgument, "phase must be chat or iteration")
			}
			phase = override
		}
		if !phase.Trackable() {
			return errNotActive
		}

		curIn, curOut, curCost := session.ChatInputTokens, session.ChatOutputTokens, session.ChatCostCents
		if phase == model.PhaseIteration {
			curIn, curOut, curCost = session.IterationInputTokens, session.IterationOutputTokens, session.IterationCostCents
		}
		inputTokens = headroom(curIn, inputTokens)
		outputTokens = headroom(curOut, outputTokens)
		totalTokens = inputTokens + outputTokens

		cost = s.pricer.Calculate(modelName, totalTokens)
		cost.CostCents = headroom(curCost, max(cost.CostCents, 0))
		if err := s.sessions.AddUsage(ctx, sessionID, phase, inputTokens, outputTokens, cost.CostCents); err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return errNotActive
			}
			return internalError("add usage", err)
		}

		fresh, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return internalError("reload session", err)
		}
		updated = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	usageRecorded := true
	event := &model.UsageEvent{
		SessionID:    sessionID,
		UserID:       userID,
		Phase:        phase,
		Provider:     provider,
		Model:        modelName,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  totalTokens,
		CostCents:    cost.CostCents,
	}
	if err := s.usageEvents.Create(ctx, event); err != nil {
		usageRecorded = false
		log.Errorf("ledger: failed to record usage event for session %s: %v", sessionID, err)
	}

	metrics.TrackTotal.WithLabelValues(string(phase)).Inc()
	metrics.CostCentsTotal.WithLabelValues(string(phase)).Add(float64(cost.CostCents))
	span.SetAttributes(
		attribute.String("luc.phase", string(phase)),
		attribute.String("luc.model", modelName),
		attribute.Int64("luc.cost_cents", cost.CostCents),
	)
	log.WithFields(log.Fields{
		"sessionId": sessionID,
		"phase":     phase,
		"model":     modelName,
		"tokens":    totalTokens,
		"costCents": cost.CostCents,
		"pricing":   cost.PricingSource,
	}).Debug("ledger: usage tracked")

	return &TrackResult{Session: updated, CostCents: cost.CostCents, UsageRecorded: usageRecorded}, nil
}

// clampTokens 负数按 0 计，单次调用不超过 MaxTokensPerCall
func clampTokens(n int64) int64 {
	return min(max(n, 0), model.MaxTokensPerCall)
}

// headroom 计数器累加 delta 后不超过 MaxCounterValue，返回实际可累加的量
func headroom(current, delta int64) int64 {
	return max(min(delta, model.MaxCounterValue-current), 0)
}

// Finalize 结算会话并生成唯一的结算单；状态变更与结算单写入在同一事务内，
// 计量上报在提交后进行，失败不影响结算
func (s *LedgerService) Finalize(ctx context.Context, sessionID, userID string) (*model.Receipt, error) {
	ctx, span := tracer.Start(ctx, "ledger.Finalize")
	defer span.End()

	var (
		receipt    *model.Receipt
		settlement billing.Settlement
	)
	err := s.mutate(ctx, sessionID, userID, func(ctx context.Context, session *model.Session) error {
		settlement = billing.Settle(billing.TotalsOf(session))
		now := time.Now().UTC()

		closed, err := s.sessions.MarkComplete(ctx, sessionID, settlement.RefundCents, settlement.TotalChargeCents, now)
		if err != nil {
			return internalError("complete session", err)
		}
		if !closed {
			return errNotActive
		}

		receipt = &model.Receipt{
			ReceiptID:          uuid.New().String(),
			SessionID:          sessionID,
			UserID:             session.UserID,
			Phase:              model.PhaseComplete,
			ChatTokens:         settlement.ChatTokens,
			IterationTokens:    settlement.IterationTokens,
			ChatCostCents:      settlement.ChatCostCents,
			IterationCostCents: settlement.IterationCostCents,
			RefundCents:        settlement.RefundCents,
			TotalChargeCents:   settlement.TotalChargeCents,
			FinalizedAt:        now,
		}
		if err := s.receipts.Create(ctx, receipt); err != nil {
			if errors.Is(err, repository.ErrReceiptExists) {
				return newLedgerError(KindInvalidState, "session already finalized")
			}
			return internalError("create receipt", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.FinalizeTotal.WithLabelValues(strconv.FormatBool(settlement.Refunded)).Inc()
	log.WithFields(log.Fields{
		"sessionId":        sessionID,
		"chatTokens":       settlement.ChatTokens,
		"iterationTokens":  settlement.IterationTokens,
		"refundCents":      settlement.RefundCents,
		"totalChargeCents": settlement.TotalChargeCents,
	}).Info("ledger: session finalized")

	s.reportSettlement(ctx, receipt, settlement)
	return receipt, nil
}

// reportSettlement 上报 chat、iteration 原始费用，命中退款规则时追加负值退款事件
func (s *LedgerService) reportSettlement(ctx context.Context, receipt *model.Receipt, settlement billing.Settlement) {
	if s.reporter == nil {
		return
	}
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeReportBudget)
	defer cancel()

	events := []metering.Event{
		{Phase: model.PhaseChat, CostCents: settlement.ChatCostCents},
		{Phase: model.PhaseIteration, CostCents: settlement.IterationCostCents},
	}
	if settlement.Refunded {
		events = append(events, metering.Event{Phase: model.PhaseChat, CostCents: -settlement.ChatCostCents, Refunded: true})
	}

	for _, ev := range events {
		ev.SessionID = receipt.SessionID
		ev.UserID = receipt.UserID
		ev.Model = model.MixedModel
		ev.Timestamp = receipt.FinalizedAt
		if res := s.reporter.Report(reportCtx, ev); !res.OK {
			log.WithFields(log.Fields{
				"sessionId": receipt.SessionID,
				"phase":     ev.Phase,
				"refunded":  ev.Refunded,
				"provider":  res.Provider,
			}).Warn("ledger: meter report not confirmed, kept in local audit trail")
		}
	}
}

func (s *LedgerService) Receipt(ctx context.Context, sessionID, userID string) (*model.Receipt, error) {
	if _, err := s.loadOwned(ctx, sessionID, userID, false); err != nil {
		return nil, err
	}
	receipt, err := s.receipts.GetBySessionID(ctx, sessionID)
	if errors.Is(err, repository.ErrReceiptNotFound) {
		return nil, newLedgerError(KindNotFound, "receipt not found")
	}
	if err != nil {
		return nil, internalError("load receipt", err)
	}
	return receipt, nil
}

func (s *LedgerService) MeterEvents(ctx context.Context, sessionID, userID string) ([]*model.MeterEvent, error) {
	if _, err := s.loadOwned(ctx, sessionID, userID, false); err != nil {
		return nil, err
	}
	events, err := s.meterEvents.ListBySessionID(ctx, sessionID)
	if err != nil {
		return nil, internalError("list meter events", err)
	}
	if events == nil {
		events = []*model.MeterEvent{}
	}
	return events, nil
}

func (s *LedgerService) UsageEvents(ctx context.Context, sessionID, userID string, limit int) ([]*model.UsageEvent, error) {
	if _, err := s.loadOwned(ctx, sessionID, userID, false); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = defaultUsageEventLimit
	}
	events, err := s.usageEvents.ListBySessionID(ctx, sessionID, limit)
	if err != nil {
		return nil, internalError("list usage events", err)
	}
	if events == nil {
		events = []*model.UsageEvent{}
	}
	return events, nil
}

// ListSessions 用户最近的会话
func (s *LedgerService) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*model.Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	sessions, err := s.sessions.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, internalError("list sessions", err)
	}
	if sessions == nil {
		sessions = []*model.Session{}
	}
	return sessions, nil
}
