package handler

import (
	"net/http"
	"strconv"

	"lucledger/internal/middleware"
	"lucledger/internal/model"
	"lucledger/internal/service"
	"lucledger/internal/usage"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

type LUCHandler struct {
	ledger *service.LedgerService
}

func NewLUCHandler(ledger *service.LedgerService) *LUCHandler {
	return &LUCHandler{ledger: ledger}
}

// renderError 按错误类别输出 {"error", "code"}
func renderError(c *gin.Context, err error) {
	le := service.AsLedgerError(err)
	if le.Kind == service.KindInternal {
		log.WithField("path", c.Request.URL.Path).Errorf("ledger: %v", err)
	}
	c.JSON(le.Kind.HTTPStatus(), gin.H{"error": le.Message, "code": le.Kind})
}

// readJSON 读取可选的 JSON 请求体，空体视为 {}
func readJSON(c *gin.Context) (gjson.Result, bool) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body", "code": service.KindInvalidArgument})
		return gjson.Result{}, false
	}
	if len(raw) == 0 {
		return gjson.Parse(`{}`), true
	}
	if !gjson.ValidBytes(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body", "code": service.KindInvalidArgument})
		return gjson.Result{}, false
	}
	return gjson.ParseBytes(raw), true
}

// InitSession POST /session/init
func (h *LUCHandler) InitSession(c *gin.Context) {
	session, err := h.ledger.Init(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.InitSessionResponse{SessionID: session.SessionID, Phase: session.CurrentPhase})
}

// Transition POST /session/:id/transition
func (h *LUCHandler) Transition(c *gin.Context) {
	body, ok := readJSON(c)
	if !ok {
		return
	}
	sessionID := c.Param("id")
	session, err := h.ledger.Transition(c.Request.Context(), sessionID, middleware.GetUserID(c), body.Get("toPhase").String())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.TransitionResponse{
		SessionID:         sessionID,
		Phase:             session.CurrentPhase,
		PhaseTransitionAt: session.PhaseTransitionAt,
	})
}

// parseTrackRequest 宽松解析 track 请求体；带 completion 时先提取用量，显式字段优先
func parseTrackRequest(body gjson.Result) model.TrackRequest {
	req := model.TrackRequest{
		Provider:      body.Get("provider").String(),
		PhaseOverride: body.Get("phase").String(),
	}

	if completion := body.Get("completion"); completion.IsObject() {
		provider := req.Provider
		if provider == "" {
			provider = "openai"
		}
		extracted := usage.ExtractResult(provider, completion)
		req.Model = extracted.Model
		req.InputTokens = extracted.InputTokens
		req.OutputTokens = extracted.OutputTokens
	}

	if m := body.Get("model"); m.Type == gjson.String && m.Str != "" {
		req.Model = m.Str
	}
	if v := body.Get("inputTokens"); v.Exists() && v.Type != gjson.Null {
		req.InputTokens = usage.CoerceTokens(v)
	}
	if v := body.Get("outputTokens"); v.Exists() && v.Type != gjson.Null {
		req.OutputTokens = usage.CoerceTokens(v)
	}
	return req
}

// Track POST /session/:id/track
func (h *LUCHandler) Track(c *gin.Context) {
	body, ok := readJSON(c)
	if !ok {
		return
	}
	sessionID := c.Param("id")
	result, err := h.ledger.Track(c.Request.Context(), sessionID, middleware.GetUserID(c), parseTrackRequest(body))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.TrackResponse{
		SessionID:       sessionID,
		Phase:           result.Session.CurrentPhase,
		CostCents:       result.CostCents,
		ChatTokens:      result.Session.ChatTokens(),
		IterationTokens: result.Session.IterationTokens(),
		UsageRecorded:   result.UsageRecorded,
	})
}

// Finalize POST /session/:id/finalize
func (h *LUCHandler) Finalize(c *gin.Context) {
	receipt, err := h.ledger.Finalize(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *LUCHandler) GetSession(c *gin.Context) {
	session, err := h.ledger.Get(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *LUCHandler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	sessions, err := h.ledger.ListSessions(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": sessions, "total": len(sessions)})
}

func (h *LUCHandler) GetReceipt(c *gin.Context) {
	receipt, err := h.ledger.Receipt(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *LUCHandler) ListMeterEvents(c *gin.Context) {
	events, err := h.ledger.MeterEvents(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events, "total": len(events)})
}

func (h *LUCHandler) ListUsageEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.ledger.UsageEvents(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), limit)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events, "total": len(events)})
}

// DebugExtract POST /debug/extract，用于核对上游响应格式
func (h *LUCHandler) DebugExtract(c *gin.Context) {
	body, ok := readJSON(c)
	if !ok {
		return
	}
	provider := body.Get("provider").String()
	if provider == "" {
		provider = "openai"
	}
	c.JSON(http.StatusOK, gin.H{"usage": usage.ExtractResult(provider, body.Get("completion"))})
}
