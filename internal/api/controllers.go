package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"signal-engine/internal/audit"
	"signal-engine/internal/execution"
	"signal-engine/internal/formula"
	"signal-engine/internal/risk"
	"signal-engine/internal/store"
)

type formulaRequest struct {
	Name     string   `json:"name"`
	Body     string   `json:"body"`
	Symbols  []string `json:"symbols"`
	Mode     string   `json:"mode"`
	IsActive *bool    `json:"is_active"`
}

func (s *Server) listFormulas(c *gin.Context) {
	formulas, err := s.Store.ListFormulas(CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"formulas": formulas})
}

func (s *Server) createFormula(c *gin.Context) {
	var req formulaRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	if req.Name == "" || req.Body == "" || len(req.Symbols) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_FIELDS", "error": "name, body and symbols are required"})
		return
	}
	mode := formula.ExecutionMode(req.Mode)
	if mode == "" {
		mode = formula.ModeAlertOnly
	}
	if !formula.ValidMode(mode) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_MODE", "error": "mode must be AUTO, MANUAL or ALERT_ONLY"})
		return
	}

	f := &formula.Formula{
		UserID:   CurrentUserID(c),
		Name:     req.Name,
		Body:     req.Body,
		Symbols:  req.Symbols,
		Mode:     mode,
		IsActive: req.IsActive == nil || *req.IsActive,
	}
	if err := s.Store.CreateFormula(f); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (s *Server) getFormula(c *gin.Context) {
	f, ok := s.ownedFormula(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) updateFormula(c *gin.Context) {
	f, ok := s.ownedFormula(c)
	if !ok {
		return
	}

	var req formulaRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	if req.Name != "" {
		f.Name = req.Name
	}
	if req.Body != "" {
		f.Body = req.Body
	}
	if len(req.Symbols) > 0 {
		f.Symbols = req.Symbols
	}
	if req.Mode != "" {
		if !formula.ValidMode(formula.ExecutionMode(req.Mode)) {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_MODE", "error": "mode must be AUTO, MANUAL or ALERT_ONLY"})
			return
		}
		f.Mode = formula.ExecutionMode(req.Mode)
	}
	if req.IsActive != nil {
		f.IsActive = *req.IsActive
	}

	if err := s.Store.UpdateFormula(f); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) deleteFormula(c *gin.Context) {
	f, ok := s.ownedFormula(c)
	if !ok {
		return
	}
	if err := s.Store.DeleteFormula(f.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": f.ID})
}

// evaluateFormula runs one formula through the pipeline right now, outside
// the schedule.
func (s *Server) evaluateFormula(c *gin.Context) {
	f, ok := s.ownedFormula(c)
	if !ok {
		return
	}

	outcomes, err := s.Engine.EvaluateNow(c.Request.Context(), f.ID, CurrentUserID(c))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusConflict, gin.H{"code": "NO_ACTIVE_SUBSCRIPTION", "error": "formula has no active subscription"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

// ownedFormula loads the :id formula and enforces ownership.
func (s *Server) ownedFormula(c *gin.Context) (*formula.Formula, bool) {
	f, err := s.Store.GetFormula(c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "formula not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if f.UserID != CurrentUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "error": "not your formula"})
		return nil, false
	}
	return f, true
}

type subscriptionRequest struct {
	FormulaID        string  `json:"formula_id"`
	Mode             string  `json:"mode"`
	PolicyID         string  `json:"policy_id"`
	PortfolioValue   float64 `json:"portfolio_value"`
	PositionFraction float64 `json:"position_fraction"`
	FixedSize        float64 `json:"fixed_size"`
	Leverage         float64 `json:"leverage"`
	StopKind         string  `json:"stop_kind"`
	StopValue        float64 `json:"stop_value"`
	TargetKind       string  `json:"target_kind"`
	TargetValue      float64 `json:"target_value"`
	Broker           string  `json:"broker"`
	NotifyOnReject   *bool   `json:"notify_on_reject"`
	IsActive         *bool   `json:"is_active"`
}

func (s *Server) createSubscription(c *gin.Context) {
	var req subscriptionRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	if req.FormulaID == "" || req.PortfolioValue <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_FIELDS", "error": "formula_id and portfolio_value are required"})
		return
	}
	if _, err := s.Store.GetFormula(req.FormulaID); errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "formula not found"})
		return
	}
	// An empty mode inherits the formula's; anything else must be a real one.
	if req.Mode != "" && !formula.ValidMode(formula.ExecutionMode(req.Mode)) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_MODE", "error": "mode must be AUTO, MANUAL or ALERT_ONLY"})
		return
	}

	sub := &store.Subscription{
		UserID:           CurrentUserID(c),
		FormulaID:        req.FormulaID,
		Mode:             formula.ExecutionMode(req.Mode),
		PolicyID:         req.PolicyID,
		PortfolioValue:   req.PortfolioValue,
		PositionFraction: req.PositionFraction,
		FixedSize:        req.FixedSize,
		Leverage:         req.Leverage,
		StopLoss:         stopSpec(req.StopKind, req.StopValue, 2),
		TakeProfit:       stopSpec(req.TargetKind, req.TargetValue, 4),
		Broker:           req.Broker,
		NotifyOnReject:   req.NotifyOnReject == nil || *req.NotifyOnReject,
		IsActive:         req.IsActive == nil || *req.IsActive,
	}
	if sub.Leverage <= 0 {
		sub.Leverage = 1
	}
	if err := s.Store.CreateSubscription(sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (s *Server) updateSubscription(c *gin.Context) {
	sub, err := s.Store.GetSubscription(c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "subscription not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sub.UserID != CurrentUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "error": "not your subscription"})
		return
	}

	var req subscriptionRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	if req.Mode != "" {
		if !formula.ValidMode(formula.ExecutionMode(req.Mode)) {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_MODE", "error": "mode must be AUTO, MANUAL or ALERT_ONLY"})
			return
		}
		sub.Mode = formula.ExecutionMode(req.Mode)
	}
	if req.PolicyID != "" {
		sub.PolicyID = req.PolicyID
	}
	if req.PortfolioValue > 0 {
		sub.PortfolioValue = req.PortfolioValue
	}
	if req.PositionFraction > 0 {
		sub.PositionFraction = req.PositionFraction
	}
	if req.FixedSize > 0 {
		sub.FixedSize = req.FixedSize
	}
	if req.Leverage > 0 {
		sub.Leverage = req.Leverage
	}
	if req.StopKind != "" {
		sub.StopLoss = stopSpec(req.StopKind, req.StopValue, sub.StopLoss.Value)
	}
	if req.TargetKind != "" {
		sub.TakeProfit = stopSpec(req.TargetKind, req.TargetValue, sub.TakeProfit.Value)
	}
	if req.Broker != "" {
		sub.Broker = req.Broker
	}
	if req.NotifyOnReject != nil {
		sub.NotifyOnReject = *req.NotifyOnReject
	}
	if req.IsActive != nil {
		sub.IsActive = *req.IsActive
	}

	if err := s.Store.UpdateSubscription(sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sub)
}

func stopSpec(kind string, value, defValue float64) risk.StopSpec {
	if kind == "" {
		kind = string(risk.StopPercentage)
	}
	if value <= 0 {
		value = defValue
	}
	return risk.StopSpec{Kind: risk.StopKind(kind), Value: value}
}

func (s *Server) listSignals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	signals, err := s.Store.RecentSignals(CurrentUserID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

func (s *Server) listApprovals(c *gin.Context) {
	status := execution.ApprovalStatus(c.Query("status"))
	approvals, err := s.ExecRouter.Approvals.ListByUser(CurrentUserID(c), status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": approvals})
}

func (s *Server) approveTrade(c *gin.Context) {
	var req struct {
		PositionSize *float64 `json:"position_size"`
		TakeProfit   *float64 `json:"take_profit"`
	}
	// Empty body means accept as proposed.
	_ = c.BindJSON(&req)

	if !s.ownsApproval(c) {
		return
	}
	res, err := s.ExecRouter.Approve(c.Request.Context(), c.Param("tradeID"), CurrentUserID(c), risk.Adjustments{
		PositionSize: req.PositionSize,
		TakeProfit:   req.TakeProfit,
	})
	if err != nil {
		s.approvalError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) rejectTrade(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.BindJSON(&req)

	if !s.ownsApproval(c) {
		return
	}
	pa, err := s.ExecRouter.Reject(c.Request.Context(), c.Param("tradeID"), CurrentUserID(c), req.Reason)
	if err != nil {
		s.approvalError(c, err)
		return
	}
	c.JSON(http.StatusOK, pa)
}

func (s *Server) ownsApproval(c *gin.Context) bool {
	pa, err := s.ExecRouter.Approvals.Get(c.Param("tradeID"))
	if errors.Is(err, execution.ErrApprovalNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "approval not found"})
		return false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return false
	}
	if pa.UserID != CurrentUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "error": "not your approval"})
		return false
	}
	return true
}

func (s *Server) approvalError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, execution.ErrApprovalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "approval not found"})
	case errors.Is(err, execution.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"code": "NOT_PENDING", "error": "approval already decided"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Stats.Snapshot())
}

func (s *Server) resetStats(c *gin.Context) {
	s.Engine.Stats.Reset()
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

func (s *Server) getAuditTrail(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := s.Audit.Entries(audit.Query{
		UserID: CurrentUserID(c),
		Event:  c.Query("event"),
		Limit:  limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
