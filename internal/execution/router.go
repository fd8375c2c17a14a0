package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"signal-engine/internal/audit"
	"signal-engine/internal/events"
	"signal-engine/internal/formula"
	"signal-engine/internal/notify"
	"signal-engine/internal/risk"
)

// Router drives a validated signal through the execution state machine.
// Every state transition writes one audit entry; the audit trail is the
// authoritative record of what happened to a signal.
type Router struct {
	Brokers     *Registry
	Approvals   *ApprovalStore
	Notifier    notify.Dispatcher
	Audit       *audit.Log
	Bus         *events.Bus
	DB          *sql.DB
	ExecTimeout time.Duration
}

func NewRouter(brokers *Registry, approvals *ApprovalStore, notifier notify.Dispatcher, auditLog *audit.Log, bus *events.Bus, db *sql.DB) *Router {
	return &Router{
		Brokers:     brokers,
		Approvals:   approvals,
		Notifier:    notifier,
		Audit:       auditLog,
		Bus:         bus,
		DB:          db,
		ExecTimeout: 10 * time.Second,
	}
}

// Route takes one signal with its risk verdict through to a terminal or
// waiting state. It never returns an error: every outcome, including broker
// failure, is a legal terminal state reported in the Result.
func (r *Router) Route(ctx context.Context, req Request) *Result {
	tradeID := uuid.NewString()
	res := &Result{
		TradeID:    tradeID,
		RiskStatus: req.Verdict.Status,
		Warnings:   req.Verdict.Metrics.Warnings,
	}

	if req.Verdict.Status == risk.StatusRejected {
		r.transition(req, tradeID, audit.ActorSystem, StateReceived, StateRejected, map[string]any{
			"violations":  req.Verdict.Metrics.Violations,
			"adjustments": req.Verdict.Adjustments,
		})
		r.Bus.Publish(events.EventRiskRejected, req.Verdict)
		if req.NotifyOnReject {
			res.NotificationSent = r.Notifier.Notify(ctx, req.Signal.UserID, notify.TypeRiskWarning, map[string]any{
				"trade_id":    tradeID,
				"signal":      req.Signal,
				"violations":  req.Verdict.Metrics.Violations,
				"adjustments": req.Verdict.Adjustments,
			})
		}
		res.FinalState = StateRejected
		res.Error = "risk validation rejected"
		return res
	}

	r.transition(req, tradeID, audit.ActorSystem, StateReceived, StateValidated, map[string]any{
		"status":   req.Verdict.Status,
		"warnings": req.Verdict.Metrics.Warnings,
	})
	if req.Verdict.Status == risk.StatusWarning {
		r.Bus.Publish(events.EventRiskWarning, req.Verdict)
	}

	switch req.Mode {
	case formula.ModeAuto:
		return r.routeAuto(ctx, req, tradeID, res)
	case formula.ModeManual:
		return r.routeManual(ctx, req, tradeID, res)
	case formula.ModeAlertOnly:
		return r.routeAlertOnly(ctx, req, tradeID, res)
	}

	// Unknown modes never execute.
	r.transition(req, tradeID, audit.ActorSystem, StateValidated, StateFailed, map[string]any{
		"error": fmt.Sprintf("unknown execution mode %q", req.Mode),
	})
	res.FinalState = StateFailed
	res.Error = fmt.Sprintf("unknown execution mode %q", req.Mode)
	return res
}

func (r *Router) routeAuto(ctx context.Context, req Request, tradeID string, res *Result) *Result {
	r.transition(req, tradeID, audit.ActorSystem, StateValidated, StateAutoExecuting, nil)

	order := Order{
		TradeID: tradeID,
		Symbol:  req.Trade.Symbol,
		Side:    OrderSide(req.Signal.Kind),
		Qty:     req.Trade.PositionSize,
		Price:   req.Trade.EntryPrice,
	}
	fill, err := r.execute(ctx, req.Broker, order)
	if err != nil {
		r.recordExecution(req, tradeID, "", order, StateFailed, err.Error())
		r.transition(req, tradeID, audit.ActorBroker, StateAutoExecuting, StateFailed, map[string]any{
			"broker": req.Broker,
			"error":  err.Error(),
		})
		r.Bus.Publish(events.EventTradeFailed, res)
		res.NotificationSent = r.Notifier.Notify(ctx, req.Signal.UserID, notify.TypeFailure, map[string]any{
			"trade_id": tradeID,
			"symbol":   req.Trade.Symbol,
			"error":    err.Error(),
		})
		res.FinalState = StateFailed
		res.Error = err.Error()
		return res
	}

	r.recordExecution(req, tradeID, fill.OrderID, order, StateExecuted, "")
	r.transition(req, tradeID, audit.ActorBroker, StateAutoExecuting, StateExecuted, map[string]any{
		"broker":   req.Broker,
		"order_id": fill.OrderID,
		"qty":      fill.FilledQty,
		"price":    fill.AvgPrice,
	})
	r.Bus.Publish(events.EventTradeExecuted, fill)
	res.NotificationSent = r.Notifier.Notify(ctx, req.Signal.UserID, notify.TypeExecution, map[string]any{
		"trade_id": tradeID,
		"symbol":   req.Trade.Symbol,
		"side":     order.Side,
		"qty":      fill.FilledQty,
		"price":    fill.AvgPrice,
		"warnings": req.Verdict.Metrics.Warnings,
	})
	res.Success = true
	res.OrderID = fill.OrderID
	res.Quantity = fill.FilledQty
	res.Price = fill.AvgPrice
	res.FinalState = StateExecuted
	return res
}

func (r *Router) routeManual(ctx context.Context, req Request, tradeID string, res *Result) *Result {
	pa := &PendingApproval{
		TradeID:     tradeID,
		UserID:      req.Signal.UserID,
		FormulaID:   req.Signal.FormulaID,
		SignalID:    req.Signal.ID,
		Symbol:      req.Trade.Symbol,
		Side:        OrderSide(req.Signal.Kind),
		Qty:         req.Trade.PositionSize,
		Price:       req.Trade.EntryPrice,
		Broker:      req.Broker,
		Status:      ApprovalPending,
		Adjustments: req.Verdict.Adjustments,
		CreatedAt:   time.Now(),
	}
	if err := r.Approvals.Create(pa); err != nil {
		log.Printf("router: create approval %s: %v", tradeID, err)
		r.transition(req, tradeID, audit.ActorSystem, StateValidated, StateFailed, map[string]any{"error": err.Error()})
		res.FinalState = StateFailed
		res.Error = err.Error()
		return res
	}

	r.transition(req, tradeID, audit.ActorSystem, StateValidated, StatePendingApproval, map[string]any{
		"qty":      pa.Qty,
		"price":    pa.Price,
		"warnings": req.Verdict.Metrics.Warnings,
	})
	r.Bus.Publish(events.EventApprovalPending, pa)
	res.NotificationSent = r.Notifier.Notify(ctx, req.Signal.UserID, notify.TypeApprovalRequest, pa)
	res.RequiresApproval = true
	res.FinalState = StatePendingApproval
	return res
}

func (r *Router) routeAlertOnly(ctx context.Context, req Request, tradeID string, res *Result) *Result {
	r.transition(req, tradeID, audit.ActorSystem, StateValidated, StateNotifiedOnly, map[string]any{
		"confidence": req.Signal.Confidence,
	})
	res.NotificationSent = r.Notifier.Notify(ctx, req.Signal.UserID, notify.TypeSignal, map[string]any{
		"trade_id": tradeID,
		"signal":   req.Signal,
		"metrics":  req.Verdict.Metrics,
	})
	res.Success = true
	res.FinalState = StateNotifiedOnly
	return res
}

// Approve applies a user's accept decision and executes the trade. The
// optional adjustments override quantity before the broker call.
func (r *Router) Approve(ctx context.Context, tradeID, userID string, adj risk.Adjustments) (*Result, error) {
	pa, err := r.Approvals.Decide(tradeID, ApprovalApproved, "", adj)
	if err != nil {
		return nil, err
	}
	r.Audit.Record(audit.Entry{
		Actor:     audit.ActorUser,
		Event:     string(events.EventApprovalDecided),
		UserID:    userID,
		FormulaID: pa.FormulaID,
		Symbol:    pa.Symbol,
		TradeID:   tradeID,
		FromState: string(StatePendingApproval),
		ToState:   string(StateApproved),
		Payload:   map[string]any{"adjustments": adj},
	})
	r.Bus.Publish(events.EventApprovalDecided, pa)
	r.Notifier.Notify(ctx, pa.UserID, notify.TypeApprovalDecided, pa)

	qty := pa.Qty
	if adj.PositionSize != nil && *adj.PositionSize > 0 {
		qty = *adj.PositionSize
	}
	order := Order{
		TradeID: tradeID,
		Symbol:  pa.Symbol,
		Side:    pa.Side,
		Qty:     qty,
		Price:   pa.Price,
	}

	res := &Result{TradeID: tradeID, RiskStatus: risk.StatusApproved}
	fill, err := r.execute(ctx, pa.Broker, order)
	if err != nil {
		if ferr := r.Approvals.Finalize(tradeID, ApprovalFailed, err.Error()); ferr != nil {
			log.Printf("router: finalize %s: %v", tradeID, ferr)
		}
		r.auditApprovalExec(pa, userID, StateFailed, map[string]any{"error": err.Error()})
		r.Bus.Publish(events.EventTradeFailed, res)
		res.FinalState = StateFailed
		res.Error = err.Error()
		return res, nil
	}

	if ferr := r.Approvals.Finalize(tradeID, ApprovalExecuted, ""); ferr != nil {
		log.Printf("router: finalize %s: %v", tradeID, ferr)
	}
	r.insertExecution(tradeID, fill.OrderID, pa.SignalID, pa.UserID, pa.Symbol, pa.Side, fill.FilledQty, fill.AvgPrice, StateExecuted, "")
	r.auditApprovalExec(pa, userID, StateExecuted, map[string]any{
		"order_id": fill.OrderID,
		"qty":      fill.FilledQty,
		"price":    fill.AvgPrice,
	})
	r.Bus.Publish(events.EventTradeExecuted, fill)
	r.Notifier.Notify(ctx, pa.UserID, notify.TypeExecution, map[string]any{
		"trade_id": tradeID,
		"symbol":   pa.Symbol,
		"side":     pa.Side,
		"qty":      fill.FilledQty,
		"price":    fill.AvgPrice,
	})
	res.Success = true
	res.OrderID = fill.OrderID
	res.Quantity = fill.FilledQty
	res.Price = fill.AvgPrice
	res.FinalState = StateExecuted
	return res, nil
}

// Reject applies a user's reject decision. Nothing executes.
func (r *Router) Reject(ctx context.Context, tradeID, userID, reason string) (*PendingApproval, error) {
	pa, err := r.Approvals.Decide(tradeID, ApprovalRejected, reason, risk.Adjustments{})
	if err != nil {
		return nil, err
	}
	r.Audit.Record(audit.Entry{
		Actor:     audit.ActorUser,
		Event:     string(events.EventApprovalDecided),
		UserID:    userID,
		FormulaID: pa.FormulaID,
		Symbol:    pa.Symbol,
		TradeID:   tradeID,
		FromState: string(StatePendingApproval),
		ToState:   string(StateRejected),
		Payload:   map[string]any{"reason": reason},
	})
	r.Bus.Publish(events.EventApprovalDecided, pa)
	r.Notifier.Notify(ctx, pa.UserID, notify.TypeApprovalDecided, pa)
	return pa, nil
}

func (r *Router) execute(ctx context.Context, brokerName string, order Order) (*Fill, error) {
	broker, err := r.Brokers.Get(brokerName)
	if err != nil {
		return nil, err
	}
	timeout := r.ExecTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return broker.Execute(ctx, order)
}

func (r *Router) transition(req Request, tradeID string, actor audit.Actor, from, to State, payload map[string]any) {
	r.Audit.Record(audit.Entry{
		Actor:     actor,
		Event:     "execution.transition",
		UserID:    req.Signal.UserID,
		FormulaID: req.Signal.FormulaID,
		Symbol:    req.Signal.Symbol,
		TradeID:   tradeID,
		FromState: string(from),
		ToState:   string(to),
		Payload:   payload,
	})
}

func (r *Router) auditApprovalExec(pa *PendingApproval, userID string, to State, payload map[string]any) {
	r.Audit.Record(audit.Entry{
		Actor:     audit.ActorBroker,
		Event:     "execution.transition",
		UserID:    userID,
		FormulaID: pa.FormulaID,
		Symbol:    pa.Symbol,
		TradeID:   pa.TradeID,
		FromState: string(StateApproved),
		ToState:   string(to),
		Payload:   payload,
	})
}

func (r *Router) recordExecution(req Request, tradeID, orderID string, order Order, status State, execErr string) {
	r.insertExecution(tradeID, orderID, req.Signal.ID, req.Signal.UserID, order.Symbol, order.Side, order.Qty, order.Price, status, execErr)
}

func (r *Router) insertExecution(tradeID, orderID, signalID, userID, symbol, side string, qty, price float64, status State, execErr string) {
	_, err := r.DB.Exec(`
		INSERT INTO executions (trade_id, order_id, signal_id, user_id, symbol, side, qty, price, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tradeID, orderID, signalID, userID, symbol, side, qty, price, string(status), execErr)
	if err != nil {
		log.Printf("router: record execution %s: %v", tradeID, err)
	}
}
