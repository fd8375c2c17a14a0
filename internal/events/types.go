package events

// Event enumerates high-level topics inside the signal engine.
type Event string

const (
	EventSnapshot          Event = "market.snapshot"
	EventSignalGenerated   Event = "signal.generated"
	EventEvaluationFailed  Event = "evaluation.failed"
	EventRiskRejected      Event = "risk.rejected"
	EventRiskWarning       Event = "risk.warning"
	EventTradeExecuted     Event = "trade.executed"
	EventTradeFailed       Event = "trade.failed"
	EventApprovalPending   Event = "approval.pending"
	EventApprovalDecided   Event = "approval.decided"
	EventNotificationSent  Event = "notification.sent"
	EventCycleCompleted    Event = "cycle.completed"
)
