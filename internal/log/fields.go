package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldOwnerID    = "owner_id"
	FieldTemplateID = "template_id"
	FieldGoalID     = "goal_id"
	FieldTxID       = "transaction_id"
	FieldPeriod     = "period"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldBackend    = "backend"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentLedger    = "ledger"
	ComponentScheduler = "scheduler"
	ComponentSummary   = "summary"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpAllocate = "allocate"
	OpGenerate = "generate"
)
