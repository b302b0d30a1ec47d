package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldGroupID     = "group_id"
	FieldMemberID    = "member_id"
	FieldCycleID     = "cycle_id"
	FieldIdentityID  = "identity_id"
	FieldAmountCents = "amount_cents"
	FieldMirrorRef   = "mirror_ref"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentHTTP     = "http"
	ComponentRegistry = "registry"
	ComponentLedger   = "ledger"
	ComponentReport   = "report"
	ComponentStorage  = "storage"
	ComponentAMQP     = "amqp"
	ComponentWorker   = "worker"
	ComponentMirror   = "mirror"
	ComponentCache    = "cache"
	ComponentBackend  = "backend"
)
