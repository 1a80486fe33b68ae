package log

import "time"

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldClientID   = "client_id"
	FieldTxID       = "transaction_id"
	FieldValueCents = "value_cents"
	FieldRangeStart = "range_start"
	FieldRangeEnd   = "range_end"
	FieldReason     = "reason"
	FieldAmountMode = "amount_mode"
	FieldDialect    = "dialect"
	FieldRowCount   = "rows"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentHTTP        = "http"
	ComponentTransaction = "transaction"
	ComponentStorage     = "storage"
	ComponentAMQP        = "amqp"
	ComponentTrace       = "trace"
	ComponentWorker      = "worker"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpBalance  = "balance"
	OpVolume   = "volume"
	OpHistoric = "historic"
	OpInsert   = "insert"
	OpSum      = "sum"
	OpList     = "list"
	OpFind     = "find"
	OpAudit    = "audit"
	OpConsume  = "consume"
	OpPublish  = "publish"
	OpMigrate  = "migrate"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// With adds an arbitrary field
func (f LogFields) With(key string, value any) LogFields {
	f[key] = value
	return f
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithClient adds the owning client id
func (f LogFields) WithClient(clientID int64) LogFields {
	f[FieldClientID] = clientID
	return f
}

// WithTransaction adds the transaction id
func (f LogFields) WithTransaction(id int64) LogFields {
	f[FieldTxID] = id
	return f
}

// WithRange adds inclusive range bounds
func (f LogFields) WithRange(start, end time.Time) LogFields {
	f[FieldRangeStart] = start.Format(time.RFC3339Nano)
	f[FieldRangeEnd] = end.Format(time.RFC3339Nano)
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, clientIP, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldClientIP] = clientIP
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
