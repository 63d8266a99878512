package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Delivery
	FieldUserID    = "user_id"
	FieldSessionID = "session_id"
	FieldEventID   = "event_id"
	FieldEventType = "event_type"
	FieldRoomID    = "room_id"

	// Service
	FieldService    = "service"
	FieldInstanceID = "instance_id"
)
