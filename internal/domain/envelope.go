package domain

import (
	"time"

	"github.com/google/uuid"
)

// Envelope carries the fields common to every message on the wire (§3).
type Envelope struct {
	MessageID     string    `json:"message_id" msgpack:"message_id"`
	TraceID       string    `json:"trace_id" msgpack:"trace_id"`
	CorrelationID string    `json:"correlation_id,omitempty" msgpack:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp" msgpack:"timestamp"`
	Source        string    `json:"source,omitempty" msgpack:"source,omitempty"`
	Target        string    `json:"target,omitempty" msgpack:"target,omitempty"`
}

// NewEnvelope constructs an envelope with fresh message and trace ids.
func NewEnvelope() Envelope {
	return Envelope{
		MessageID: uuid.NewString(),
		TraceID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}
}

// RPCRequest is an outbound/inbound RPC call (§3).
type RPCRequest struct {
	Envelope
	Method  string                 `json:"method" msgpack:"method"`
	Params  map[string]interface{} `json:"params" msgpack:"params"`
	Timeout time.Duration          `json:"timeout" msgpack:"timeout"`
}

// NewRPCRequest constructs a request with the default 5s timeout applied
// when timeout <= 0.
func NewRPCRequest(method string, params map[string]interface{}, timeout time.Duration) (*RPCRequest, error) {
	if method == "" {
		return nil, NewError(ErrInvalidRequest, "method cannot be empty")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	env := NewEnvelope()
	env.CorrelationID = env.MessageID
	return &RPCRequest{Envelope: env, Method: method, Params: params, Timeout: timeout}, nil
}

// RPCResponse is the reply to an RPCRequest (§3). CorrelationID must echo
// the request's MessageID.
type RPCResponse struct {
	Envelope
	Success bool        `json:"success" msgpack:"success"`
	Result  interface{} `json:"result,omitempty" msgpack:"result,omitempty"`
	Error   ErrorCode   `json:"error,omitempty" msgpack:"error,omitempty"`
	Message string      `json:"message,omitempty" msgpack:"message,omitempty"`
}

// NewSuccessResponse builds a successful response correlated to req.
func NewSuccessResponse(req *RPCRequest, result interface{}) *RPCResponse {
	env := NewEnvelope()
	env.CorrelationID = req.MessageID
	env.TraceID = req.TraceID
	return &RPCResponse{Envelope: env, Success: true, Result: result}
}

// NewErrorResponse builds a failed response correlated to req.
func NewErrorResponse(req *RPCRequest, code ErrorCode, message string) *RPCResponse {
	env := NewEnvelope()
	env.CorrelationID = req.MessageID
	env.TraceID = req.TraceID
	return &RPCResponse{Envelope: env, Success: false, Error: code, Message: message}
}

// Event is a durable domain event (§3).
type Event struct {
	Envelope
	Domain    string                 `json:"domain" msgpack:"domain"`
	EventType string                 `json:"event_type" msgpack:"event_type"`
	Payload   map[string]interface{} `json:"payload" msgpack:"payload"`
	Version   string                 `json:"version" msgpack:"version"`
}

// NewEvent constructs an Event, defaulting Version to "1.0".
func NewEvent(domain, eventType string, payload map[string]interface{}) (*Event, error) {
	if domain == "" || eventType == "" {
		return nil, NewError(ErrInvalidRequest, "domain and event_type cannot be empty")
	}
	return &Event{Envelope: NewEnvelope(), Domain: domain, EventType: eventType, Payload: payload, Version: "1.0"}, nil
}

// Subject returns the events.{domain}.{event_type} subject for e.
func (e *Event) Subject() string { return "events." + e.Domain + "." + e.EventType }

// Command is a durable command (§3).
type Command struct {
	Envelope
	Name       string                 `json:"command" msgpack:"command"`
	Payload    map[string]interface{} `json:"payload" msgpack:"payload"`
	Priority   Priority               `json:"priority" msgpack:"priority"`
	MaxRetries int                    `json:"max_retries" msgpack:"max_retries"`
	Timeout    time.Duration          `json:"timeout" msgpack:"timeout"`
}

// NewCommand constructs a Command, applying defaults: priority NORMAL,
// max_retries 3, timeout 300s.
func NewCommand(name string, payload map[string]interface{}) (*Command, error) {
	if name == "" {
		return nil, NewError(ErrInvalidRequest, "command cannot be empty")
	}
	return &Command{
		Envelope:   NewEnvelope(),
		Name:       name,
		Payload:    payload,
		Priority:   PriorityNormal,
		MaxRetries: 3,
		Timeout:    300 * time.Second,
	}, nil
}

// Progress is the payload of a commands.{service}.{command}.progress.{id} event.
type Progress struct {
	Percent int    `json:"percent" msgpack:"percent"`
	Message string `json:"message" msgpack:"message"`
}
