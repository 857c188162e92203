// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no infrastructure dependencies.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is the identity handed out by the admin server at registration.
// It is created once at startup and never mutated afterwards.
type Session struct {
	ClientID     string
	PolicyPrompt string // Lab-specific classification prompt, may be empty
}

// ViolationKind identifies what produced a violation.
type ViolationKind string

const (
	KindProcess ViolationKind = "process"
	KindNetwork ViolationKind = "network"
)

// ViolationEvent is a single detected violation.
type ViolationEvent struct {
	ID        string
	Kind      ViolationKind
	Subject   string // Process name or resolved hostname
	Timestamp time.Time
}

// NewViolationEvent creates an event with a fresh ID.
func NewViolationEvent(kind ViolationKind, subject string, at time.Time) ViolationEvent {
	return ViolationEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Subject:   subject,
		Timestamp: at,
	}
}

// Message renders the human-readable alert text sent to the admin server.
func (e ViolationEvent) Message() string {
	switch e.Kind {
	case KindProcess:
		return fmt.Sprintf("Forbidden app detected: %s", e.Subject)
	case KindNetwork:
		return fmt.Sprintf("Unauthorized network access: %s", e.Subject)
	default:
		return fmt.Sprintf("Violation detected: %s", e.Subject)
	}
}

// Verdict is the outcome of classifying a subject.
type Verdict int

const (
	Allowed Verdict = iota
	Forbidden
)

func (v Verdict) String() string {
	if v == Forbidden {
		return "forbidden"
	}
	return "allowed"
}

// DedupMode selects how repeated violations of the same subject are suppressed.
type DedupMode string

const (
	// DedupDebounce re-alerts a subject once its cool-down has elapsed.
	DedupDebounce DedupMode = "debounce"
	// DedupOnce alerts a subject at most once per process lifetime.
	DedupOnce DedupMode = "once"
)

// Policy is the allow/deny configuration loaded once at startup.
type Policy struct {
	ForbiddenNames        []string
	AllowedHostSubstrings []string
	WhitelistNames        []string
}

// Connection is an established network connection observed on this machine.
type Connection struct {
	PID        int32
	RemoteIP   string
	RemotePort uint32
}

// DeliveryStatus classifies the outcome of a call to the admin server.
type DeliveryStatus int

const (
	Delivered DeliveryStatus = iota
	TransportError
	ServerRejected
)

func (s DeliveryStatus) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case TransportError:
		return "transport_error"
	case ServerRejected:
		return "server_rejected"
	default:
		return "unknown"
	}
}

// DeliveryResult captures what happened during a single admin server call.
type DeliveryResult struct {
	Status     DeliveryStatus
	StatusCode int   // HTTP status, zero on transport errors
	Err        error // Set unless Status is Delivered
}

// OK reports whether the call was delivered.
func (r DeliveryResult) OK() bool {
	return r.Status == Delivered
}

// ScanResult captures what happened during a single poller scan.
type ScanResult struct {
	Kind       ViolationKind
	Inspected  int
	Violations []ViolationEvent
	Errors     []error
	ExecutedAt time.Time
	DurationMs int64
}

// AgentState is what a running agent records about itself so that one-shot
// commands (flush, status) can act on its session.
type AgentState struct {
	PID           int       `json:"pid"`
	ClientID      string    `json:"client_id"`
	LabCode       string    `json:"lab_code"`
	ServerURL     string    `json:"server_url"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
}
