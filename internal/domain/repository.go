package domain

import (
	"context"
	"time"
)

// ProcessLister enumerates running processes.
// Implementation: uses gopsutil for cross-platform support.
type ProcessLister interface {
	// ListNames returns the names of all running processes (duplicates allowed).
	ListNames(ctx context.Context) ([]string, error)
}

// ConnectionLister enumerates network connections.
type ConnectionLister interface {
	// Established returns established connections that have a remote address.
	Established(ctx context.Context) ([]Connection, error)
}

// HostResolver performs reverse DNS lookups.
type HostResolver interface {
	// ReverseLookup returns the hostname for an IP address.
	ReverseLookup(ctx context.Context, ip string) (string, error)
}

// Classifier decides whether a process name is forbidden.
type Classifier interface {
	Classify(ctx context.Context, name string) Verdict
}

// HostClassifier decides whether a resolved remote hostname is allowed.
type HostClassifier interface {
	ClassifyHost(host string) Verdict
}

// TextClassifier is the remote text-classification service.
// Implementation: OpenAI-compatible chat completion API.
type TextClassifier interface {
	// Complete sends the prompt and returns the free-text answer.
	Complete(ctx context.Context, prompt string) (string, error)
}

// BufferBatch is a snapshot of the head of the event buffer.
type BufferBatch struct {
	Records [][]byte
	size    int64
	token   string
}

// NewBufferBatch creates a batch covering the first size bytes of the buffer.
// The token identifies those bytes so a later Ack can detect changes.
func NewBufferBatch(records [][]byte, size int64, token string) BufferBatch {
	return BufferBatch{Records: records, size: size, token: token}
}

// Size returns the number of buffer bytes the batch covers.
func (b BufferBatch) Size() int64 {
	return b.size
}

// Token returns the fingerprint of the covered bytes.
func (b BufferBatch) Token() string {
	return b.token
}

// Empty reports whether the batch has no records.
func (b BufferBatch) Empty() bool {
	return len(b.Records) == 0
}

// EventBuffer is the durable local store of pending events.
// Implementation: newline-delimited JSON file, fsynced on every append.
type EventBuffer interface {
	// Append durably writes one event before returning.
	Append(ev ViolationEvent) error

	// DrainAll atomically reads and removes every buffered record.
	DrainAll() ([][]byte, error)

	// Pending reads every buffered record without removing it.
	Pending() (BufferBatch, error)

	// Ack removes the records of a batch previously returned by Pending.
	// Records appended after the batch was read are kept.
	Ack(batch BufferBatch) error

	// Len returns the number of buffered records.
	Len() (int, error)
}

// AdminClient talks to the lab admin server.
type AdminClient interface {
	// Probe checks server liveness.
	Probe(ctx context.Context) bool

	// Register obtains a client id and optional lab prompt.
	Register(ctx context.Context, labCode, clientName string) (*Session, DeliveryResult)

	// Heartbeat reports this client as alive.
	Heartbeat(ctx context.Context, clientID string) DeliveryResult

	// SendAlert pushes one violation immediately.
	SendAlert(ctx context.Context, labCode, clientID string, ev ViolationEvent) DeliveryResult

	// SendLogs uploads raw buffered records.
	SendLogs(ctx context.Context, clientID string, records [][]byte) DeliveryResult
}

// Reporter forwards a detected violation to every delivery path.
type Reporter interface {
	Report(ctx context.Context, ev ViolationEvent)
}

// Operator answers bootstrap questions in manual mode.
type Operator interface {
	// ConfirmRetry asks whether a failed bootstrap stage should be retried.
	ConfirmRetry(stage string, cause error) bool
}

// SecretStore provides encrypted persistent storage for credentials.
type SecretStore interface {
	// GetSecret retrieves a secret by key.
	GetSecret(key string) (string, error)

	// SetSecret stores a secret.
	SetSecret(key, value string) error

	// ListSecrets returns the stored secret keys.
	ListSecrets() ([]string, error)

	// Close releases resources (e.g., database connection).
	Close() error
}

// StateStore persists the running agent's AgentState.
type StateStore interface {
	// Save replaces the stored state.
	Save(state AgentState) error

	// Load returns the stored state, or nil when none exists.
	Load() (*AgentState, error)

	// Touch records a successful heartbeat.
	Touch(at time.Time) error

	// Clear removes the stored state.
	Clear() error

	// Path returns the state file location.
	Path() string
}
