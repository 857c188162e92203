package domain

import "errors"

var (
	// ErrNoCredential is returned when AI classification is enabled without an API key.
	ErrNoCredential = errors.New("classification service credential not configured")

	// ErrBootstrapAborted is returned when the operator declines to retry bootstrap.
	ErrBootstrapAborted = errors.New("bootstrap aborted by operator")

	// ErrNotRegistered is returned when registration never succeeded.
	ErrNotRegistered = errors.New("client registration failed")

	// ErrAckMismatch is returned when a buffer batch no longer matches the file head.
	ErrAckMismatch = errors.New("buffer changed since batch was read")
)
