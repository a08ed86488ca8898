package domain

import "errors"

var (
	// ErrNotConnected is returned when a command requires a live connection.
	ErrNotConnected = errors.New("not connected to session")
	// ErrAlreadyConnected is returned by join flows when a session is live.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrAuthRejected indicates the server refused the authenticate handshake.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrRecoveryFailed indicates the server could not restore the session;
	// the stored credential has been purged and a fresh join is required.
	ErrRecoveryFailed = errors.New("session recovery failed")
	// ErrSessionEnded is returned when acting on a session in its terminal phase.
	ErrSessionEnded = errors.New("session has ended")
	// ErrQueuedOffline signals that an action was captured for later replay
	// rather than delivered.
	ErrQueuedOffline = errors.New("action queued while offline")
	// ErrNoCredential is returned when recovery is requested without a stored credential.
	ErrNoCredential = errors.New("no stored credential")
	// ErrCredentialExpired is returned when the stored session token is past its expiry.
	ErrCredentialExpired = errors.New("stored credential expired")
	// ErrRoleForbidden is returned when a command is not enabled for the client's role.
	ErrRoleForbidden = errors.New("command not allowed for role")
	// ErrKicked and ErrBanned are terminal moderation outcomes.
	ErrKicked = errors.New("removed from session by host")
	ErrBanned = errors.New("banned from session")
	// ErrAckTimeout is returned when the server does not acknowledge a
	// submission within the configured window.
	ErrAckTimeout = errors.New("timed out waiting for server acknowledgment")
	// ErrAnswerInFlight is returned when a submission is attempted while an
	// earlier one still awaits its acknowledgment.
	ErrAnswerInFlight = errors.New("another answer is awaiting acknowledgment")
	// ErrAnswerRejected is returned when the server refuses a submission.
	ErrAnswerRejected = errors.New("answer rejected")
)
