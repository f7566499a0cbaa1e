package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DomainError is a rollback-core error with a structured code.
// Codes follow RM-<AREA>-<NNNN>; the first digit of the number separates
// recoverable (4) from session-fatal (5) conditions.
type DomainError struct {
	Code    string // Error code (e.g., "RM-CKPT-5001")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true // Only check if it's a DomainError
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsFatal reports whether err is a session-fatal DomainError.
func IsFatal(err error) bool {
	code := GetErrorCode(err)
	if code == "" {
		return false
	}
	i := strings.LastIndexByte(code, '-')
	return i >= 0 && i+1 < len(code) && code[i+1] == '5'
}

// Session errors (SYNC).
var (
	// ErrInvalidInput indicates a local input of the wrong size.
	ErrInvalidInput = NewDomainError("RM-SYNC-4001", "invalid input")

	// ErrUnknownPeer indicates an operation on a peer outside the roster.
	ErrUnknownPeer = NewDomainError("RM-SYNC-4040", "unknown peer")

	// ErrPeerExists indicates a join for a peer that is already active.
	ErrPeerExists = NewDomainError("RM-SYNC-4090", "peer already in session")

	// ErrInvalidConfig indicates a session configuration that cannot work.
	ErrInvalidConfig = NewDomainError("RM-SYNC-4002", "invalid session config")

	// ErrSessionAborted indicates the session hit a fatal condition earlier.
	ErrSessionAborted = NewDomainError("RM-SYNC-5000", "session aborted")

	// ErrDesyncDetected indicates state divergence under the abort policy.
	ErrDesyncDetected = NewDomainError("RM-SYNC-5001", "desync detected")

	// ErrSimulation indicates the simulation collaborator failed.
	ErrSimulation = NewDomainError("RM-SYNC-5002", "simulation failure")
)

// Checkpoint errors (CKPT).
var (
	// ErrCheckpointMissing indicates a checkpoint that must exist does not.
	ErrCheckpointMissing = NewDomainError("RM-CKPT-5001", "checkpoint missing")

	// ErrCheckpointCapacity indicates the store would exceed its retention window.
	ErrCheckpointCapacity = NewDomainError("RM-CKPT-5002", "checkpoint capacity exceeded")
)

// Rollback errors (ROLL).
var (
	// ErrRollbackDepth indicates a correction older than the prediction window.
	ErrRollbackDepth = NewDomainError("RM-ROLL-5001", "rollback depth exceeds prediction window")
)

// Protocol errors (PROT).
var (
	// ErrMalformedMessage indicates a packet that could not be decoded.
	ErrMalformedMessage = NewDomainError("RM-PROT-4000", "malformed message")

	// ErrUnsupportedKind indicates a message kind this build does not know.
	ErrUnsupportedKind = NewDomainError("RM-PROT-4001", "unsupported message kind")
)

// Storage errors (SAVE, JRNL).
var (
	// ErrSaveNotFound indicates no readable save exists.
	ErrSaveNotFound = NewDomainError("RM-SAVE-4040", "save not found")

	// ErrSaveCorrupted indicates a save failed its integrity check.
	ErrSaveCorrupted = NewDomainError("RM-SAVE-4220", "save corrupted")

	// ErrJournalClosed indicates use of a closed journal.
	ErrJournalClosed = NewDomainError("RM-JRNL-4000", "journal closed")

	// ErrJournalFrameNotFound indicates a frame absent from the journal.
	ErrJournalFrameNotFound = NewDomainError("RM-JRNL-4040", "journal frame not found")

	// ErrJournalGap indicates a journal whose frames are not contiguous.
	ErrJournalGap = NewDomainError("RM-JRNL-4220", "journal has a gap")
)
