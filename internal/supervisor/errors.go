package supervisor

import (
	"errors"

	"github.com/edgewatch/camd/internal/mediamtx"
)

// Error taxonomy. Callers match with errors.Is to map failures onto their
// own surface (HTTP status codes, RPC error objects).
var (
	// ErrInvalidInput marks empty/missing required fields and malformed
	// configuration keys or values. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a referenced stream absent from the media server.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks duplicate recording starts and stops without a
	// matching start.
	ErrConflict = errors.New("conflict")

	// ErrNotStarted marks any operation attempted before Start or after
	// Stop. Connection-class: the shared client does not exist.
	ErrNotStarted = errors.New("supervisor not started")

	// ErrUnreachable marks transport-level failures talking to the media
	// server, distinct from API-level rejections.
	ErrUnreachable = mediamtx.ErrUnreachable
)
