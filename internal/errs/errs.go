// Package errs defines the error taxonomy shared by every daemon component.
//
// Errors in the taxonomy wrap one of the sentinels below, via
// fmt.Errorf("...: %w", errs.ErrNotFound) or Wrap. Some input-validation
// errors (a malformed relay URL, a missing nostr-connect uri) are plain
// errors that wrap no sentinel. The control plane inspects errors with
// errors.Is to pick a response message.
package errs

import "errors"

// Sentinel errors, one per taxonomy entry in the daemon's error handling design.
var (
	// ErrNotFound indicates a session, approval task, or key id was not found.
	ErrNotFound = errors.New("not found")

	// ErrUnknownPolicy indicates an explicitly selected template id is not
	// in the policy registry. Implicit fallback (loading a persisted
	// record) never returns this; it silently substitutes the default.
	ErrUnknownPolicy = errors.New("unknown policy")

	// ErrSecretVaultFailure wraps a vault backend error.
	ErrSecretVaultFailure = errors.New("secret vault failure")

	// ErrProviderFailure wraps a provider start/resume/stop error.
	ErrProviderFailure = errors.New("provider failure")

	// ErrStoreFailure wraps a session-store or metadata-store error.
	ErrStoreFailure = errors.New("store failure")

	// ErrProtocolError indicates malformed control-plane JSON.
	ErrProtocolError = errors.New("protocol error")

	// ErrAlreadyRunning indicates another daemon instance owns the socket.
	ErrAlreadyRunning = errors.New("daemon already running")
)

// Is reports whether err ultimately wraps target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap wraps err with target as its sentinel, adding context.
func Wrap(target error, context string, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{target: target, context: context, cause: err}
}

type wrapped struct {
	target  error
	context string
	cause   error
}

func (w *wrapped) Error() string {
	if w.context == "" {
		return w.target.Error() + ": " + w.cause.Error()
	}
	return w.context + ": " + w.cause.Error()
}

func (w *wrapped) Is(target error) bool {
	return target == w.target
}

func (w *wrapped) Unwrap() error {
	return w.cause
}
