package attendance

import (
	"errors"

	"schoolattendance/internal/challenge"
	"schoolattendance/internal/credential"
	"schoolattendance/internal/geofence"
	"schoolattendance/internal/ledger"
	"schoolattendance/internal/recovery"
)

// Kind is the stable, machine-readable name of a failure.
type Kind string

const (
	KindAlreadyRegistered Kind = "already_registered"
	KindNoCredential      Kind = "no_credential"
	KindNoChallengeFound  Kind = "no_challenge_found"
	KindSignatureInvalid  Kind = "signature_invalid"
	KindReplayDetected    Kind = "replay_detected"
	KindOutsideGeofence   Kind = "outside_geofence"
	KindGeofenceUndefined Kind = "geofence_undefined"
	KindAlreadyCheckedIn  Kind = "already_checked_in"
	KindAlreadyCheckedOut Kind = "already_checked_out"
	KindNotCheckedInYet   Kind = "not_checked_in_yet"
	KindInvalidRecovery   Kind = "invalid_or_used_recovery_code"
	KindNotTeacher        Kind = "not_teacher"
	KindGeofenceNameTaken Kind = "geofence_name_taken"
	KindInvalidRequest    Kind = "invalid_request"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal_error"
)

var ErrNotTeacher = errors.New("only teachers can use attendance")

// Error carries a Kind with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Invalid reports a malformed request.
func Invalid(msg string) error {
	return &Error{Kind: KindInvalidRequest, Message: msg}
}

var sentinelKinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotTeacher, KindNotTeacher},
	{challenge.ErrNotFound, KindNoChallengeFound},
	{credential.ErrAlreadyRegistered, KindAlreadyRegistered},
	{credential.ErrNoCredential, KindNoCredential},
	{credential.ErrSignatureInvalid, KindSignatureInvalid},
	{credential.ErrReplayDetected, KindReplayDetected},
	{credential.ErrInvalidKey, KindInvalidRequest},
	{credential.ErrIncompleteRegistration, KindInvalidRequest},
	{geofence.ErrOutside, KindOutsideGeofence},
	{geofence.ErrUndefined, KindGeofenceUndefined},
	{geofence.ErrNotFound, KindNotFound},
	{geofence.ErrNameTaken, KindGeofenceNameTaken},
	{ledger.ErrAlreadyCheckedIn, KindAlreadyCheckedIn},
	{ledger.ErrAlreadyCheckedOut, KindAlreadyCheckedOut},
	{ledger.ErrNotCheckedInYet, KindNotCheckedInYet},
	{ledger.ErrInvalidDay, KindInvalidRequest},
	{ledger.ErrInvalidMethod, KindInvalidRequest},
	{recovery.ErrInvalid, KindInvalidRecovery},
}

// KindOf classifies err. Anything not recognised is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var ge *geofence.InvalidError
	if errors.As(err, &ge) {
		return KindInvalidRequest
	}
	for _, s := range sentinelKinds {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindInternal
}

// MessageOf returns the text safe to show a caller. Internal failures are
// never described.
func MessageOf(err error) string {
	if KindOf(err) == KindInternal {
		return "internal error"
	}
	return err.Error()
}
