// Package credential keeps the single platform credential each teacher may
// register and verifies signed assertions against it.
//
// An assertion is accepted only when the signature is valid AND the
// authenticator's use counter is strictly greater than the stored one. The
// counter is the only signal that an authenticator was cloned or rolled back,
// so it is advanced with a compare-and-swap and never moved backwards.
package credential

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAlreadyRegistered = errors.New("a device is already registered for this teacher")
	ErrNoCredential      = errors.New("no device registered for this teacher")
	ErrSignatureInvalid  = errors.New("assertion could not be verified")
	ErrReplayDetected    = errors.New("authenticator counter did not increase")
	ErrInvalidKey        = errors.New("public key is not a supported COSE key")

	ErrIncompleteRegistration = errors.New("teacher, credential id and public key are required")
)

// Credential is a teacher's registered platform authenticator.
type Credential struct {
	TeacherID    string     `json:"teacher_id"`
	CredentialID []byte     `json:"credential_id"`
	PublicKey    []byte     `json:"-"`
	Counter      uint32     `json:"counter"`
	Transports   string     `json:"transports,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// Repository persists credentials keyed by teacher id.
type Repository interface {
	// Insert stores c. It returns ErrAlreadyRegistered when the teacher already
	// has a credential or the credential id belongs to someone else.
	Insert(ctx context.Context, c Credential) error
	// Get returns ErrNoCredential when the teacher has none.
	Get(ctx context.Context, teacherID string) (Credential, error)
	// AdvanceCounter stores next as the teacher's counter only if the stored
	// counter is strictly lower, as one atomic step. It returns
	// ErrReplayDetected otherwise and ErrNoCredential when nothing is stored.
	AdvanceCounter(ctx context.Context, teacherID string, next uint32, usedAt time.Time) error
	// Remove deletes the teacher's credential so a new device can be registered.
	Remove(ctx context.Context, teacherID string) error
}

// Verifier checks a raw signature over data with a stored public key.
type Verifier interface {
	Verify(publicKey, data, signature []byte) (bool, error)
}

// KeyValidator is implemented by verifiers that can reject unusable public
// keys at registration time.
type KeyValidator interface {
	ValidatePublicKey(publicKey []byte) error
}
