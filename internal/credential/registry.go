package credential

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"

	"schoolattendance/internal/clock"
)

// Options binds verification to one relying party.
type Options struct {
	RPID                    string
	Origin                  string
	RequireUserVerification bool
}

// Assertion is the authenticator's signed proof for one challenge.
type Assertion struct {
	CredentialID      []byte
	ClientDataJSON    []byte
	AuthenticatorData []byte
	Signature         []byte
}

// Registry owns credentials and their counters.
type Registry struct {
	repo     Repository
	verifier Verifier
	clock    clock.Clock
	opts     Options
	rpIDHash [32]byte
}

func NewRegistry(repo Repository, verifier Verifier, clk clock.Clock, opts Options) *Registry {
	return &Registry{
		repo:     repo,
		verifier: verifier,
		clock:    clk,
		opts:     opts,
		rpIDHash: sha256.Sum256([]byte(opts.RPID)),
	}
}

// Register stores the teacher's only credential.
func (r *Registry) Register(ctx context.Context, teacherID string, credentialID, publicKey []byte, counter uint32, transports string) (Credential, error) {
	if teacherID == "" || len(credentialID) == 0 || len(publicKey) == 0 {
		return Credential{}, ErrIncompleteRegistration
	}
	if kv, ok := r.verifier.(KeyValidator); ok {
		if err := kv.ValidatePublicKey(publicKey); err != nil {
			return Credential{}, err
		}
	}
	if _, err := r.repo.Get(ctx, teacherID); err == nil {
		return Credential{}, ErrAlreadyRegistered
	} else if !errors.Is(err, ErrNoCredential) {
		return Credential{}, err
	}

	c := Credential{
		TeacherID:    teacherID,
		CredentialID: credentialID,
		PublicKey:    publicKey,
		Counter:      counter,
		Transports:   transports,
		CreatedAt:    r.clock.Now(),
	}
	if err := r.repo.Insert(ctx, c); err != nil {
		return Credential{}, err
	}
	return c, nil
}

// Get returns the teacher's credential or ErrNoCredential.
func (r *Registry) Get(ctx context.Context, teacherID string) (Credential, error) {
	return r.repo.Get(ctx, teacherID)
}

// Remove forgets the teacher's credential.
func (r *Registry) Remove(ctx context.Context, teacherID string) error {
	return r.repo.Remove(ctx, teacherID)
}

// CheckRegistrationClientData confirms that a registration payload was
// produced for challenge by this relying party.
func (r *Registry) CheckRegistrationClientData(challenge, clientDataJSON []byte) error {
	return r.checkClientData(protocol.CreateCeremony, challenge, clientDataJSON)
}

// VerifyAssertion checks a for teacherID against challenge. On success the
// stored counter is advanced to the assertion's counter and the updated
// credential is returned. A valid signature with a non-increasing counter
// yields ErrReplayDetected and leaves the stored counter untouched.
func (r *Registry) VerifyAssertion(ctx context.Context, teacherID string, challenge []byte, a Assertion) (Credential, error) {
	cred, err := r.repo.Get(ctx, teacherID)
	if err != nil {
		return Credential{}, err
	}
	if len(a.CredentialID) > 0 && !bytes.Equal(a.CredentialID, cred.CredentialID) {
		return Credential{}, fmt.Errorf("%w: credential id does not match the registered device", ErrSignatureInvalid)
	}
	if err := r.checkClientData(protocol.AssertCeremony, challenge, a.ClientDataJSON); err != nil {
		return Credential{}, err
	}

	var authData protocol.AuthenticatorData
	if err := authData.Unmarshal(a.AuthenticatorData); err != nil {
		return Credential{}, fmt.Errorf("%w: malformed authenticator data", ErrSignatureInvalid)
	}
	if subtle.ConstantTimeCompare(authData.RPIDHash, r.rpIDHash[:]) != 1 {
		return Credential{}, fmt.Errorf("%w: relying party mismatch", ErrSignatureInvalid)
	}
	if !authData.Flags.UserPresent() {
		return Credential{}, fmt.Errorf("%w: user presence not asserted", ErrSignatureInvalid)
	}
	if r.opts.RequireUserVerification && !authData.Flags.UserVerified() {
		return Credential{}, fmt.Errorf("%w: user verification required", ErrSignatureInvalid)
	}

	ok, err := r.verifier.Verify(cred.PublicKey, SignedData(a.AuthenticatorData, a.ClientDataJSON), a.Signature)
	if err != nil || !ok {
		return Credential{}, ErrSignatureInvalid
	}

	now := r.clock.Now()
	if err := r.repo.AdvanceCounter(ctx, teacherID, authData.Counter, now); err != nil {
		return Credential{}, err
	}
	cred.Counter = authData.Counter
	cred.LastUsedAt = &now
	return cred, nil
}

func (r *Registry) checkClientData(ceremony protocol.CeremonyType, challenge, raw []byte) error {
	var cd protocol.CollectedClientData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return fmt.Errorf("%w: malformed client data", ErrSignatureInvalid)
	}
	if cd.Type != ceremony {
		return fmt.Errorf("%w: unexpected ceremony %q", ErrSignatureInvalid, cd.Type)
	}
	got, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(cd.Challenge, "="))
	if err != nil || subtle.ConstantTimeCompare(got, challenge) != 1 {
		return fmt.Errorf("%w: challenge mismatch", ErrSignatureInvalid)
	}
	if r.opts.Origin != "" && cd.Origin != r.opts.Origin {
		return fmt.Errorf("%w: unexpected origin", ErrSignatureInvalid)
	}
	return nil
}
