// Package attendance ties device credentials, geofences, recovery codes and
// the daily ledger into the teacher check-in and check-out flows.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"

	"schoolattendance/internal/challenge"
	"schoolattendance/internal/clock"
	"schoolattendance/internal/credential"
	"schoolattendance/internal/geofence"
	"schoolattendance/internal/ledger"
	"schoolattendance/internal/recovery"
)

// Notification tells administrators that a teacher fell back to a recovery code.
type Notification struct {
	ID        string    `json:"id" cbor:"1,keyasint"`
	TeacherID string    `json:"teacher_id" cbor:"2,keyasint"`
	Event     string    `json:"event" cbor:"3,keyasint"`
	Message   string    `json:"message" cbor:"4,keyasint"`
	Reason    string    `json:"reason,omitempty" cbor:"5,keyasint,omitempty"`
	At        time.Time `json:"at" cbor:"6,keyasint"`
}

const (
	EventRecoveryCheckIn  = "recovery_check_in"
	EventRecoveryCheckOut = "recovery_check_out"
)

// NotificationSink delivers notifications. Failures never block attendance.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// RelyingParty identifies this service to authenticators.
type RelyingParty struct {
	ID   string
	Name string
}

// Deps are the collaborators of a Service.
type Deps struct {
	Directory  Directory
	Challenges *challenge.Session
	Registry   *credential.Registry
	Geofences  *geofence.Store
	Vault      *recovery.Vault
	Ledger     *ledger.Ledger
	Notifier   NotificationSink
	Clock      clock.Clock
	RP         RelyingParty
	// RequireUserVerification is advertised in the options handed to clients.
	RequireUserVerification bool
}

// Service runs the attendance flows.
type Service struct {
	Deps
	notifyTimeout time.Duration
}

func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.Real(time.UTC)
	}
	return &Service{Deps: d, notifyTimeout: 3 * time.Second}
}

// RegistrationOptions is what a client needs to create a credential.
type RegistrationOptions struct {
	Challenge        protocol.URLEncodedBase64 `json:"challenge"`
	RPID             string                    `json:"rp_id"`
	RPName           string                    `json:"rp_name"`
	UserReference    string                    `json:"user_reference"`
	UserVerification string                    `json:"user_verification"`
}

// RegistrationRequest is the client's new credential. ClientDataJSON must be
// of type webauthn.create over the issued challenge.
type RegistrationRequest struct {
	CredentialID   []byte
	PublicKey      []byte
	Counter        uint32
	Transports     string
	ClientDataJSON []byte
}

// AuthOptions is what a client needs to produce an assertion.
type AuthOptions struct {
	Challenge           protocol.URLEncodedBase64 `json:"challenge"`
	RPID                string                    `json:"rp_id"`
	AllowedCredentialID protocol.URLEncodedBase64 `json:"allowed_credential_id"`
	UserVerification    string                    `json:"user_verification"`
}

// Status is today's attendance state plus device registration.
type Status struct {
	ledger.Status
	Date               string `json:"date"`
	IsDeviceRegistered bool   `json:"is_device_registered"`
}

func (s *Service) RegisterOptions(ctx context.Context, teacherID string) (RegistrationOptions, error) {
	if err := s.ensureTeacher(ctx, teacherID); err != nil {
		return RegistrationOptions{}, err
	}
	if err := s.ensureUnregistered(ctx, teacherID); err != nil {
		return RegistrationOptions{}, err
	}
	ch, err := s.Challenges.Issue(ctx, teacherID)
	if err != nil {
		return RegistrationOptions{}, err
	}
	return RegistrationOptions{
		Challenge:        ch,
		RPID:             s.RP.ID,
		RPName:           s.RP.Name,
		UserReference:    teacherID,
		UserVerification: s.userVerification(),
	}, nil
}

func (s *Service) RegisterVerify(ctx context.Context, teacherID string, req RegistrationRequest) (credential.Credential, error) {
	if err := s.ensureTeacher(ctx, teacherID); err != nil {
		return credential.Credential{}, err
	}
	if len(req.CredentialID) == 0 || len(req.PublicKey) == 0 || len(req.ClientDataJSON) == 0 {
		return credential.Credential{}, Invalid("credential_id, public_key and client_data_json are required")
	}
	ch, err := s.Challenges.Consume(ctx, teacherID)
	if err != nil {
		return credential.Credential{}, err
	}
	if err := s.Registry.CheckRegistrationClientData(ch, req.ClientDataJSON); err != nil {
		return credential.Credential{}, err
	}
	cred, err := s.Registry.Register(ctx, teacherID, req.CredentialID, req.PublicKey, req.Counter, req.Transports)
	if err != nil {
		return credential.Credential{}, err
	}
	log.Printf("device registered for teacher %s", teacherID)
	return cred, nil
}

func (s *Service) AuthOptions(ctx context.Context, teacherID string) (AuthOptions, error) {
	if err := s.ensureTeacher(ctx, teacherID); err != nil {
		return AuthOptions{}, err
	}
	cred, err := s.Registry.Get(ctx, teacherID)
	if err != nil {
		return AuthOptions{}, err
	}
	ch, err := s.Challenges.Issue(ctx, teacherID)
	if err != nil {
		return AuthOptions{}, err
	}
	return AuthOptions{
		Challenge:           ch,
		RPID:                s.RP.ID,
		AllowedCredentialID: cred.CredentialID,
		UserVerification:    s.userVerification(),
	}, nil
}

// CheckIn verifies the assertion against the teacher's pending challenge,
// gates on location and opens today's record.
func (s *Service) CheckIn(ctx context.Context, teacherID string, a credential.Assertion, at geofence.Point) (ledger.Record, error) {
	if err := s.verifyPresence(ctx, teacherID, a, at); err != nil {
		return ledger.Record{}, err
	}
	return s.Ledger.CheckIn(ctx, teacherID, s.Clock.Today(), ledger.Mark{At: s.Clock.Now(), Method: ledger.MethodCredential})
}

// CheckOut is CheckIn's counterpart and closes today's record.
func (s *Service) CheckOut(ctx context.Context, teacherID string, a credential.Assertion, at geofence.Point) (ledger.Record, error) {
	if err := s.verifyPresence(ctx, teacherID, a, at); err != nil {
		return ledger.Record{}, err
	}
	return s.Ledger.CheckOut(ctx, teacherID, s.Clock.Today(), ledger.Mark{At: s.Clock.Now(), Method: ledger.MethodCredential})
}

// verifyPresence consumes the challenge, verifies the assertion and checks the
// location. The counter advance from a valid assertion stands even when the
// location is rejected, so the same assertion cannot be replayed.
func (s *Service) verifyPresence(ctx context.Context, teacherID string, a credential.Assertion, at geofence.Point) error {
	if err := s.ensureTeacher(ctx, teacherID); err != nil {
		return err
	}
	if err := geofence.ValidatePoint(at); err != nil {
		return Invalid(err.Error())
	}
	ch, err := s.Challenges.Consume(ctx, teacherID)
	if err != nil {
		return err
	}
	if _, err := s.Registry.VerifyAssertion(ctx, teacherID, ch, a); err != nil {
		return err
	}
	return s.gate(ctx, teacherID, at)
}

func (s *Service) RecoveryCheckIn(ctx context.Context, teacherID, code string, at geofence.Point, reason string) (ledger.Record, error) {
	if err := s.recover(ctx, teacherID, code, at, reason, EventRecoveryCheckIn); err != nil {
		return ledger.Record{}, err
	}
	return s.Ledger.CheckIn(ctx, teacherID, s.Clock.Today(), ledger.Mark{At: s.Clock.Now(), Method: ledger.MethodRecoveryCode, Reason: reason})
}

func (s *Service) RecoveryCheckOut(ctx context.Context, teacherID, code string, at geofence.Point, reason string) (ledger.Record, error) {
	if err := s.recover(ctx, teacherID, code, at, reason, EventRecoveryCheckOut); err != nil {
		return ledger.Record{}, err
	}
	return s.Ledger.CheckOut(ctx, teacherID, s.Clock.Today(), ledger.Mark{At: s.Clock.Now(), Method: ledger.MethodRecoveryCode, Reason: reason})
}

// recover gates on location before a code is touched, refuses transitions the
// ledger would reject anyway, then claims the code and notifies.
func (s *Service) recover(ctx context.Context, teacherID, code string, at geofence.Point, reason, event string) error {
	if err := s.ensureTeacher(ctx, teacherID); err != nil {
		return err
	}
	if err := geofence.ValidatePoint(at); err != nil {
		return Invalid(err.Error())
	}
	if err := s.gate(ctx, teacherID, at); err != nil {
		return err
	}

	st, err := s.Ledger.Status(ctx, teacherID, s.Clock.Today())
	if err != nil {
		return err
	}
	switch {
	case event == EventRecoveryCheckIn && st.State != ledger.NotCheckedIn:
		return ledger.ErrAlreadyCheckedIn
	case event == EventRecoveryCheckOut && st.State == ledger.NotCheckedIn:
		return ledger.ErrNotCheckedInYet
	case event == EventRecoveryCheckOut && st.State == ledger.CheckedOut:
		return ledger.ErrAlreadyCheckedOut
	}

	if _, err := s.Vault.Claim(ctx, teacherID, code, reason); err != nil {
		return err
	}

	verb := "check in"
	if event == EventRecoveryCheckOut {
		verb = "check out"
	}
	s.notify(ctx, Notification{
		ID:        uuid.NewString(),
		TeacherID: teacherID,
		Event:     event,
		Message:   fmt.Sprintf("Teacher %s used a recovery code to %s.", teacherID, verb),
		Reason:    reason,
		At:        s.Clock.Now(),
	})
	return nil
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if s.Notifier == nil {
		return
	}
	// Detached from the request so a client disconnect does not drop it.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	if err := s.Notifier.Notify(nctx, n); err != nil {
		log.Printf("notify %s for teacher %s failed: %v", n.Event, n.TeacherID, err)
	}
}

func (s *Service) Status(ctx context.Context, teacherID string) (Status, error) {
	if err := s.ensureTeacher(ctx, teacherID); err != nil {
		return Status{}, err
	}
	day := s.Clock.Today()
	st, err := s.Ledger.Status(ctx, teacherID, day)
	if err != nil {
		return Status{}, err
	}
	registered := true
	if _, err := s.Registry.Get(ctx, teacherID); err != nil {
		if !errors.Is(err, credential.ErrNoCredential) {
			return Status{}, err
		}
		registered = false
	}
	return Status{Status: st, Date: day, IsDeviceRegistered: registered}, nil
}

// History returns the teacher's records between from and to inclusive. Empty
// bounds default to the last 30 days.
func (s *Service) History(ctx context.Context, teacherID, from, to string) ([]ledger.Record, error) {
	if err := s.ensureTeacher(ctx, teacherID); err != nil {
		return nil, err
	}
	if to == "" {
		to = s.Clock.Today()
	}
	if from == "" {
		end, err := clock.ParseDate(to)
		if err != nil {
			return nil, Invalid("to must be a YYYY-MM-DD date")
		}
		from = end.AddDate(0, 0, -29).Format(clock.DateLayout)
	}
	recs, err := s.Ledger.History(ctx, teacherID, from, to)
	if errors.Is(err, ledger.ErrInvalidDay) {
		return nil, Invalid("from and to must be YYYY-MM-DD dates with from <= to")
	}
	return recs, err
}

// gate fails unless at lies inside a geofence.
func (s *Service) gate(ctx context.Context, teacherID string, at geofence.Point) error {
	_, err := s.Geofences.Locate(ctx, at)
	if errors.Is(err, geofence.ErrUndefined) {
		log.Printf("attendance denied for teacher %s: no geofence is defined", teacherID)
	}
	return err
}

func (s *Service) ensureTeacher(ctx context.Context, teacherID string) error {
	if teacherID == "" {
		return ErrNotTeacher
	}
	ok, err := s.Directory.IsTeacher(ctx, teacherID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotTeacher
	}
	return nil
}

func (s *Service) ensureUnregistered(ctx context.Context, teacherID string) error {
	_, err := s.Registry.Get(ctx, teacherID)
	switch {
	case err == nil:
		return credential.ErrAlreadyRegistered
	case errors.Is(err, credential.ErrNoCredential):
		return nil
	default:
		return err
	}
}

func (s *Service) userVerification() string {
	if s.RequireUserVerification {
		return string(protocol.VerificationRequired)
	}
	return string(protocol.VerificationPreferred)
}
