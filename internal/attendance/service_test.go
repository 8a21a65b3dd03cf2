package attendance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/challenge"
	"schoolattendance/internal/clock"
	"schoolattendance/internal/credential"
	"schoolattendance/internal/credential/credentialtest"
	"schoolattendance/internal/geofence"
	"schoolattendance/internal/ledger"
	"schoolattendance/internal/notify"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/recovery"
)

const (
	rpID   = "school.example"
	origin = "https://school.example"
)

var (
	campus = geofence.Polygon{
		{Lat: 13.0287, Lon: 80.0152},
		{Lat: 13.0287, Lon: 80.0161},
		{Lat: 13.0276, Lon: 80.0161},
		{Lat: 13.0276, Lon: 80.0152},
	}
	inside  = geofence.Point{Lat: 13.0280, Lon: 80.0157}
	outside = geofence.Point{Lat: 13.0000, Lon: 80.0000}
)

type fakeSink struct {
	mu  sync.Mutex
	got []attendance.Notification
	err error
}

func (s *fakeSink) Notify(_ context.Context, n attendance.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return s.err
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type fixture struct {
	svc       *attendance.Service
	clock     *clock.Fake
	geofences *geofence.Store
	vault     *recovery.Vault
	registry  *credential.Registry
	sink      *fakeSink
	device    *credentialtest.Authenticator
}

func newFixture(t *testing.T, withGeofence bool) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	geofences := geofence.NewStore(geofence.NewMemoryRepository(), clk, time.Minute)
	if withGeofence {
		_, err := geofences.Create(context.Background(), "Main campus", []geofence.Polygon{campus})
		require.NoError(t, err)
	}
	registry := credential.NewRegistry(credential.NewMemoryRepository(), credential.COSEVerifier{}, clk, credential.Options{
		RPID: rpID, Origin: origin, RequireUserVerification: true,
	})
	vault := recovery.NewVault(recovery.NewMemoryRepository(), recovery.BcryptHasher{Cost: bcrypt.MinCost}, clk)
	sink := &fakeSink{}
	device, err := credentialtest.New(rpID, origin)
	require.NoError(t, err)

	svc := attendance.NewService(attendance.Deps{
		Directory:               attendance.NewMemoryDirectory("T1", "T2"),
		Challenges:              challenge.NewSession(challenge.NewMemoryStore(clk), 5*time.Minute),
		Registry:                registry,
		Geofences:               geofences,
		Vault:                   vault,
		Ledger:                  ledger.New(ledger.NewMemoryRepository()),
		Notifier:                sink,
		Clock:                   clk,
		RP:                      attendance.RelyingParty{ID: rpID, Name: "Springfield High"},
		RequireUserVerification: true,
	})
	return &fixture{svc: svc, clock: clk, geofences: geofences, vault: vault, registry: registry, sink: sink, device: device}
}

func (f *fixture) register(t *testing.T, teacher string) {
	t.Helper()
	ctx := context.Background()
	opts, err := f.svc.RegisterOptions(ctx, teacher)
	require.NoError(t, err)
	_, err = f.svc.RegisterVerify(ctx, teacher, attendance.RegistrationRequest{
		CredentialID:   f.device.ID,
		PublicKey:      f.device.PublicKey(),
		Counter:        f.device.Counter(),
		Transports:     "internal",
		ClientDataJSON: f.device.RegistrationClientData(opts.Challenge),
	})
	require.NoError(t, err)
}

// assertion asks for a fresh challenge and signs it.
func (f *fixture) assertion(t *testing.T, teacher string) credential.Assertion {
	t.Helper()
	opts, err := f.svc.AuthOptions(context.Background(), teacher)
	require.NoError(t, err)
	assert.Equal(t, []byte(f.device.ID), []byte(opts.AllowedCredentialID))
	return f.device.Assert(opts.Challenge)
}

func TestService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	st, err := f.svc.Status(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, ledger.NotCheckedIn, st.State)
	assert.False(t, st.IsDeviceRegistered)

	f.register(t, "T1")

	rec, err := f.svc.CheckIn(ctx, "T1", f.assertion(t, "T1"), inside)
	require.NoError(t, err)
	assert.True(t, rec.CheckInTime.Equal(f.clock.Now()))
	assert.Equal(t, ledger.MethodCredential, rec.CheckInMethod)

	st, err = f.svc.Status(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, ledger.CheckedIn, st.State)
	assert.True(t, st.IsDeviceRegistered)
	assert.Equal(t, "2026-03-02", st.Date)

	f.clock.Advance(8 * time.Hour)
	_, err = f.svc.CheckOut(ctx, "T1", f.assertion(t, "T1"), outside)
	assert.ErrorIs(t, err, geofence.ErrOutside)
	assert.Equal(t, attendance.KindOutsideGeofence, attendance.KindOf(err))

	st, err = f.svc.Status(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, ledger.CheckedIn, st.State)

	rec, err = f.svc.CheckOut(ctx, "T1", f.assertion(t, "T1"), inside)
	require.NoError(t, err)
	require.NotNil(t, rec.CheckOutTime)
	assert.True(t, rec.CheckOutTime.Equal(f.clock.Now()))

	st, err = f.svc.Status(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, ledger.CheckedOut, st.State)
	require.NotNil(t, st.CheckOutTime)
}

func TestService_RegisterTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.register(t, "T1")

	_, err := f.svc.RegisterOptions(ctx, "T1")
	assert.Equal(t, attendance.KindAlreadyRegistered, attendance.KindOf(err))
}

func TestService_RegisterVerifyNeedsChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	_, err := f.svc.RegisterVerify(ctx, "T1", attendance.RegistrationRequest{
		CredentialID:   f.device.ID,
		PublicKey:      f.device.PublicKey(),
		ClientDataJSON: f.device.RegistrationClientData([]byte("0123456789abcdef")),
	})
	assert.Equal(t, attendance.KindNoChallengeFound, attendance.KindOf(err))

	opts, err := f.svc.RegisterOptions(ctx, "T1")
	require.NoError(t, err)
	_, err = f.svc.RegisterVerify(ctx, "T1", attendance.RegistrationRequest{
		CredentialID:   f.device.ID,
		PublicKey:      f.device.PublicKey(),
		ClientDataJSON: f.device.RegistrationClientData(append([]byte{}, opts.Challenge[1:]...)),
	})
	assert.Equal(t, attendance.KindSignatureInvalid, attendance.KindOf(err))
}

func TestService_CheckInWithoutChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.register(t, "T1")

	_, err := f.svc.CheckIn(ctx, "T1", f.device.Assert([]byte("0123456789abcdef")), inside)
	assert.ErrorIs(t, err, challenge.ErrNotFound)
	assert.Equal(t, attendance.KindNoChallengeFound, attendance.KindOf(err))
}

func TestService_AuthOptionsWithoutDevice(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.AuthOptions(context.Background(), "T1")
	assert.Equal(t, attendance.KindNoCredential, attendance.KindOf(err))
}

func TestService_OutsideStillConsumesCounter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.register(t, "T1")

	_, err := f.svc.CheckIn(ctx, "T1", f.assertion(t, "T1"), outside)
	assert.Equal(t, attendance.KindOutsideGeofence, attendance.KindOf(err))

	cred, err := f.registry.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cred.Counter)

	// Resubmitting the same counter over a new challenge is a replay.
	opts, err := f.svc.AuthOptions(ctx, "T1")
	require.NoError(t, err)
	_, err = f.svc.CheckIn(ctx, "T1", f.device.AssertWithCounter(opts.Challenge, 1), inside)
	assert.Equal(t, attendance.KindReplayDetected, attendance.KindOf(err))

	st, err := f.svc.Status(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, ledger.NotCheckedIn, st.State)
}

func TestService_ChallengeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.register(t, "T1")

	a := f.assertion(t, "T1")
	_, err := f.svc.CheckIn(ctx, "T1", a, inside)
	require.NoError(t, err)

	_, err = f.svc.CheckOut(ctx, "T1", a, inside)
	assert.Equal(t, attendance.KindNoChallengeFound, attendance.KindOf(err))
}

func TestService_LedgerErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.register(t, "T1")

	_, err := f.svc.CheckOut(ctx, "T1", f.assertion(t, "T1"), inside)
	assert.Equal(t, attendance.KindNotCheckedInYet, attendance.KindOf(err))

	_, err = f.svc.CheckIn(ctx, "T1", f.assertion(t, "T1"), inside)
	require.NoError(t, err)
	_, err = f.svc.CheckIn(ctx, "T1", f.assertion(t, "T1"), inside)
	assert.Equal(t, attendance.KindAlreadyCheckedIn, attendance.KindOf(err))

	_, err = f.svc.CheckOut(ctx, "T1", f.assertion(t, "T1"), inside)
	require.NoError(t, err)
	_, err = f.svc.CheckOut(ctx, "T1", f.assertion(t, "T1"), inside)
	assert.Equal(t, attendance.KindAlreadyCheckedOut, attendance.KindOf(err))
}

func TestService_NoGeofenceFailsClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.register(t, "T1")

	_, err := f.svc.CheckIn(ctx, "T1", f.assertion(t, "T1"), inside)
	assert.ErrorIs(t, err, geofence.ErrUndefined)
	assert.Equal(t, attendance.KindGeofenceUndefined, attendance.KindOf(err))
}

func TestService_NotTeacher(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	_, err := f.svc.RegisterOptions(ctx, "S42")
	assert.Equal(t, attendance.KindNotTeacher, attendance.KindOf(err))
	_, err = f.svc.Status(ctx, "")
	assert.Equal(t, attendance.KindNotTeacher, attendance.KindOf(err))
	_, err = f.svc.RecoveryCheckIn(ctx, "S42", "ABC123", inside, "")
	assert.Equal(t, attendance.KindNotTeacher, attendance.KindOf(err))
}

func TestService_InvalidLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.register(t, "T1")

	_, err := f.svc.CheckIn(ctx, "T1", f.assertion(t, "T1"), geofence.Point{Lat: 123, Lon: 80})
	assert.Equal(t, attendance.KindInvalidRequest, attendance.KindOf(err))
}

func TestService_RecoveryFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.vault.Add(ctx, "T1", "ABC123", "XYZ789")
	require.NoError(t, err)

	// Outside: no code is burned.
	_, err = f.svc.RecoveryCheckIn(ctx, "T1", "ABC123", outside, "")
	assert.Equal(t, attendance.KindOutsideGeofence, attendance.KindOf(err))
	unused, err := f.vault.ListUnused(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, unused, 2)

	_, err = f.svc.RecoveryCheckIn(ctx, "T1", "WRONG1", inside, "")
	assert.Equal(t, attendance.KindInvalidRecovery, attendance.KindOf(err))

	rec, err := f.svc.RecoveryCheckIn(ctx, "T1", "ABC123", inside, "phone battery dead")
	require.NoError(t, err)
	assert.Equal(t, ledger.MethodRecoveryCode, rec.CheckInMethod)
	assert.Equal(t, "phone battery dead", rec.CheckInReason)
	require.Equal(t, 1, f.sink.count())
	assert.Equal(t, attendance.EventRecoveryCheckIn, f.sink.got[0].Event)
	assert.Equal(t, "T1", f.sink.got[0].TeacherID)

	// Already checked in: refused before the second code is claimed.
	_, err = f.svc.RecoveryCheckIn(ctx, "T1", "XYZ789", inside, "")
	assert.Equal(t, attendance.KindAlreadyCheckedIn, attendance.KindOf(err))
	unused, err = f.vault.ListUnused(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, unused, 1)

	// A used code cannot check out.
	_, err = f.svc.RecoveryCheckOut(ctx, "T1", "ABC123", inside, "")
	assert.Equal(t, attendance.KindInvalidRecovery, attendance.KindOf(err))

	rec, err = f.svc.RecoveryCheckOut(ctx, "T1", "xyz-789", inside, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.MethodRecoveryCode, rec.CheckOutMethod)
	assert.Equal(t, 2, f.sink.count())
}

func TestService_RecoveryCheckOutBeforeCheckIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.vault.Add(ctx, "T1", "ABC123")
	require.NoError(t, err)

	_, err = f.svc.RecoveryCheckOut(ctx, "T1", "ABC123", inside, "")
	assert.Equal(t, attendance.KindNotCheckedInYet, attendance.KindOf(err))
	unused, err := f.vault.ListUnused(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, unused, 1)
}

func TestService_NotificationFailureDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.sink.err = errors.New("smtp down")
	_, err := f.vault.Add(ctx, "T1", "ABC123")
	require.NoError(t, err)

	rec, err := f.svc.RecoveryCheckIn(ctx, "T1", "ABC123", inside, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.CheckedIn, rec.State())
	assert.Equal(t, 1, f.sink.count())
}

func TestService_RecoveryNotStalledByFullQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	full := queue.NewInMemory(1)
	require.NoError(t, full.Publish(ctx, queue.Message{Type: notify.MessageType}))
	f.svc.Notifier = notify.NewQueueSink(full)
	_, err := f.vault.Add(ctx, "T1", "ABC123")
	require.NoError(t, err)

	start := time.Now()
	rec, err := f.svc.RecoveryCheckIn(ctx, "T1", "ABC123", inside, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.MethodRecoveryCode, rec.CheckInMethod)
	assert.Less(t, time.Since(start), time.Second)
}

func TestService_ConcurrentRecoveryClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.vault.Add(ctx, "T1", "ABC123")
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.RecoveryCheckIn(ctx, "T1", "ABC123", inside, "")
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		// The loser either lost the code race or saw the winner's record first.
		kind := attendance.KindOf(err)
		assert.Contains(t, []attendance.Kind{attendance.KindInvalidRecovery, attendance.KindAlreadyCheckedIn}, kind)
	}
	assert.Equal(t, 1, ok)
}

func TestService_History(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.register(t, "T1")

	for i := 0; i < 3; i++ {
		_, err := f.svc.CheckIn(ctx, "T1", f.assertion(t, "T1"), inside)
		require.NoError(t, err)
		f.clock.Advance(24 * time.Hour)
	}

	recs, err := f.svc.History(ctx, "T1", "2026-03-03", "2026-03-04")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "2026-03-03", recs[0].Day)

	recs, err = f.svc.History(ctx, "T1", "", "")
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	_, err = f.svc.History(ctx, "T1", "yesterday", "")
	assert.Equal(t, attendance.KindInvalidRequest, attendance.KindOf(err))
}
