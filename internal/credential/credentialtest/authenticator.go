// Package credentialtest provides a software platform authenticator for tests.
package credentialtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-webauthn/webauthn/protocol"

	"schoolattendance/internal/credential"
)

// COSE_Key labels and values for an ES256 key on P-256.
const (
	coseKty    = 1
	coseAlg    = 3
	coseCrv    = -1
	coseX      = -2
	coseY      = -3
	ktyEC2     = 2
	algES256   = -7
	crvP256    = 1
	coordBytes = 32
)

// Authenticator signs assertions with an ES256 key and a monotonic counter.
type Authenticator struct {
	RPID   string
	Origin string
	ID     []byte
	Flags  protocol.AuthenticatorFlags

	mu      sync.Mutex
	key     *ecdsa.PrivateKey
	counter uint32
}

// New creates an authenticator for the relying party with user presence and
// user verification flags set.
func New(rpID, origin string) (*Authenticator, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return nil, err
	}
	return &Authenticator{
		RPID:   rpID,
		Origin: origin,
		ID:     id,
		Flags:  protocol.FlagUserPresent | protocol.FlagUserVerified,
		key:    key,
	}, nil
}

// PublicKey returns the COSE_Key encoding of the public key.
func (a *Authenticator) PublicKey() []byte {
	x := a.key.PublicKey.X.FillBytes(make([]byte, coordBytes))
	y := a.key.PublicKey.Y.FillBytes(make([]byte, coordBytes))
	b, err := cbor.Marshal(map[int]any{
		coseKty: ktyEC2,
		coseAlg: algES256,
		coseCrv: crvP256,
		coseX:   x,
		coseY:   y,
	})
	if err != nil {
		panic(err)
	}
	return b
}

// Counter reports the last counter value used.
func (a *Authenticator) Counter() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counter
}

// SetCounter rewinds or advances the counter, e.g. to simulate a clone.
func (a *Authenticator) SetCounter(n uint32) {
	a.mu.Lock()
	a.counter = n
	a.mu.Unlock()
}

// RegistrationClientData returns client data for a registration ceremony.
func (a *Authenticator) RegistrationClientData(challenge []byte) []byte {
	return credential.BuildClientData(protocol.CreateCeremony, challenge, a.Origin)
}

// Assert increments the counter and signs challenge.
func (a *Authenticator) Assert(challenge []byte) credential.Assertion {
	a.mu.Lock()
	a.counter++
	n := a.counter
	a.mu.Unlock()
	return a.AssertWithCounter(challenge, n)
}

// AssertWithCounter signs challenge with an explicit counter value and does
// not touch the internal counter.
func (a *Authenticator) AssertWithCounter(challenge []byte, counter uint32) credential.Assertion {
	clientData := credential.BuildClientData(protocol.AssertCeremony, challenge, a.Origin)
	authData := credential.BuildAuthenticatorData(a.RPID, a.Flags, counter)
	digest := sha256.Sum256(credential.SignedData(authData, clientData))
	sig, err := ecdsa.SignASN1(rand.Reader, a.key, digest[:])
	if err != nil {
		panic(err)
	}
	return credential.Assertion{
		CredentialID:      a.ID,
		ClientDataJSON:    clientData,
		AuthenticatorData: authData,
		Signature:         sig,
	}
}
