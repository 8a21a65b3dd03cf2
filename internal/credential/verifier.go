package credential

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

// COSEVerifier verifies signatures made by keys stored in COSE_Key form, the
// encoding authenticators return at registration (ES256, EdDSA, RS256 ...).
type COSEVerifier struct{}

func (COSEVerifier) Verify(publicKey, data, signature []byte) (bool, error) {
	key, err := webauthncose.ParsePublicKey(publicKey)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return webauthncose.VerifySignature(key, data, signature)
}

func (COSEVerifier) ValidatePublicKey(publicKey []byte) error {
	if _, err := webauthncose.ParsePublicKey(publicKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}

// SignedData is the byte string an authenticator signs for an assertion:
// authenticator data followed by the SHA-256 of the client data JSON.
func SignedData(authenticatorData, clientDataJSON []byte) []byte {
	sum := sha256.Sum256(clientDataJSON)
	out := make([]byte, 0, len(authenticatorData)+len(sum))
	out = append(out, authenticatorData...)
	return append(out, sum[:]...)
}

// BuildAuthenticatorData lays out rpIdHash | flags | big-endian counter, the
// minimal authenticator data of an assertion. Clients and tests use it.
func BuildAuthenticatorData(rpID string, flags protocol.AuthenticatorFlags, counter uint32) []byte {
	sum := sha256.Sum256([]byte(rpID))
	out := make([]byte, 0, 37)
	out = append(out, sum[:]...)
	out = append(out, byte(flags))
	return binary.BigEndian.AppendUint32(out, counter)
}

// BuildClientData encodes the client data JSON a browser would produce for
// the ceremony over challenge.
func BuildClientData(ceremony protocol.CeremonyType, challenge []byte, origin string) []byte {
	b, _ := json.Marshal(protocol.CollectedClientData{
		Type:      ceremony,
		Challenge: base64.RawURLEncoding.EncodeToString(challenge),
		Origin:    origin,
	})
	return b
}
