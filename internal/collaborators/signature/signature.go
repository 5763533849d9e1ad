// Package signature verifies that a payment or trust-line request was
// authorized by the participant it claims to come from, and derives the
// printable PID recorded on domain.Participant from a raw public key.
// The underlying curve operations are grounded on the reference repo's
// internal/crypto/algorithms/secp256k1 package (DeriveKeypair/Sign/
// Validate built on decred/dcrd/dcrec/secp256k1), simplified here to a
// verify-only surface: this core never derives or signs with a private
// key itself, it only checks a signature a client already produced.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// ErrInvalidSignature is returned by Verify for a malformed or
// non-matching signature.
var ErrInvalidSignature = errors.New("signature: invalid or non-matching signature")

// Verifier checks a participant-authorized payload.
type Verifier interface {
	// Verify reports whether sig is a valid secp256k1 signature over
	// sha256(payload) by the holder of pubKey.
	Verify(payload, pubKey, sig []byte) bool
	// DerivePID renders a deterministic printable identifier for pubKey,
	// stored on domain.Participant.PID.
	DerivePID(pubKey []byte) (string, error)
}

// ECDSAVerifier is the default Verifier, backed by decred's secp256k1
// implementation (DER-encoded ECDSA signatures over a compressed
// public key).
type ECDSAVerifier struct{}

func (ECDSAVerifier) Verify(payload, pubKey, sig []byte) bool {
	pk, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	hash := sha256.Sum256(payload)
	return parsed.Verify(hash[:], pk)
}

// DerivePID renders the first 20 bytes of sha256(pubKey) as a "P"-prefixed
// hex string, a stable short identifier derived purely from the public
// key the same way the original implementation derives an XRPL account ID
// from an account public key, simplified here (no base58/checksum) since
// the ledger core has no wire-format account-ID requirement.
func (ECDSAVerifier) DerivePID(pubKey []byte) (string, error) {
	if len(pubKey) == 0 {
		return "", errors.New("signature: empty public key")
	}
	if _, err := secp256k1.ParsePubKey(pubKey); err != nil {
		return "", err
	}
	sum := sha256.Sum256(pubKey)
	return "P" + hex.EncodeToString(sum[:20]), nil
}
