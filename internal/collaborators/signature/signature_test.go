package signature

import (
	"crypto/sha256"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/require"
)

func TestECDSAVerifier_VerifiesValidSignature(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	pubKey := priv.PubKey().SerializeCompressed()

	payload := []byte(`{"tx_id":"abc","amount":"10.00"}`)
	hash := sha256.Sum256(payload)
	sig := ecdsa.Sign(priv, hash[:])

	v := ECDSAVerifier{}
	require.True(t, v.Verify(payload, pubKey, sig.Serialize()))
}

func TestECDSAVerifier_RejectsTamperedPayload(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	pubKey := priv.PubKey().SerializeCompressed()

	payload := []byte(`{"tx_id":"abc","amount":"10.00"}`)
	hash := sha256.Sum256(payload)
	sig := ecdsa.Sign(priv, hash[:])

	v := ECDSAVerifier{}
	require.False(t, v.Verify([]byte(`{"tx_id":"abc","amount":"99.00"}`), pubKey, sig.Serialize()))
}

func TestECDSAVerifier_DerivePID_IsStableAndPrefixed(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	pubKey := priv.PubKey().SerializeCompressed()

	v := ECDSAVerifier{}
	pid1, err := v.DerivePID(pubKey)
	require.NoError(t, err)
	pid2, err := v.DerivePID(pubKey)
	require.NoError(t, err)

	require.Equal(t, pid1, pid2)
	require.Equal(t, byte('P'), pid1[0])
}
