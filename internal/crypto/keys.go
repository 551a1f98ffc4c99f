package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/humansinstitute/ambulando-sub000/internal/domain"
)

// GenerateKeyPair returns a fresh secp256k1 key pair with the public key in
// x-only hex form.
func GenerateKeyPair() (domain.KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return domain.KeyPair{}, fmt.Errorf("generating key: %w", err)
	}
	var kp domain.KeyPair
	copy(kp.Secret[:], priv.Serialize())
	kp.Public = hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	return kp, nil
}

// DerivePublicKey returns the x-only hex public key for a raw secret key.
func DerivePublicKey(sec domain.SecretKey) (string, error) {
	priv, pub := btcec.PrivKeyFromBytes(sec[:])
	if priv.Key.IsZero() {
		return "", errors.New("secret key is zero")
	}
	return hex.EncodeToString(schnorr.SerializePubKey(pub)), nil
}

// parseXOnlyPub decodes a 64-char hex x-only public key into a curve point.
func parseXOnlyPub(pubHex string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("public key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("public key must be 32 bytes, got %d", len(raw))
	}
	pub, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("public key point: %w", err)
	}
	return pub, nil
}

// sharedSecret computes the ECDH x-coordinate between our secret key and the
// peer's x-only public key. Both sides of a conversation derive the same
// value.
func sharedSecret(sec domain.SecretKey, peerPubHex string) ([]byte, error) {
	pub, err := parseXOnlyPub(peerPubHex)
	if err != nil {
		return nil, err
	}
	priv, _ := btcec.PrivKeyFromBytes(sec[:])
	if priv.Key.IsZero() {
		return nil, errors.New("secret key is zero")
	}

	var point, result btcec.JacobianPoint
	pub.AsJacobian(&point)
	btcec.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()

	shared := result.X.Bytes()
	return shared[:], nil
}
