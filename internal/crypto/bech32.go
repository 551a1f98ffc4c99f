package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/humansinstitute/ambulando-sub000/internal/domain"
)

// Human-readable prefixes for the two key string formats.
const (
	hrpNpub = "npub"
	hrpNsec = "nsec"
)

// EncodeNpub renders a raw public key as an npub1... string.
func EncodeNpub(pubHex string) (string, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("public key must be 32 bytes of hex")
	}
	return encodeKey(hrpNpub, raw)
}

// EncodeNsec renders a raw secret key as an nsec1... string.
func EncodeNsec(sec domain.SecretKey) (string, error) {
	return encodeKey(hrpNsec, sec[:])
}

// DecodeNpub parses an npub1... string back to hex public key form.
func DecodeNpub(s string) (string, error) {
	raw, err := decodeKey(hrpNpub, s)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// DecodeNsec parses an nsec1... string back to raw secret key bytes.
func DecodeNsec(s string) (domain.SecretKey, error) {
	var sec domain.SecretKey
	raw, err := decodeKey(hrpNsec, s)
	if err != nil {
		return sec, err
	}
	copy(sec[:], raw)
	return sec, nil
}

func encodeKey(hrp string, raw []byte) (string, error) {
	grouped, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("regrouping key bits: %w", err)
	}
	out, err := bech32.Encode(hrp, grouped)
	if err != nil {
		return "", fmt.Errorf("bech32 encoding: %w", err)
	}
	return out, nil
}

func decodeKey(wantHRP, s string) ([]byte, error) {
	hrp, grouped, err := bech32.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("bech32 decoding: %w", err)
	}
	if hrp != wantHRP {
		return nil, fmt.Errorf("expected %s1... key string, got %s prefix", wantHRP, hrp)
	}
	raw, err := bech32.ConvertBits(grouped, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("regrouping key bits: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(raw))
	}
	return raw, nil
}
