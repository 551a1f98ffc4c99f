package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"strings"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"

	"github.com/humansinstitute/ambulando-sub000/internal/domain"
)

// NIP-44 v2 constants.
const (
	envelopeVersion = 2
	nonceSize       = 32
	macSize         = 32
	minPlaintext    = 1
	maxPlaintext    = 65535
)

var conversationSalt = []byte("nip44-v2")

// ConversationKey derives the symmetric envelope key shared between the
// holder of sec and the holder of the key behind peerPubHex. Computing it
// from either side yields the same value. Hold it in memory only.
func ConversationKey(sec domain.SecretKey, peerPubHex string) ([32]byte, error) {
	var ck [32]byte
	shared, err := sharedSecret(sec, peerPubHex)
	if err != nil {
		return ck, fmt.Errorf("conversation key: %w", err)
	}
	copy(ck[:], hkdf.Extract(sha256.New, shared, conversationSalt))
	return ck, nil
}

// Encrypt seals plaintext under the conversation key of (sec, peerPubHex)
// and returns the base64 envelope payload.
func Encrypt(sec domain.SecretKey, peerPubHex, plaintext string) (string, error) {
	ck, err := ConversationKey(sec, peerPubHex)
	if err != nil {
		return "", err
	}
	return EncryptWithKey(ck, plaintext)
}

// Decrypt opens a base64 envelope payload with the conversation key of
// (sec, peerPubHex). It fails closed: any tampering or key mismatch returns
// domain.ErrDecryptionFailed.
func Decrypt(sec domain.SecretKey, peerPubHex, payload string) (string, error) {
	ck, err := ConversationKey(sec, peerPubHex)
	if err != nil {
		return "", err
	}
	return DecryptWithKey(ck, payload)
}

// EncryptWithKey seals plaintext under an already-derived conversation key.
func EncryptWithKey(convKey [32]byte, plaintext string) (string, error) {
	if len(plaintext) < minPlaintext || len(plaintext) > maxPlaintext {
		return "", fmt.Errorf("plaintext length %d outside [%d, %d]", len(plaintext), minPlaintext, maxPlaintext)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("envelope nonce: %w", err)
	}

	encKey, encNonce, macKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	padded := pad(plaintext)
	cipher, err := chacha20.NewUnauthenticatedCipher(encKey, encNonce)
	if err != nil {
		return "", fmt.Errorf("envelope cipher: %w", err)
	}
	ciphertext := make([]byte, len(padded))
	cipher.XORKeyStream(ciphertext, padded)

	mac := hmacAAD(macKey, nonce, ciphertext)

	out := make([]byte, 0, 1+nonceSize+len(ciphertext)+macSize)
	out = append(out, envelopeVersion)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	out = append(out, mac...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptWithKey opens a base64 envelope payload with an already-derived
// conversation key.
func DecryptWithKey(convKey [32]byte, payload string) (string, error) {
	// '#' marks an envelope version we cannot represent in base64.
	if strings.HasPrefix(payload, "#") {
		return "", domain.ErrDecryptionFailed
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", domain.ErrDecryptionFailed
	}
	// version + nonce + smallest padded block + mac
	if len(raw) < 1+nonceSize+2+32+macSize {
		return "", domain.ErrDecryptionFailed
	}
	if raw[0] != envelopeVersion {
		return "", domain.ErrDecryptionFailed
	}

	nonce := raw[1 : 1+nonceSize]
	ciphertext := raw[1+nonceSize : len(raw)-macSize]
	mac := raw[len(raw)-macSize:]

	encKey, encNonce, macKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", domain.ErrDecryptionFailed
	}
	if !hmac.Equal(mac, hmacAAD(macKey, nonce, ciphertext)) {
		return "", domain.ErrDecryptionFailed
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(encKey, encNonce)
	if err != nil {
		return "", domain.ErrDecryptionFailed
	}
	padded := make([]byte, len(ciphertext))
	cipher.XORKeyStream(padded, ciphertext)

	return unpad(padded)
}

// messageKeys expands the conversation key and per-message nonce into the
// ChaCha20 key, ChaCha20 nonce and HMAC key.
func messageKeys(convKey [32]byte, nonce []byte) (encKey, encNonce, macKey []byte, err error) {
	r := hkdf.Expand(sha256.New, convKey[:], nonce)
	buf := make([]byte, 32+12+32)
	if _, err = io.ReadFull(r, buf); err != nil {
		return nil, nil, nil, fmt.Errorf("expanding message keys: %w", err)
	}
	return buf[0:32], buf[32:44], buf[44:76], nil
}

func hmacAAD(key, aad, message []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(aad)
	h.Write(message)
	return h.Sum(nil)
}

// pad prefixes the plaintext with its big-endian length and pads the result
// to the next envelope block size, hiding the exact message length.
func pad(plaintext string) []byte {
	out := make([]byte, 2+paddedLen(len(plaintext)))
	binary.BigEndian.PutUint16(out, uint16(len(plaintext)))
	copy(out[2:], plaintext)
	return out
}

func unpad(padded []byte) (string, error) {
	if len(padded) < 2 {
		return "", domain.ErrDecryptionFailed
	}
	n := int(binary.BigEndian.Uint16(padded))
	if n < minPlaintext || n > len(padded)-2 || len(padded) != 2+paddedLen(n) {
		return "", domain.ErrDecryptionFailed
	}
	return string(padded[2 : 2+n]), nil
}

// paddedLen rounds a plaintext length up to the envelope block schedule:
// 32-byte steps up to 256, then next-power-of-two eighths beyond that.
func paddedLen(n int) int {
	if n <= 32 {
		return 32
	}
	nextPower := 1 << bits.Len(uint(n-1))
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((n-1)/chunk + 1)
}
