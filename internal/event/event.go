package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/humansinstitute/ambulando-sub000/internal/domain"
)

// Event kinds used by the identity bridge.
const (
	// KindBridgeRPC carries encrypted remote-signer RPC traffic.
	KindBridgeRPC = 24133
	// KindTeleport wraps the double-encrypted key-transfer payload. Its tag
	// set is always empty: the blob deliberately names no recipient.
	KindTeleport = 24135
)

// Event is the unit of exchange on the relay network.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// New returns an unsigned event stamped with the current time.
func New(kind int, tags [][]string, content string) *Event {
	if tags == nil {
		tags = [][]string{}
	}
	return &Event{
		Kind:      kind,
		CreatedAt: time.Now().Unix(),
		Tags:      tags,
		Content:   content,
	}
}

// Serialize produces the canonical [0,pubkey,created_at,kind,tags,content]
// array the id and signature commit to. HTML escaping is disabled so the
// digest matches other implementations byte for byte.
func (e *Event) Serialize() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	arr := []any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}
	if err := enc.Encode(arr); err != nil {
		return nil, fmt.Errorf("serializing event: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ComputeID returns the hex SHA-256 digest of the canonical serialization.
func (e *Event) ComputeID() (string, error) {
	ser, err := e.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(ser)
	return hex.EncodeToString(sum[:]), nil
}

// Sign sets PubKey from the secret key, then fills ID and Sig.
func (e *Event) Sign(sec domain.SecretKey) error {
	priv, pub := btcec.PrivKeyFromBytes(sec[:])
	if priv.Key.IsZero() {
		return fmt.Errorf("signing event: secret key is zero")
	}
	e.PubKey = hex.EncodeToString(schnorr.SerializePubKey(pub))
	if e.Tags == nil {
		e.Tags = [][]string{}
	}

	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	e.ID = id

	digest, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("signing event: %w", err)
	}
	sig, err := schnorr.Sign(priv, digest)
	if err != nil {
		return fmt.Errorf("signing event: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks that ID matches the canonical serialization and that Sig is
// a valid signature by PubKey over it. Any failure yields
// domain.ErrInvalidSignature; callers must not touch the content of an
// envelope that failed here.
func (e *Event) Verify() error {
	id, err := e.ComputeID()
	if err != nil || id != e.ID {
		return domain.ErrInvalidSignature
	}

	pubRaw, err := hex.DecodeString(e.PubKey)
	if err != nil || len(pubRaw) != 32 {
		return domain.ErrInvalidSignature
	}
	pub, err := schnorr.ParsePubKey(pubRaw)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	sigRaw, err := hex.DecodeString(e.Sig)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	sig, err := schnorr.ParseSignature(sigRaw)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	digest, err := hex.DecodeString(e.ID)
	if err != nil || !sig.Verify(digest, pub) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// TagValue returns the first value of the first tag with the given name,
// or "" when absent.
func (e *Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}
