package teleport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/humansinstitute/ambulando-sub000/internal/crypto"
	"github.com/humansinstitute/ambulando-sub000/internal/domain"
	"github.com/humansinstitute/ambulando-sub000/internal/event"
)

// Version is the only payload version this codec understands.
const Version = 1

// Freshness window for inbound blobs. A transfer link is meant to be used
// within hours of creation; 72h leaves room for timezones and procrastination,
// 5m absorbs sender clocks running ahead.
const (
	MaxBlobAge    = 72 * time.Hour
	maxFutureSkew = 5 * time.Minute
)

// payload is the plaintext of the outer layer.
type payload struct {
	EncryptedNsec string `json:"encryptedNsec"`
	Npub          string `json:"npub"`
	Version       int    `json:"version"`
}

// Codec decodes transfer blobs addressed to one application key.
type Codec struct {
	log *logrus.Logger
	sec domain.SecretKey
	now func() time.Time
}

// NewCodec builds a receiver for the application's fixed key pair.
func NewCodec(appKey domain.KeyPair, log *logrus.Logger) *Codec {
	return &Codec{log: log, sec: appKey.Secret, now: time.Now}
}

// Decode opens the outer layer of a transfer blob and returns the still
// inner-encrypted nsec plus the owner's npub. Every failure maps to exactly
// one taxonomy error; nothing from a rejected envelope is trusted.
func (c *Codec) Decode(blob string) (domain.TeleportResult, error) {
	var zero domain.TeleportResult

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return zero, domain.ErrInvalidBlob
	}
	var env event.Event
	if err := json.Unmarshal(raw, &env); err != nil {
		return zero, domain.ErrInvalidBlob
	}

	if err := env.Verify(); err != nil {
		return zero, domain.ErrInvalidSignature
	}

	now := c.now()
	created := time.Unix(env.CreatedAt, 0)
	if created.Before(now.Add(-MaxBlobAge)) || created.After(now.Add(maxFutureSkew)) {
		return zero, domain.ErrExpiredBlob
	}

	// Sole recipient-authorization check: a blob sealed for another
	// application fails here, and only here.
	plain, err := crypto.Decrypt(c.sec, env.PubKey, env.Content)
	if err != nil {
		return zero, domain.ErrWrongRecipient
	}

	var p payload
	if err := json.Unmarshal([]byte(plain), &p); err != nil {
		return zero, domain.ErrInvalidPayload
	}
	if p.Version != Version {
		return zero, domain.ErrUnsupportedVersion
	}
	if p.EncryptedNsec == "" || p.Npub == "" {
		return zero, domain.ErrInvalidPayload
	}
	if _, err := crypto.DecodeNpub(p.Npub); err != nil {
		return zero, domain.ErrInvalidPayload
	}

	c.log.Infof("teleport: accepted blob for %s", p.Npub)
	return domain.TeleportResult{EncryptedNsec: p.EncryptedNsec, Npub: p.Npub}, nil
}

// Encode builds a transfer blob: the sender role. This application never
// performs it against its own users in the same exchange it receives; it
// exists for protocol completeness and for custodian deployments.
//
// The returned unlock code is the throwaway nsec; it must reach the user
// out-of-band and is never embedded in the blob.
func Encode(senderKey domain.KeyPair, recipientPub string, userSecret domain.SecretKey) (blob, unlockCode string, err error) {
	userPub, err := crypto.DerivePublicKey(userSecret)
	if err != nil {
		return "", "", fmt.Errorf("deriving user key: %w", err)
	}
	npub, err := crypto.EncodeNpub(userPub)
	if err != nil {
		return "", "", err
	}
	nsec, err := crypto.EncodeNsec(userSecret)
	if err != nil {
		return "", "", err
	}

	throwaway, err := crypto.GenerateKeyPair()
	if err != nil {
		return "", "", err
	}

	// Inner layer: the nsec under the throwaway conversation key.
	encryptedNsec, err := crypto.Encrypt(throwaway.Secret, userPub, nsec)
	if err != nil {
		return "", "", fmt.Errorf("sealing inner layer: %w", err)
	}

	body, err := json.Marshal(payload{EncryptedNsec: encryptedNsec, Npub: npub, Version: Version})
	if err != nil {
		return "", "", fmt.Errorf("encoding payload: %w", err)
	}

	// Outer layer: the payload for the recipient application. The envelope
	// carries no recipient tag on purpose.
	content, err := crypto.Encrypt(senderKey.Secret, recipientPub, string(body))
	if err != nil {
		return "", "", fmt.Errorf("sealing outer layer: %w", err)
	}
	env := event.New(event.KindTeleport, [][]string{}, content)
	if err := env.Sign(senderKey.Secret); err != nil {
		return "", "", err
	}

	wire, err := json.Marshal(env)
	if err != nil {
		return "", "", fmt.Errorf("encoding envelope: %w", err)
	}
	unlockCode, err = crypto.EncodeNsec(throwaway.Secret)
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(wire), unlockCode, nil
}
