package domain

import "errors"

// Error taxonomy for the identity bridge. Cryptographic verification
// failures are never retried and never partially trusted; any field of a
// rejected envelope is treated as garbage.
var (
	// ErrInvalidBlob marks a transfer blob that is not valid base64/JSON.
	ErrInvalidBlob = errors.New("invalid transfer blob")

	// ErrInvalidSignature marks an envelope whose signature does not verify.
	ErrInvalidSignature = errors.New("invalid envelope signature")

	// ErrWrongRecipient marks a blob whose outer layer did not decrypt with
	// our key. The protocol carries no recipient tag, so this is the sole
	// recipient-authorization check and an expected outcome for blobs
	// addressed to another application. Never fold it into generic
	// decryption errors.
	ErrWrongRecipient = errors.New("blob not addressed to this application")

	// ErrUnsupportedVersion marks a teleport payload with an unknown version.
	ErrUnsupportedVersion = errors.New("unsupported payload version")

	// ErrInvalidPayload marks a teleport payload missing required fields.
	ErrInvalidPayload = errors.New("invalid teleport payload")

	// ErrExpiredBlob marks a blob outside the accepted freshness window.
	ErrExpiredBlob = errors.New("transfer blob expired")

	// ErrDecryptionFailed is the authenticated-encryption failure. The
	// envelope never returns wrong-but-parseable plaintext.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrRequestTimeout means no RPC response arrived within the budget.
	// Callers may retry the whole handshake, not the same request id.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrUnlockDecryptionFailed means the supplied unlock code does not
	// match this transfer. Distinct from user cancellation.
	ErrUnlockDecryptionFailed = errors.New("unlock code does not match this transfer")

	// ErrSessionClosed is returned by operations on a torn-down session.
	ErrSessionClosed = errors.New("signer session closed")

	// ErrNotConnected is returned when an RPC is attempted before the
	// connect handshake completed.
	ErrNotConnected = errors.New("signer session not connected")
)
