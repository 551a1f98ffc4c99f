package teleport

import (
	"context"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/sirupsen/logrus"

	"github.com/humansinstitute/ambulando-sub000/internal/crypto"
	"github.com/humansinstitute/ambulando-sub000/internal/domain"
	"github.com/humansinstitute/ambulando-sub000/internal/util/memzero"
)

// Prompter is the interactive collaborator that collects the unlock code.
// prefill may carry a clipboard suggestion; implementations must still wait
// for an explicit submit and must never use the value silently. retryErr,
// when non-nil, describes why the previous attempt was rejected in place.
//
// Returns the entered value and submitted=true, or submitted=false when the
// user cancels.
type Prompter interface {
	PromptUnlockCode(ctx context.Context, prefill string, retryErr error) (value string, submitted bool, err error)
}

// Unlocker completes inner-layer decryption with the user-supplied
// throwaway secret, proving possession and intent.
type Unlocker struct {
	log      *logrus.Logger
	prompter Prompter
	readClip func() (string, error)
}

// NewUnlocker wires the flow with the system clipboard as the prefill
// source.
func NewUnlocker(prompter Prompter, log *logrus.Logger) *Unlocker {
	return &Unlocker{log: log, prompter: prompter, readClip: clipboard.ReadAll}
}

// Unlock prompts for the throwaway nsec and finishes decrypting the
// transferred key. Malformed input retries in place; a well-formed code
// that does not match the transfer fails with ErrUnlockDecryptionFailed.
// User cancellation returns (nil, nil): not an error, the caller aborts the
// login attempt and returns to the prior UI state.
func (u *Unlocker) Unlock(ctx context.Context, res domain.TeleportResult) (*domain.RecoveredKey, error) {
	userPub, err := crypto.DecodeNpub(res.Npub)
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}

	prefill := u.clipboardSuggestion()
	var retryErr error
	for {
		value, submitted, err := u.prompter.PromptUnlockCode(ctx, prefill, retryErr)
		if err != nil {
			return nil, err
		}
		if !submitted {
			u.log.Info("teleport: unlock cancelled by user")
			return nil, nil
		}

		throwaway, err := crypto.DecodeNsec(strings.TrimSpace(value))
		if err != nil {
			// Not an nsec string. Keep the prompt open.
			retryErr = err
			prefill = ""
			continue
		}

		plain, err := crypto.Decrypt(throwaway, userPub, res.EncryptedNsec)
		memzero.Zero(throwaway[:])
		if err != nil {
			return nil, domain.ErrUnlockDecryptionFailed
		}
		secret, err := crypto.DecodeNsec(plain)
		if err != nil {
			return nil, domain.ErrUnlockDecryptionFailed
		}
		return &domain.RecoveredKey{Secret: secret, Npub: res.Npub}, nil
	}
}

// clipboardSuggestion offers the clipboard content as a prefill when it
// already looks like an unlock code. Anything else stays out of the prompt.
func (u *Unlocker) clipboardSuggestion() string {
	text, err := u.readClip()
	if err != nil {
		return ""
	}
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "nsec1") {
		return text
	}
	return ""
}
