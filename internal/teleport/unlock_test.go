package teleport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/humansinstitute/ambulando-sub000/internal/crypto"
	"github.com/humansinstitute/ambulando-sub000/internal/domain"
)

type promptCall struct {
	prefill  string
	retryErr error
}

// scriptPrompter replays a fixed sequence of answers and records what it
// was asked each time.
type scriptPrompter struct {
	answers []string // "" means cancel
	calls   []promptCall
}

func (p *scriptPrompter) PromptUnlockCode(_ context.Context, prefill string, retryErr error) (string, bool, error) {
	p.calls = append(p.calls, promptCall{prefill: prefill, retryErr: retryErr})
	if len(p.answers) == 0 {
		return "", false, errors.New("prompter script exhausted")
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	if answer == "" {
		return "", false, nil
	}
	return answer, true, nil
}

func newTestUnlocker(prompter Prompter, clip string, clipErr error) *Unlocker {
	u := NewUnlocker(prompter, quietLog())
	u.readClip = func() (string, error) { return clip, clipErr }
	return u
}

// transferFixture runs a full encode/decode and hands back what the unlock
// flow starts from.
func transferFixture(t *testing.T) (domain.TeleportResult, string, domain.KeyPair) {
	t.Helper()
	app := mustKeyPair(t)
	sender := mustKeyPair(t)
	user := mustKeyPair(t)

	blob, unlockCode, err := Encode(sender, app.Public, user.Secret)
	require.NoError(t, err)
	res, err := NewCodec(app, quietLog()).Decode(blob)
	require.NoError(t, err)
	return res, unlockCode, user
}

func TestUnlock_Success(t *testing.T) {
	res, unlockCode, user := transferFixture(t)
	prompter := &scriptPrompter{answers: []string{unlockCode}}

	key, err := newTestUnlocker(prompter, "", errors.New("clipboard unavailable")).Unlock(context.Background(), res)
	require.NoError(t, err)
	require.NotNil(t, key)
	require.Equal(t, user.Secret, key.Secret)
	require.Equal(t, res.Npub, key.Npub)

	require.Len(t, prompter.calls, 1)
	require.Empty(t, prompter.calls[0].prefill)
}

func TestUnlock_RetriesMalformedInPlace(t *testing.T) {
	res, unlockCode, user := transferFixture(t)
	prompter := &scriptPrompter{answers: []string{"definitely-not-an-nsec", unlockCode}}

	key, err := newTestUnlocker(prompter, "", nil).Unlock(context.Background(), res)
	require.NoError(t, err)
	require.Equal(t, user.Secret, key.Secret)

	// The bad attempt stays inside the prompt loop: a second ask with the
	// rejection attached, no terminal failure.
	require.Len(t, prompter.calls, 2)
	require.Nil(t, prompter.calls[0].retryErr)
	require.Error(t, prompter.calls[1].retryErr)
}

func TestUnlock_WrongCode(t *testing.T) {
	res, _, _ := transferFixture(t)
	wrong := mustKeyPair(t)
	wrongCode, err := crypto.EncodeNsec(wrong.Secret)
	require.NoError(t, err)
	prompter := &scriptPrompter{answers: []string{wrongCode}}

	_, err = newTestUnlocker(prompter, "", nil).Unlock(context.Background(), res)
	require.ErrorIs(t, err, domain.ErrUnlockDecryptionFailed)
}

func TestUnlock_Cancel(t *testing.T) {
	res, _, _ := transferFixture(t)
	prompter := &scriptPrompter{answers: []string{""}}

	key, err := newTestUnlocker(prompter, "", nil).Unlock(context.Background(), res)
	require.NoError(t, err)
	require.Nil(t, key)
}

func TestUnlock_ClipboardPrefill(t *testing.T) {
	res, unlockCode, user := transferFixture(t)
	prompter := &scriptPrompter{answers: []string{unlockCode}}

	key, err := newTestUnlocker(prompter, "  "+unlockCode+"\n", nil).Unlock(context.Background(), res)
	require.NoError(t, err)
	require.Equal(t, user.Secret, key.Secret)

	require.Len(t, prompter.calls, 1)
	require.Equal(t, unlockCode, prompter.calls[0].prefill)
}

func TestUnlock_ClipboardJunkNotOffered(t *testing.T) {
	res, unlockCode, _ := transferFixture(t)
	prompter := &scriptPrompter{answers: []string{unlockCode}}

	_, err := newTestUnlocker(prompter, "meeting notes", nil).Unlock(context.Background(), res)
	require.NoError(t, err)
	require.Empty(t, prompter.calls[0].prefill)
}

func TestUnlock_BadNpub(t *testing.T) {
	prompter := &scriptPrompter{}
	_, err := newTestUnlocker(prompter, "", nil).Unlock(context.Background(), domain.TeleportResult{
		EncryptedNsec: "AAAA",
		Npub:          "npub1garbage",
	})
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
	require.Empty(t, prompter.calls, "no prompt before the payload is sane")
}
