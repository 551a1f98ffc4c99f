package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/humansinstitute/ambulando-sub000/internal/teleport"
)

// teleportCmd decodes a transfer blob and runs the unlock flow in the
// terminal. No relay connection is needed; the blob is self-contained.
func teleportCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "teleport <blob>",
		Short: "Receive a key transferred from a custodian application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob := strings.TrimPrefix(args[0], "#teleport=")

			res, err := appCtx.Codec.Decode(blob)
			if err != nil {
				return err
			}
			fmt.Printf("Blob accepted, key belongs to %s\n", res.Npub)

			unlocker := teleport.NewUnlocker(&terminalPrompter{}, appCtx.Log)
			key, err := unlocker.Unlock(cmd.Context(), res)
			if err != nil {
				return err
			}
			if key == nil {
				fmt.Println("Cancelled.")
				return nil
			}

			fmt.Printf("Key recovered for %s\n", key.Npub)
			if reveal {
				fmt.Printf("secret (hex): %x\n", key.Secret)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the recovered secret key")
	return cmd
}

// terminalPrompter collects the unlock code without echoing it. An empty
// submit accepts the clipboard prefill when one was offered; entering "q"
// cancels.
type terminalPrompter struct{}

func (terminalPrompter) PromptUnlockCode(_ context.Context, prefill string, retryErr error) (string, bool, error) {
	if retryErr != nil {
		fmt.Printf("Not a valid nsec1... string, try again (%v)\n", retryErr)
	}
	if prefill != "" {
		fmt.Print("Unlock code found on clipboard. Press enter to use it, or type another (q cancels): ")
	} else {
		fmt.Print("Enter unlock code (q cancels): ")
	}

	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", false, fmt.Errorf("reading unlock code: %w", err)
	}
	value := strings.TrimSpace(string(raw))
	switch {
	case value == "q":
		return "", false, nil
	case value == "" && prefill != "":
		return prefill, true, nil
	case value == "":
		return "", false, nil
	default:
		return value, true, nil
	}
}
