package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/humansinstitute/ambulando-sub000/internal/crypto"
	"github.com/humansinstitute/ambulando-sub000/internal/signer"
)

// connectCmd performs the remote-signer handshake from a terminal: it
// renders the connection descriptor as a QR code, waits for the signer to
// acknowledge, then fetches the user's public key and optionally persists
// the session for silent reconnection.
func connectCmd() *cobra.Command {
	var passphrase string
	var save bool
	var resume bool

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Pair with a remote signer application",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := appCtx.Pool.Connect(ctx); err != nil {
				return err
			}
			defer appCtx.Pool.Close()

			if resume {
				if passphrase == "" {
					return fmt.Errorf("--resume requires --passphrase")
				}
				snap, ok, err := appCtx.Snapshots.Load(passphrase)
				if err != nil {
					return fmt.Errorf("loading saved session: %w", err)
				}
				if !ok {
					return fmt.Errorf("no saved session; run connect --save first")
				}
				sess, err := signer.Resume(appCtx.Pool, snap, appCtx.SignerOptions(nil), appCtx.Log)
				if err != nil {
					return err
				}
				defer sess.Close()

				pub, err := sess.PublicKey(ctx)
				if err != nil {
					return fmt.Errorf("saved session no longer accepted: %w", err)
				}
				npub, err := crypto.EncodeNpub(pub)
				if err != nil {
					return err
				}
				fmt.Printf("Reconnected. Signing as %s\n", npub)
				return nil
			}

			onAuthURL := func(u string) {
				fmt.Printf("\nApproval required. Open this URL and confirm:\n  %s\n", u)
			}
			sess, err := signer.New(appCtx.Pool, appCtx.SignerOptions(onAuthURL), appCtx.Log)
			if err != nil {
				return err
			}
			defer sess.Close()

			qr, err := sess.DescriptorTerminal()
			if err != nil {
				return err
			}
			fmt.Println(qr)
			fmt.Printf("\nScan with your signer app, or paste:\n  %s\n\nWaiting for acknowledgement...\n", sess.Descriptor())

			if err := sess.Connect(ctx); err != nil {
				return fmt.Errorf("handshake failed: %w", err)
			}

			pub, err := sess.PublicKey(ctx)
			if err != nil {
				return fmt.Errorf("fetching remote public key: %w", err)
			}
			npub, err := crypto.EncodeNpub(pub)
			if err != nil {
				return err
			}
			fmt.Printf("Connected. Signing as %s\n", npub)

			if save {
				if passphrase == "" {
					return fmt.Errorf("--save requires --passphrase")
				}
				if err := appCtx.Snapshots.Save(passphrase, sess.Snapshot()); err != nil {
					return fmt.Errorf("saving session: %w", err)
				}
				fmt.Println("Session saved for silent reconnection.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "persist the session for later runs")
	cmd.Flags().BoolVar(&resume, "resume", false, "reconnect using a previously saved session")
	cmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the saved session")
	return cmd
}
