package commands

import (
	"github.com/spf13/cobra"

	"github.com/humansinstitute/ambulando-sub000/internal/app"
)

var (
	appCtx *app.App

	relayOverride []string
)

func Execute() error {
	root := &cobra.Command{
		Use:   "ambulando",
		Short: "Identity bridge for the Ambulando habit journal",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if len(relayOverride) > 0 {
				cfg.Relays = relayOverride
			}
			appCtx, err = app.New(cfg)
			return err
		},
	}

	root.PersistentFlags().StringSliceVar(&relayOverride, "relay", nil, "relay URL (repeatable, overrides AMBULANDO_RELAYS)")

	root.AddCommand(serveCmd(), connectCmd(), teleportCmd())
	return root.Execute()
}
