package commands

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/humansinstitute/ambulando-sub000/internal/server"
	"github.com/humansinstitute/ambulando-sub000/internal/signer"
)

// serveCmd runs the HTTP bridge: the teleport decrypt endpoint and the
// signer descriptor/status endpoints.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the identity-bridge HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := appCtx.Pool.Connect(ctx); err != nil {
				return err
			}
			defer appCtx.Pool.Close()

			factory := func(onAuthURL func(string)) (*signer.Session, error) {
				return signer.New(appCtx.Pool, appCtx.SignerOptions(onAuthURL), appCtx.Log)
			}
			srv := server.New(appCtx.Codec, factory, nil, appCtx.Log)
			defer srv.Close()

			httpSrv := &http.Server{Addr: appCtx.Cfg.ListenAddr, Handler: srv.Router()}
			go func() {
				<-ctx.Done()
				_ = httpSrv.Shutdown(context.Background())
			}()

			appCtx.Log.Infof("bridge listening on %s", appCtx.Cfg.ListenAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}
