package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/annorepair/internal/api"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analyze and repair passes over HTTP",
	Long: `Serve exposes every pass as an HTTP endpoint:

  GET  /healthz
  GET  /metrics
  GET  /api/passes
  POST /api/passes/{pass}/analyze
  POST /api/passes/{pass}/repair   {"dryRun": false} to apply

Set ANNOREPAIR_API_TOKEN to require a bearer token on /api.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := api.NewServer(rt.engine, rt.recorder.Handler(), rt.cfg.API.Token, rt.log)
		return srv.Serve(ctx, rt.cfg.API.Addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	_ = viper.BindPFlag("api.addr", serveCmd.Flags().Lookup("addr"))
}
