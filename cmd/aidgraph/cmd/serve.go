package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dshills/aidgraph/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the discovery API over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withApp(ctx, func(a *app) error {
			srv := api.NewServer(a.workflow,
				api.WithLogger(logger),
				api.WithGatherer(a.registry),
				api.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
				api.WithRequestTimeout(cfg.Server.RequestTimeout),
			)
			return srv.ListenAndServe(ctx, cfg.Server.Addr)
		})
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}
