package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bourbonbuddy/tastecast/internal/metrics"
	"github.com/bourbonbuddy/tastecast/internal/server"
	"github.com/bourbonbuddy/tastecast/internal/ui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Long: `Run the relay server that carries room membership, participant counts
and peer negotiation for tasting streams.

Examples:
  tastecast serve
  tastecast serve --listen :9000
  LOG_LEVEL=info tastecast serve --config tastecast.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if flagListen != "" {
			cfg.ListenAddr = flagListen
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		collector := metrics.NewPrometheusCollector(reg)
		srv := server.New(cfg.ServerOptions(), collector, slog.Default().With("component", "server"))

		ui.PrintInfof("Relay listening on %s", cfg.ListenAddr)
		if err := srv.Run(ctx); err != nil {
			return err
		}
		ui.PrintSuccess("Relay stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Address to listen on (default :8080)")
}
