package cmd

import (
	"github.com/bourbonbuddy/tastecast/internal/config"
	"github.com/bourbonbuddy/tastecast/internal/ui"
	"github.com/bourbonbuddy/tastecast/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagConfig       string
	flagServer       string
	flagEnv          string
	flagCookie       string
	flagFallback     bool
	flagForcePolling bool
	flagSTUN         string
	flagTURN         string
	flagRelay        bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tastecast",
	Short: "Live tasting streams over a resilient realtime channel",
	Long: `tastecast hosts and joins live tasting streams. A relay server carries room
membership and peer negotiation over websockets, falling back to
long-polling when the network is hostile, and tasting notes flow between
peers over WebRTC data channels.`,
	Version: version.Version,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Path to a YAML config file")
	pf.StringVarP(&flagServer, "server", "s", "", "Relay server URL (default http://localhost:8080)")
	pf.StringVar(&flagEnv, "env", "", "Environment name; production disables the offline fallback")
	pf.StringVar(&flagCookie, "cookie", "", "Session cookie value sent on connect")
	pf.BoolVar(&flagFallback, "fallback", false, "Use an offline preview channel when the server is unreachable")
	pf.BoolVar(&flagForcePolling, "force-polling", false, "Skip websockets and use long-polling only")
	pf.StringVar(&flagSTUN, "stun", "", "Custom STUN server URL")
	pf.StringVar(&flagTURN, "turn", "", "Custom TURN server URL")
	pf.BoolVar(&flagRelay, "relay", false, "Force peer traffic through the TURN relay")

	rootCmd.AddCommand(serveCmd, watchCmd, broadcastCmd, roomsCmd, versionCmd)
}

// loadConfig merges the persistent flags the user actually set over the
// environment and file layers.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	opts := config.Options{
		File:        flagConfig,
		ServerURL:   flagServer,
		Environment: flagEnv,
		CookieValue: flagCookie,
		STUNServer:  flagSTUN,
		TURNServer:  flagTURN,
	}
	if changed(cmd, "fallback") {
		opts.Fallback = &flagFallback
	}
	if changed(cmd, "force-polling") {
		opts.ForcePolling = &flagForcePolling
	}
	return config.Load(opts)
}

func changed(cmd *cobra.Command, name string) bool {
	f := cmd.Flag(name)
	return f != nil && f.Changed
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() int {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		return 1
	}
	return 0
}
