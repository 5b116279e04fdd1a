package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "deskcast",
		Short: "deskcast - near real-time desktop streaming",
		Long: `deskcast streams a desktop's visual output in near real time.

The stream command runs the capture side: it pulls composited desktop frames
through a duplication backend (X11 or PipeWire) at a configurable rate and
hands finished images to downstream consumers. The receive command runs the
decode side: it accepts compressed video packets over a websocket and turns
them back into displayable images, following mid-stream resolution changes.`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/deskcast/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "HTTP server port")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human-readable log output")

	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
