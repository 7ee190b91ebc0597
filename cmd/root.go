package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/schovi/mediarec/internal/config"
	"github.com/schovi/mediarec/internal/daemon"
)

var configFlag string

var loader *config.Loader

var rootCmd = &cobra.Command{
	Use:   "mediarec",
	Short: "Media capture for complaint intake",
	Long: `mediarec records audio or video evidence for a complaint and hands it back as an attachment.

Each recording lives in a named slot held by a background daemon, which owns the capture device.

Quick start:
  mediarec record voice --kind audio --out voice.webm   # Interactive recorder
  mediarec create cam --kind video                       # Create a slot
  mediarec start cam                                     # Request the camera and record
  mediarec pause cam / mediarec resume cam
  mediarec stop cam --out cam.webm --manifest            # Finalize and save
  mediarec clear cam                                     # Discard and record again`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := config.NewLoader(configFlag)
		if err != nil {
			return err
		}
		loader = l
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "",
		fmt.Sprintf("Config file (default: %s)", config.File()))

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

// connect returns a client for the daemon, starting one if needed. A
// daemon started here inherits --config.
func connect() (*daemon.Client, error) {
	client := daemon.NewClient(config.Dir())
	if err := client.EnsureDaemon(daemonArgs()...); err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}
	return client, nil
}

func daemonArgs() []string {
	if configFlag == "" {
		return nil
	}
	return []string{"--config", configFlag}
}
