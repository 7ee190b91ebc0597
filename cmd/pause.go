package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <name>",
	Short: "Pause a recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runPause,
}

func runPause(cmd *cobra.Command, args []string) error {
	name := args[0]

	client, err := connect()
	if err != nil {
		return err
	}

	info, err := client.Pause(name)
	if err != nil {
		return err
	}

	fmt.Printf("Paused %q at %s\n", name, info.Elapsed)
	return nil
}
