package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear <name>",
	Short: "Discard the recording and reset the slot",
	Long: `Discard whatever the slot holds and return it to idle. An active recording is
stopped without keeping its data and the device is released.`,
	Args: cobra.ExactArgs(1),
	RunE: runClear,
}

func runClear(cmd *cobra.Command, args []string) error {
	name := args[0]

	client, err := connect()
	if err != nil {
		return err
	}

	if _, err := client.Clear(name); err != nil {
		return err
	}

	fmt.Printf("Cleared slot %q\n", name)
	return nil
}
