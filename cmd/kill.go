package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var killJsonFlag bool

func init() {
	killCmd.Flags().BoolVar(&killJsonFlag, "json", false, "Output as JSON")
}

var killCmd = &cobra.Command{
	Use:   "kill <name>",
	Short: "Delete a slot",
	Long: `Delete a slot: releases the device (if held) and permanently discards the recording.

To keep the slot and only start over, use 'clear' instead.

This is a destructive operation and cannot be undone.`,
	Args: cobra.ExactArgs(1),
	RunE: runKill,
}

func runKill(cmd *cobra.Command, args []string) error {
	name := args[0]

	client, err := connect()
	if err != nil {
		return err
	}

	if err := client.Kill(name); err != nil {
		return err
	}

	if killJsonFlag {
		return printJSON(map[string]interface{}{
			"name":   name,
			"status": "deleted",
		})
	}
	fmt.Printf("Deleted slot %q\n", name)
	return nil
}
