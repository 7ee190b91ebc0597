package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <name>",
	Short: "Resume a paused recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	name := args[0]

	client, err := connect()
	if err != nil {
		return err
	}

	info, err := client.Resume(name)
	if err != nil {
		return err
	}

	fmt.Printf("Resumed %q at %s\n", name, info.Elapsed)
	return nil
}
