package cmd

import (
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show slot state",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var infoJsonFlag bool

func init() {
	infoCmd.Flags().BoolVar(&infoJsonFlag, "json", false, "Output as JSON")
}

func runInfo(cmd *cobra.Command, args []string) error {
	name := args[0]

	client, err := connect()
	if err != nil {
		return err
	}

	info, err := client.Info(name)
	if err != nil {
		return err
	}

	if infoJsonFlag {
		return printJSON(info)
	}
	printSlot(info)
	return nil
}
