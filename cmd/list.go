package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all slots",
	RunE:  runList,
}

var listJsonFlag bool

func init() {
	listCmd.Flags().BoolVar(&listJsonFlag, "json", false, "Output as JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := connect()
	if err != nil {
		return err
	}

	slots, err := client.List()
	if err != nil {
		return err
	}

	if listJsonFlag {
		return printJSON(slots)
	}

	if len(slots) == 0 {
		fmt.Println("No slots")
		return nil
	}
	for _, s := range slots {
		fmt.Printf("%s\t%s\t%s\t%s\n", s.Name, s.Kind, s.State, s.Elapsed)
	}
	return nil
}
