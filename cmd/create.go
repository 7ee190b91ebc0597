package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schovi/mediarec/internal/capture"
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a recording slot",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

var createKindFlag string
var createJsonFlag bool

func init() {
	createCmd.Flags().StringVar(&createKindFlag, "kind", "audio", "What to capture: audio or video")
	createCmd.Flags().BoolVar(&createJsonFlag, "json", false, "Output as JSON")
}

func runCreate(cmd *cobra.Command, args []string) error {
	name := args[0]

	kind, err := capture.ParseKind(createKindFlag)
	if err != nil {
		return err
	}

	client, err := connect()
	if err != nil {
		return err
	}

	info, err := client.Create(name, kind)
	if err != nil {
		return err
	}

	if createJsonFlag {
		return printJSON(info)
	}
	fmt.Printf("Created %s slot %q\n", info.Kind, info.Name)
	return nil
}
