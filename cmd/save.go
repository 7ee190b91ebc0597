package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schovi/mediarec/internal/attachment"
)

var saveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Write a completed recording to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSave,
}

var (
	saveOutFlag      string
	saveManifestFlag bool
)

func init() {
	saveCmd.Flags().StringVar(&saveOutFlag, "out", "", "Destination file (default: slot-<id>.<ext> in the current directory)")
	saveCmd.Flags().BoolVar(&saveManifestFlag, "manifest", false, "Write a YAML manifest next to the file")
}

func runSave(cmd *cobra.Command, args []string) error {
	name := args[0]

	client, err := connect()
	if err != nil {
		return err
	}

	a, err := client.Artifact(name)
	if err != nil {
		return err
	}

	out := saveOutFlag
	if out == "" {
		out = attachment.FileName(name, a)
	}

	manifest, err := attachment.Save(out, name, a, saveManifestFlag)
	if err != nil {
		return err
	}

	fmt.Printf("Saved %d bytes to %s\n", a.Size(), out)
	if manifest != "" {
		fmt.Printf("Manifest %s\n", manifest)
	}
	return nil
}
