package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/schovi/mediarec/internal/attachment"
)

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop recording and finalize the attachment",
	Long: `Stop recording, release the device and assemble the captured fragments into one attachment.

The attachment stays in the slot until it is cleared or killed. Use --out to also write it to a file.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

var (
	stopOutFlag      string
	stopManifestFlag bool
	stopTimeoutFlag  time.Duration
	stopJsonFlag     bool
)

func init() {
	stopCmd.Flags().StringVar(&stopOutFlag, "out", "", "Write the attachment to this file")
	stopCmd.Flags().BoolVar(&stopManifestFlag, "manifest", false, "Write a YAML manifest next to --out")
	stopCmd.Flags().DurationVar(&stopTimeoutFlag, "timeout", 0, "Max time to wait for the recorder to flush (default: from config)")
	stopCmd.Flags().BoolVar(&stopJsonFlag, "json", false, "Output as JSON")
}

func runStop(cmd *cobra.Command, args []string) error {
	name := args[0]

	if stopManifestFlag && stopOutFlag == "" {
		return fmt.Errorf("--manifest requires --out")
	}

	client, err := connect()
	if err != nil {
		return err
	}

	res, err := client.Stop(name, stopTimeoutFlag)
	if err != nil {
		return err
	}

	var manifest string
	if stopOutFlag != "" && res.Artifact != nil {
		manifest, err = attachment.Save(stopOutFlag, name, res.Artifact, stopManifestFlag)
		if err != nil {
			return err
		}
	}

	if stopJsonFlag {
		out := map[string]interface{}{
			"slot": res.Slot,
		}
		if stopOutFlag != "" {
			out["file"] = stopOutFlag
		}
		if manifest != "" {
			out["manifest"] = manifest
		}
		return printJSON(out)
	}

	if res.Artifact == nil {
		fmt.Printf("Stopped %q (no recording)\n", name)
		return nil
	}
	a := res.Artifact
	fmt.Printf("Stopped %q: %s, %d bytes, %s\n", name, a.MIMEType, a.Size(), res.Slot.Elapsed)
	if a.Partial {
		fmt.Println("Warning: recorder did not flush in time, the end of the recording may be missing")
	}
	if stopOutFlag != "" {
		fmt.Printf("Saved to %s\n", stopOutFlag)
	}
	if manifest != "" {
		fmt.Printf("Manifest %s\n", manifest)
	}
	return nil
}
