package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Request the capture device and start recording",
	Long: `Request the microphone (audio) or camera and microphone (video) and start recording.

If the device is refused the slot is left failed with the reason. Run start again to retry.`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

var startDeviceFlag string
var startJsonFlag bool

func init() {
	startCmd.Flags().StringVar(&startDeviceFlag, "device", "", "Input device (default: from config)")
	startCmd.Flags().BoolVar(&startJsonFlag, "json", false, "Output as JSON")
}

func runStart(cmd *cobra.Command, args []string) error {
	name := args[0]

	client, err := connect()
	if err != nil {
		return err
	}

	info, err := client.Start(name, startDeviceFlag)
	if err != nil {
		if info != nil && info.State == "failed" {
			if startJsonFlag {
				printJSON(info)
			}
			return fmt.Errorf("%s (%s); run `mediarec start %s` to try again",
				info.LastError, info.ErrorCategory, name)
		}
		return err
	}

	if startJsonFlag {
		return printJSON(info)
	}
	fmt.Printf("Recording %q (%s)\n", info.Name, info.MIMEType)
	return nil
}
