package cmd

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/schovi/mediarec/internal/capture"
	"github.com/schovi/mediarec/internal/daemon"
	"github.com/schovi/mediarec/internal/tui"
)

var recordCmd = &cobra.Command{
	Use:   "record <name>",
	Short: "Record interactively",
	Long: `Open an interactive recorder for a slot, creating the slot if it does not exist.

Keys: space to record, p to pause or resume, enter to stop, c to discard, r to retry
after a refused device, q to quit. Quitting while recording discards the recording.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

var (
	recordKindFlag     string
	recordDeviceFlag   string
	recordOutFlag      string
	recordManifestFlag bool
)

func init() {
	recordCmd.Flags().StringVar(&recordKindFlag, "kind", "audio", "What to capture: audio or video")
	recordCmd.Flags().StringVar(&recordDeviceFlag, "device", "", "Input device (default: from config)")
	recordCmd.Flags().StringVar(&recordOutFlag, "out", "", "Write the attachment to this file when stopped")
	recordCmd.Flags().BoolVar(&recordManifestFlag, "manifest", false, "Write a YAML manifest next to --out")
}

func runRecord(cmd *cobra.Command, args []string) error {
	name := args[0]

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("record needs a terminal; use create/start/stop instead")
	}
	if recordManifestFlag && recordOutFlag == "" {
		return fmt.Errorf("--manifest requires --out")
	}

	kind, err := capture.ParseKind(recordKindFlag)
	if err != nil {
		return err
	}

	client, err := connect()
	if err != nil {
		return err
	}

	if err := ensureSlot(client, name, kind); err != nil {
		return err
	}

	model := tui.New(client, tui.Options{
		Slot:        name,
		Device:      recordDeviceFlag,
		Out:         recordOutFlag,
		Manifest:    recordManifestFlag,
		StopTimeout: loader.Current().Capture.StopTimeout(),
	})

	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}

	if m, ok := final.(tui.Model); ok && m.SavedFile() != "" {
		fmt.Printf("Saved to %s\n", m.SavedFile())
	}
	return nil
}

// ensureSlot creates the slot unless it already exists with the same kind.
func ensureSlot(client *daemon.Client, name string, kind capture.Kind) error {
	_, err := client.Create(name, kind)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), daemon.ErrSlotExists.Error()) {
		return err
	}

	info, err := client.Info(name)
	if err != nil {
		return err
	}
	if info.Kind != string(kind) {
		return fmt.Errorf("slot %q records %s, not %s", name, info.Kind, kind)
	}
	return nil
}
