package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/schovi/mediarec/internal/daemon"
)

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printSlot(info *daemon.SlotInfo) {
	fmt.Printf("Slot:     %s\n", info.Name)
	fmt.Printf("Kind:     %s\n", info.Kind)
	fmt.Printf("State:    %s\n", info.State)
	fmt.Printf("Elapsed:  %s\n", info.Elapsed)
	device := "released"
	if info.DeviceActive {
		device = "in use"
	}
	fmt.Printf("Device:   %s\n", device)
	if info.MIMEType != "" {
		fmt.Printf("Format:   %s\n", info.MIMEType)
	}
	if info.Fragments > 0 {
		fmt.Printf("Buffered: %d fragments, %d bytes\n", info.Fragments, info.BufferedBytes)
	}
	if info.LastError != "" {
		fmt.Printf("Error:    %s (%s)\n", info.LastError, info.ErrorCategory)
	}
	if a := info.Artifact; a != nil {
		partial := ""
		if a.Partial {
			partial = ", partial"
		}
		fmt.Printf("Artifact: %s, %d bytes, %ds%s\n", a.MIMEType, a.Size, a.Duration, partial)
	}
	fmt.Printf("Created:  %s\n", info.CreatedAt)
}
