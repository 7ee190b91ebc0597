package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/schovi/mediarec/internal/attachment"
	"github.com/schovi/mediarec/internal/capture"
	"github.com/schovi/mediarec/internal/daemon"
)

var ErrUnknownTool = errors.New("unknown tool")

const instructions = "Record audio or video evidence for a complaint. " +
	"Create a slot per recording field, start it, optionally pause and resume, " +
	"then stop it with an output path to save the attachment. " +
	"Clear a slot to discard its recording and try again."

type ToolRegistry struct {
	client     *daemon.Client
	daemonArgs []string
}

// NewToolRegistry serves tools through client. daemonArgs are passed to a
// daemon the registry has to start.
func NewToolRegistry(client *daemon.Client, daemonArgs ...string) *ToolRegistry {
	return &ToolRegistry{client: client, daemonArgs: daemonArgs}
}

func (r *ToolRegistry) Name() string {
	return "mediarec"
}

func (r *ToolRegistry) Instructions() string {
	return instructions
}

func nameOnly(description string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": description,
			},
		},
		"required": []string{"name"},
	}
}

func (r *ToolRegistry) List() []ToolDef {
	return []ToolDef{
		{
			Name:        "create",
			Description: "Create a recording slot for one complaint field. The slot starts idle and holds at most one recording.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{
						"type":        "string",
						"description": "Unique slot name (e.g., 'complaint-42-voice')",
					},
					"kind": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"audio", "video"},
						"description": "What to capture. Video records camera and microphone together.",
					},
				},
				"required": []string{"name", "kind"},
			},
		},
		{
			Name:        "start",
			Description: "Request the capture device and start recording. On refusal the slot becomes failed and the result carries error_category (acquisition_denied or unsupported_format). Calling start again retries.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{
						"type":        "string",
						"description": "Slot name",
					},
					"device": map[string]interface{}{
						"type":        "string",
						"description": "Input device override (e.g., 'hw:1' or ':1'). Defaults to the configured device.",
					},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        "pause",
			Description: "Pause a recording. The elapsed timer stops and no media is captured until resume.",
			InputSchema: nameOnly("Slot name"),
		},
		{
			Name:        "resume",
			Description: "Resume a paused recording.",
			InputSchema: nameOnly("Slot name"),
		},
		{
			Name:        "stop",
			Description: "Stop recording, release the device and finalize the attachment. Pass 'out' to save the media file.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{
						"type":        "string",
						"description": "Slot name",
					},
					"out": map[string]interface{}{
						"type":        "string",
						"description": "Path to write the recording to (e.g., './evidence/voice.webm')",
					},
					"manifest": map[string]interface{}{
						"type":        "boolean",
						"description": "Also write a YAML manifest next to the file (default: false)",
					},
					"timeout_sec": map[string]interface{}{
						"type":        "integer",
						"description": "Max seconds to wait for the final fragment (default: daemon setting). On timeout the attachment is marked partial.",
					},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        "save",
			Description: "Save the finished recording of a completed slot to a file.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{
						"type":        "string",
						"description": "Slot name",
					},
					"out": map[string]interface{}{
						"type":        "string",
						"description": "Destination path",
					},
					"manifest": map[string]interface{}{
						"type":        "boolean",
						"description": "Also write a YAML manifest next to the file",
					},
				},
				"required": []string{"name", "out"},
			},
		},
		{
			Name:        "clear",
			Description: "Discard the slot's recording (or cancel an in-progress one), release the device and return to idle.",
			InputSchema: nameOnly("Slot name"),
		},
		{
			Name:        "info",
			Description: "Show slot state, elapsed time (mm:ss), device status and attachment details.",
			InputSchema: nameOnly("Slot name"),
		},
		{
			Name:        "list",
			Description: "List all recording slots with their state",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "kill",
			Description: "Delete a slot. Any recording in progress is discarded and the device released.",
			InputSchema: nameOnly("Slot name to delete"),
		},
	}
}

func (r *ToolRegistry) has(name string) bool {
	for _, t := range r.List() {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Call runs a tool, starting the daemon first if needed.
func (r *ToolRegistry) Call(name string, args json.RawMessage) (*CallToolResult, error) {
	if !r.has(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if err := r.client.EnsureDaemon(r.daemonArgs...); err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	switch name {
	case "create":
		return r.callCreate(args)
	case "start":
		return r.callSlot(args, r.client.Start)
	case "pause":
		return r.callSlot(args, func(name, _ string) (*daemon.SlotInfo, error) { return r.client.Pause(name) })
	case "resume":
		return r.callSlot(args, func(name, _ string) (*daemon.SlotInfo, error) { return r.client.Resume(name) })
	case "clear":
		return r.callSlot(args, func(name, _ string) (*daemon.SlotInfo, error) { return r.client.Clear(name) })
	case "info":
		return r.callSlot(args, func(name, _ string) (*daemon.SlotInfo, error) { return r.client.Info(name) })
	case "stop":
		return r.callStop(args)
	case "save":
		return r.callSave(args)
	case "list":
		return r.callList()
	case "kill":
		return r.callKill(args)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

func textResult(v interface{}) *CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return &CallToolResult{
		Content: []ContentBlock{{Type: "text", Text: string(data)}},
	}
}

type CreateArgs struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func (r *ToolRegistry) callCreate(args json.RawMessage) (*CallToolResult, error) {
	var a CreateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}

	kind, err := capture.ParseKind(a.Kind)
	if err != nil {
		return nil, err
	}

	info, err := r.client.Create(a.Name, kind)
	if err != nil {
		return nil, err
	}
	return textResult(info), nil
}

type SlotArgs struct {
	Name   string `json:"name"`
	Device string `json:"device"`
}

// callSlot reports a failure that still carries slot state (a refused
// device request) as an error result with the state attached, so the
// caller sees the error category.
func (r *ToolRegistry) callSlot(args json.RawMessage, op func(name, device string) (*daemon.SlotInfo, error)) (*CallToolResult, error) {
	var a SlotArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	if a.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	info, err := op(a.Name, a.Device)
	if err != nil {
		if info == nil {
			return nil, err
		}
		result := textResult(info)
		result.Content = append([]ContentBlock{{Type: "text", Text: err.Error()}}, result.Content...)
		result.IsError = true
		return result, nil
	}
	return textResult(info), nil
}

type StopArgs struct {
	Name       string `json:"name"`
	Out        string `json:"out"`
	Manifest   bool   `json:"manifest"`
	TimeoutSec int    `json:"timeout_sec"`
}

type savedAttachment struct {
	Slot     daemon.SlotInfo       `json:"slot"`
	Artifact *capture.ArtifactInfo `json:"artifact,omitempty"`
	File     string                `json:"file,omitempty"`
	Manifest string                `json:"manifest,omitempty"`
}

func (r *ToolRegistry) callStop(args json.RawMessage) (*CallToolResult, error) {
	var a StopArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	if a.TimeoutSec < 0 {
		return nil, fmt.Errorf("timeout_sec must not be negative")
	}
	if a.Manifest && a.Out == "" {
		return nil, fmt.Errorf("manifest requires out")
	}

	res, err := r.client.Stop(a.Name, time.Duration(a.TimeoutSec)*time.Second)
	if err != nil {
		return nil, err
	}

	out := savedAttachment{Slot: res.Slot}
	if res.Artifact != nil {
		info := res.Artifact.Info()
		out.Artifact = &info
		if a.Out != "" {
			manifest, err := attachment.Save(a.Out, a.Name, res.Artifact, a.Manifest)
			if err != nil {
				return nil, err
			}
			out.File = a.Out
			out.Manifest = manifest
		}
	}
	return textResult(out), nil
}

type SaveArgs struct {
	Name     string `json:"name"`
	Out      string `json:"out"`
	Manifest bool   `json:"manifest"`
}

func (r *ToolRegistry) callSave(args json.RawMessage) (*CallToolResult, error) {
	var a SaveArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	if a.Out == "" {
		return nil, fmt.Errorf("out is required")
	}

	artifact, err := r.client.Artifact(a.Name)
	if err != nil {
		return nil, err
	}
	slot, err := r.client.Info(a.Name)
	if err != nil {
		return nil, err
	}

	manifest, err := attachment.Save(a.Out, a.Name, artifact, a.Manifest)
	if err != nil {
		return nil, err
	}

	info := artifact.Info()
	return textResult(savedAttachment{
		Slot:     *slot,
		Artifact: &info,
		File:     a.Out,
		Manifest: manifest,
	}), nil
}

func (r *ToolRegistry) callList() (*CallToolResult, error) {
	slots, err := r.client.List()
	if err != nil {
		return nil, err
	}
	return textResult(slots), nil
}

type KillArgs struct {
	Name string `json:"name"`
}

func (r *ToolRegistry) callKill(args json.RawMessage) (*CallToolResult, error) {
	var a KillArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}

	if err := r.client.Kill(a.Name); err != nil {
		return nil, err
	}

	return &CallToolResult{
		Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf("slot %q deleted", a.Name)}},
	}, nil
}
