// Package tui implements the interactive recorder shown by `mediarec record`.
package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Start  key.Binding
	Retry  key.Binding
	Pause  key.Binding
	Resume key.Binding
	Stop   key.Binding
	Clear  key.Binding
	Help   key.Binding
	Quit   key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Start: key.NewBinding(
			key.WithKeys(" ", "s"),
			key.WithHelp("space", "record"),
		),
		Retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "retry"),
		),
		Pause: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "pause"),
		),
		Resume: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "resume"),
		),
		Stop: key.NewBinding(
			key.WithKeys("enter", "x"),
			key.WithHelp("enter", "stop"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c", "backspace"),
			key.WithHelp("c", "discard"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.Retry, k.Pause, k.Resume, k.Stop, k.Clear, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Start, k.Retry, k.Stop},
		{k.Pause, k.Resume, k.Clear},
		{k.Help, k.Quit},
	}
}

// forState enables only the bindings that make sense in state.
func (k *keyMap) forState(state string, busy bool) {
	idle := state == "idle"
	failed := state == "failed"
	recording := state == "recording"
	paused := state == "paused"
	completed := state == "completed"

	k.Start.SetEnabled(!busy && idle)
	k.Retry.SetEnabled(!busy && failed)
	k.Pause.SetEnabled(!busy && recording)
	k.Resume.SetEnabled(!busy && paused)
	k.Stop.SetEnabled(!busy && (recording || paused))
	k.Clear.SetEnabled(!busy && (recording || paused || completed || failed))
}
