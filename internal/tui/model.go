package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/schovi/mediarec/internal/attachment"
	"github.com/schovi/mediarec/internal/capture"
	"github.com/schovi/mediarec/internal/daemon"
)

const DefaultRefreshInterval = 250 * time.Millisecond

// Controller drives one daemon slot. *daemon.Client implements it.
type Controller interface {
	Start(name, device string) (*daemon.SlotInfo, error)
	Pause(name string) (*daemon.SlotInfo, error)
	Resume(name string) (*daemon.SlotInfo, error)
	Clear(name string) (*daemon.SlotInfo, error)
	Info(name string) (*daemon.SlotInfo, error)
	Stop(name string, timeout time.Duration) (*daemon.StopResult, error)
}

type Options struct {
	Slot            string
	Device          string
	Out             string
	Manifest        bool
	StopTimeout     time.Duration
	RefreshInterval time.Duration
}

type Model struct {
	ctrl Controller
	opts Options

	info     daemon.SlotInfo
	err      error
	busy     bool
	quitting bool

	result       *daemon.StopResult
	savedFile    string
	manifestFile string

	keys     keyMap
	help     help.Model
	showHelp bool
}

type tickMsg time.Time

// infoMsg is a periodic refresh; slotMsg answers a user action.
type infoMsg struct {
	info *daemon.SlotInfo
	err  error
}

type slotMsg struct {
	info *daemon.SlotInfo
	err  error
}

type stoppedMsg struct {
	result   *daemon.StopResult
	file     string
	manifest string
	err      error
}

func New(ctrl Controller, opts Options) Model {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	m := Model{
		ctrl: ctrl,
		opts: opts,
		info: daemon.SlotInfo{Name: opts.Slot, State: "idle", Elapsed: "00:00"},
		keys: defaultKeyMap(),
		help: help.New(),
	}
	m.keys.forState(m.info.State, m.busy)
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) refresh() tea.Cmd {
	slot := m.opts.Slot
	return func() tea.Msg {
		info, err := m.ctrl.Info(slot)
		return infoMsg{info: info, err: err}
	}
}

func (m Model) action(op func(string) (*daemon.SlotInfo, error)) tea.Cmd {
	slot := m.opts.Slot
	return func() tea.Msg {
		info, err := op(slot)
		return slotMsg{info: info, err: err}
	}
}

func (m Model) stop() tea.Cmd {
	slot, opts := m.opts.Slot, m.opts
	return func() tea.Msg {
		res, err := m.ctrl.Stop(slot, opts.StopTimeout)
		if err != nil {
			return stoppedMsg{err: err}
		}
		msg := stoppedMsg{result: res}
		if opts.Out != "" && res.Artifact != nil {
			manifest, err := attachment.Save(opts.Out, slot, res.Artifact, opts.Manifest)
			if err != nil {
				msg.err = err
				return msg
			}
			msg.file = opts.Out
			msg.manifest = manifest
		}
		return msg
	}
}

// quit releases the device before exiting. A completed recording stays in
// the slot.
func (m Model) quit() tea.Cmd {
	switch m.info.State {
	case "acquiring", "recording", "paused", "stopping":
		slot := m.opts.Slot
		return func() tea.Msg {
			m.ctrl.Clear(slot)
			return tea.QuitMsg{}
		}
	}
	return tea.Quit
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		return m, tea.Batch(m.refresh(), m.tick())

	case infoMsg:
		if msg.err != nil {
			m.err = msg.err
		} else if msg.info != nil && !m.busy {
			m.info = *msg.info
		}

	case slotMsg:
		m.busy = false
		m.err = nil
		if msg.info != nil {
			m.info = *msg.info
		}
		// A failed slot already carries its reason.
		if msg.err != nil && m.info.State != "failed" {
			m.err = msg.err
		}
		if m.info.State != "completed" {
			m.result = nil
			m.savedFile, m.manifestFile = "", ""
		}

	case stoppedMsg:
		m.busy = false
		m.err = msg.err
		if msg.result != nil {
			m.info = msg.result.Slot
			m.result = msg.result
			m.savedFile = msg.file
			m.manifestFile = msg.manifest
		}

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	m.keys.forState(m.info.State, m.busy)
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, m.quit()
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		return m, nil
	case key.Matches(msg, m.keys.Start), key.Matches(msg, m.keys.Retry):
		device := m.opts.Device
		m.info.State = "acquiring"
		cmd = m.action(func(slot string) (*daemon.SlotInfo, error) { return m.ctrl.Start(slot, device) })
	case key.Matches(msg, m.keys.Pause):
		cmd = m.action(m.ctrl.Pause)
	case key.Matches(msg, m.keys.Resume):
		cmd = m.action(m.ctrl.Resume)
	case key.Matches(msg, m.keys.Stop):
		m.info.State = "stopping"
		cmd = m.stop()
	case key.Matches(msg, m.keys.Clear):
		cmd = m.action(m.ctrl.Clear)
	default:
		return m, nil
	}

	m.busy = true
	m.err = nil
	m.keys.forState(m.info.State, m.busy)
	return m, cmd
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	title := "mediarec  " + m.opts.Slot
	if m.info.Kind != "" {
		title += " · " + m.info.Kind
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	elapsed := m.info.Elapsed
	if elapsed == "" {
		elapsed = "00:00"
	}
	b.WriteString(stateIndicator(m.info.State))
	b.WriteString("  ")
	b.WriteString(timerStyle.BorderForeground(stateColor(m.info.State)).Render(elapsed))
	b.WriteString("\n")

	device := "released"
	if m.info.DeviceActive {
		device = "in use"
	}
	b.WriteString(mutedStyle.Render("device " + device))
	if m.info.BufferedBytes > 0 && m.info.State != "completed" {
		b.WriteString(mutedStyle.Render(fmt.Sprintf(" · %s buffered", formatBytes(m.info.BufferedBytes))))
	}
	b.WriteString("\n")

	switch m.info.State {
	case "failed":
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("✗ " + m.info.LastError))
		if m.info.ErrorCategory != "" {
			b.WriteString(mutedStyle.Render(" (" + m.info.ErrorCategory + ")"))
		}
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("press r to try again"))
		b.WriteString("\n")
	case "completed":
		b.WriteString("\n")
		b.WriteString(m.renderArtifact())
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))

	return boxStyle.Render(b.String())
}

func (m Model) renderArtifact() string {
	a := m.info.Artifact
	if a == nil {
		return doneStyle.Render("✓ recording ready") + "\n"
	}

	var b strings.Builder
	summary := fmt.Sprintf("✓ %s · %s · %s", formatBytes(int64(a.Size)), capture.FormatElapsed(a.Duration), a.MIMEType)
	b.WriteString(doneStyle.Render(summary))
	b.WriteString("\n")
	if a.Partial {
		b.WriteString(warnStyle.Render("partial recording: the end may be missing"))
		b.WriteString("\n")
	}
	if m.savedFile != "" {
		b.WriteString(mutedStyle.Render("saved to " + m.savedFile))
		b.WriteString("\n")
	}
	if m.manifestFile != "" {
		b.WriteString(mutedStyle.Render("manifest " + m.manifestFile))
		b.WriteString("\n")
	}
	return b.String()
}

// Result is the stop result of the last recording, if any.
func (m Model) Result() *daemon.StopResult {
	return m.result
}

func (m Model) SavedFile() string {
	return m.savedFile
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
