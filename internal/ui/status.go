package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/channel"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// maxNotes is how many tasting notes the status view keeps on screen.
const maxNotes = 8

type (
	stateMsg struct {
		state     channel.State
		transport string
		channelID string
	}
	countMsg struct {
		count     int
		synthetic bool
	}
	reconnectMsg int
	noteMsg      string
	errMsg       string
)

// EventMsg converts a channel event into a status update. It returns nil
// for events the view does not show.
func EventMsg(ev channel.Event) tea.Msg {
	switch ev.Type {
	case channel.EventStateChanged:
		return stateMsg{state: ev.State, transport: string(ev.Transport), channelID: ev.ChannelID}
	case channel.EventParticipantCount:
		return countMsg{count: ev.Count, synthetic: ev.Synthetic || ev.Count == channel.SyntheticParticipantCount}
	case channel.EventReconnecting:
		return reconnectMsg(ev.Attempt)
	case channel.EventFailed:
		return errMsg(channel.UserMessage)
	case channel.EventConnectError:
		if ev.Err != nil {
			return errMsg(ev.Err.Error())
		}
	}
	return nil
}

// StatusModel shows the live state of a watch session.
type StatusModel struct {
	stream     string
	state      channel.State
	transport  string
	channelID  string
	count      int
	synthetic  bool
	reconnects int
	notes      []string
	lastErr    string
	spinner    spinner.Model
	quitting   bool
}

// NewStatusModel creates the view for stream.
func NewStatusModel(stream string) *StatusModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &StatusModel{
		stream:  stream,
		state:   channel.StateConnecting,
		spinner: s,
	}
}

func (m *StatusModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stateMsg:
		m.state = msg.state
		if msg.transport != "" {
			m.transport = msg.transport
		}
		if msg.channelID != "" {
			m.channelID = msg.channelID
		}
		if msg.state == channel.StateConnected {
			m.lastErr = ""
		}

	case countMsg:
		m.count = msg.count
		m.synthetic = msg.synthetic

	case reconnectMsg:
		m.reconnects++

	case noteMsg:
		m.notes = append(m.notes, string(msg))
		if len(m.notes) > maxNotes {
			m.notes = m.notes[len(m.notes)-maxNotes:]
		}

	case errMsg:
		m.lastErr = string(msg)
	}

	return m, nil
}

func (m *StatusModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(fmt.Sprintf("\n%s Watching %s\n\n", IconStream, BoldStyle.Render(m.stream)))

	status := StatusStyle.Render(m.state.String())
	if m.state != channel.StateConnected {
		status = m.spinner.View() + " " + status
	}
	b.WriteString(status)
	if m.transport != "" {
		b.WriteString(MutedStyle.Render(fmt.Sprintf("  via %s", m.transport)))
	}
	if m.channelID != "" {
		b.WriteString(MutedStyle.Render(fmt.Sprintf("  [%s]", m.channelID)))
	}
	b.WriteString("\n")

	switch {
	case m.synthetic:
		b.WriteString(WarningStyle.Render(fmt.Sprintf("%s offline preview, no live audience", IconWarning)))
	default:
		b.WriteString(fmt.Sprintf("%s %d in the room", IconViewer, m.count))
	}
	if m.reconnects > 0 {
		b.WriteString(MutedStyle.Render(fmt.Sprintf("  (%d reconnects)", m.reconnects)))
	}
	b.WriteString("\n\n")

	if len(m.notes) == 0 {
		b.WriteString(MutedStyle.Render(IconWaiting+" waiting for tasting notes...") + "\n")
	}
	for _, n := range m.notes {
		b.WriteString(fmt.Sprintf("  %s %s\n", IconNote, n))
	}

	if m.lastErr != "" {
		b.WriteString("\n" + ErrorStyle.Render(m.lastErr) + "\n")
	}

	b.WriteString("\n" + MutedStyle.Render("Press q to quit"))
	return b.String()
}

// Reconnects returns how many reconnect attempts the view has seen.
func (m *StatusModel) Reconnects() int {
	return m.reconnects
}

// Notes returns how many notes arrived.
func (m *StatusModel) Notes() []string {
	return m.notes
}

// StatusUI runs a StatusModel in its own goroutine.
type StatusUI struct {
	program *tea.Program
	model   *StatusModel
	started time.Time
	done    chan struct{}
	once    sync.Once
	noted   int
	mu      sync.Mutex
}

func NewStatusUI(stream string) *StatusUI {
	model := NewStatusModel(stream)
	return &StatusUI{
		model:   model,
		program: tea.NewProgram(model),
		done:    make(chan struct{}),
	}
}

// Start starts the UI in a goroutine
func (ui *StatusUI) Start() {
	ui.started = time.Now()
	go func() {
		defer close(ui.done)
		if _, err := ui.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// Event forwards a channel event to the view.
func (ui *StatusUI) Event(ev channel.Event) {
	if msg := EventMsg(ev); msg != nil {
		ui.program.Send(msg)
	}
}

// Note shows a tasting note.
func (ui *StatusUI) Note(note string) {
	ui.mu.Lock()
	ui.noted++
	ui.mu.Unlock()
	ui.program.Send(noteMsg(note))
}

// Error shows msg until the next successful connect.
func (ui *StatusUI) Error(msg string) {
	ui.program.Send(errMsg(msg))
}

// Done is closed once the user quits or Stop returns.
func (ui *StatusUI) Done() <-chan struct{} {
	return ui.done
}

// Stop quits the program and waits for it to exit.
func (ui *StatusUI) Stop() {
	ui.once.Do(func() {
		ui.program.Quit()
	})
	<-ui.done
}

// Summary describes the session after Stop.
func (ui *StatusUI) Summary() SessionSummary {
	ui.mu.Lock()
	noted := ui.noted
	ui.mu.Unlock()
	return SessionSummary{
		Stream:    ui.model.stream,
		Role:      "viewer",
		Transport: ui.model.transport,
		Duration:  time.Since(ui.started).Round(time.Second).String(),
		Notes:     noted,
		Reconnect: ui.model.Reconnects(),
	}
}
