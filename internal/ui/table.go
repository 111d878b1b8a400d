package ui

import (
	"fmt"
	"strconv"

	"github.com/bourbonbuddy/tastecast/internal/relay"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RoomsView renders the relay's rooms as a table.
func RoomsView(rooms []relay.RoomInfo) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("No live streams")
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.SetTitle(IconStream + " Live Streams")
	t.AppendHeader(table.Row{"Stream", "Broadcasting", "Viewers", "Participants"})
	for _, r := range rooms {
		live := "no"
		if r.Broadcasting {
			live = "yes"
		}
		t.AppendRow(table.Row{r.ID, live, r.Viewers, r.Participants})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	return t.Render()
}

func RenderRooms(rooms []relay.RoomInfo) {
	fmt.Fprintln(Output, RoomsView(rooms))
}

// SessionSummary describes a finished watch or broadcast session.
type SessionSummary struct {
	Stream    string
	Role      string
	Transport string
	Duration  string
	Notes     int
	Reconnect int
}

func SessionSummaryView(summary SessionSummary) string {
	rows := [][]string{
		{"Stream", summary.Stream},
		{"Role", summary.Role},
		{"Transport", summary.Transport},
		{"Duration", summary.Duration},
		{"Notes", strconv.Itoa(summary.Notes)},
		{"Reconnects", strconv.Itoa(summary.Reconnect)},
	}

	tbl := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Metric", "Value").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func RenderSessionSummary(summary SessionSummary) {
	fmt.Fprintln(Output, SessionSummaryView(summary))
}

// StreamInfoView announces a stream the user is broadcasting.
func StreamInfoView(stream, server string) string {
	content := fmt.Sprintf("%s Broadcasting!\n\n%s Stream:  %s\n%s Server:  %s\n\n%s",
		IconBroadcast,
		IconStream, BoldStyle.Foreground(Primary).Render(stream),
		IconConnect, MutedStyle.Render(server),
		MutedStyle.Render("Type a tasting note and press enter to share it."),
	)
	return StreamBoxStyle.Render(content)
}
