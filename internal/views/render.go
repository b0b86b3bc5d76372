package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

type AlarmData struct {
	Title      string
	TaskText   string
	ReminderID int64
	Elapsed    time.Duration
	FollowUp   bool
	Help       string
	Width      int
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2)
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func RenderAlarm(data AlarmData) string {
	title := strings.TrimSpace(data.Title)
	if title == "" {
		title = "Reminder"
	}
	header := headerStyle.Render(strings.ToUpper(title))
	if data.FollowUp {
		header = promptStyle.Render(title)
	}

	body := RenderMarkdown(data.TaskText)
	if body == "" {
		body = fmt.Sprintf("Reminder #%d", data.ReminderID)
	}

	panel := panelStyle
	if data.Width > 4 {
		panel = panel.Width(data.Width - 4)
	}

	lines := []string{header, panel.Render(body)}
	if !data.FollowUp {
		lines = append(lines, statusStyle.Render(fmt.Sprintf("ringing for %s", data.Elapsed.Truncate(time.Second))))
	}
	if data.Help != "" {
		lines = append(lines, footerStyle.Render(data.Help))
	}
	return strings.Join(lines, "\n")
}

func RenderMarkdown(md string) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	out, err := glamour.Render(md, "dark")
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}
