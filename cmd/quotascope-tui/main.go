package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rmax-ai/quotascope/pkg/client"
	"github.com/rmax-ai/quotascope/pkg/usage"
)

// Config
const (
	pollRate = 2 * time.Second
	barWidth = 40
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	serviceStyle = lipgloss.NewStyle().Bold(true).Width(14)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Width(12)
)

type tickMsg time.Time

type dataMsg struct {
	records []usage.ServiceUsage
	err     error
}

type refreshedMsg struct{}

type model struct {
	api     *client.Client
	spinner spinner.Model
	bar     progress.Model
	records []usage.ServiceUsage
	err     error
	ready   bool
}

func initialModel(api *client.Client) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth))

	return model{
		api:     api,
		spinner: s,
		bar:     bar,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchData(m.api),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, triggerRefresh(m.api)
		}

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, fetchData(m.api), tick())

	case refreshedMsg:
		cmds = append(cmds, fetchData(m.api))

	case dataMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.records = msg.records
		}
		m.ready = true
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Connecting to quotascope-d...", m.spinner.View())
	}

	var sb strings.Builder
	for _, record := range m.records {
		sb.WriteString(m.renderRecord(record))
		sb.WriteString("\n")
	}
	if len(m.records) == 0 {
		sb.WriteString(subtleStyle.Render("No usage data yet."))
	}

	header := headerStyle.Render(fmt.Sprintf("%s Quotascope", m.spinner.View()))
	pane := paneStyle.Render(sb.String())

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
	} else {
		status = okStyle.Render(fmt.Sprintf("Online • %d services", len(m.records)))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\nPress r to refresh, q to quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, header, pane, footer)
}

func (m model) renderRecord(record usage.ServiceUsage) string {
	var sb strings.Builder
	sb.WriteString(serviceStyle.Render(record.DisplayName))

	if record.Error != "" {
		if record.NeedsLogin {
			sb.WriteString(warnStyle.Render(" login required: "))
		} else {
			sb.WriteString(errorStyle.Render(" error: "))
		}
		sb.WriteString(subtleStyle.Render(record.Error))
		sb.WriteString("\n")
		return sb.String()
	}

	sb.WriteString(subtleStyle.Render(fmt.Sprintf(" updated %s", record.UpdatedAt.Local().Format("15:04:05"))))
	sb.WriteString("\n")

	for _, w := range []*usage.RateWindow{record.Primary, record.Secondary, record.Tertiary} {
		if w == nil {
			continue
		}
		label := w.Label
		if label == "" {
			label = "usage"
		}
		line := fmt.Sprintf("  %s %s %5.1f%%",
			labelStyle.Render(label),
			m.bar.ViewAs(w.UsedPercent/100),
			w.UsedPercent,
		)
		if w.ResetsAt != nil {
			line += subtleStyle.Render(fmt.Sprintf("  resets %s", w.ResetsAt.Local().Format("15:04")))
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

// Commands

func fetchData(api *client.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		records, err := api.GetUsage(ctx)
		if err != nil {
			return dataMsg{err: err}
		}
		return dataMsg{records: records}
	}
}

func triggerRefresh(api *client.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if _, err := api.Refresh(ctx); err != nil {
			return dataMsg{err: err}
		}
		return refreshedMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	endpoint := os.Getenv("QUOTASCOPE_ADDR")
	if endpoint != "" && !strings.HasPrefix(endpoint, "http") {
		endpoint = "http://" + endpoint
	}

	p := tea.NewProgram(initialModel(client.NewClient(endpoint)), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
