// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/radiolink/pkg/link"
	"github.com/Thermoquad/radiolink/pkg/linkstats"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// statsSource is one link end shown by the TUI
type statsSource struct {
	name  string
	stats func() link.Stats
}

// TUI model
type statsModel struct {
	title         string
	connInfo      string
	sources       []statsSource
	latest        []link.Stats
	seen          []bool
	quality       progress.Model
	input         textinput.Model
	send          func(string) int // nil hides the input line
	started       time.Time
	eventLog      []eventLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

// Messages
type statsTickMsg time.Time

const statsRefresh = 250 * time.Millisecond

// formatUptime formats a duration in milliseconds as "1 hour, 2 minutes,
// and 3 seconds"
func formatUptime(ms uint64) string {
	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n uint64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	return strings.Join(parts[:len(parts)-1], ", ") + ", and " + last
}

func initialStatsModel(title, connInfo string, sources []statsSource, send func(string) int) statsModel {
	ti := textinput.New()
	ti.Placeholder = "type a line to send on the primary stream"
	ti.CharLimit = 200
	ti.Width = 60
	if send != nil {
		ti.Focus()
	}

	return statsModel{
		title:         title,
		connInfo:      connInfo,
		sources:       sources,
		latest:        make([]link.Stats, len(sources)),
		seen:          make([]bool, len(sources)),
		quality:       progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		input:         ti,
		send:          send,
		started:       time.Now(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m statsModel) Init() tea.Cmd {
	return tea.Batch(
		statsTickCmd(),
		tea.EnterAltScreen,
		textinput.Blink,
	)
}

func statsTickCmd() tea.Cmd {
	return tea.Tick(statsRefresh, func(t time.Time) tea.Msg {
		return statsTickMsg(t)
	})
}

func (m statsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "q":
			if m.send == nil {
				m.quitting = true
				return m, tea.Quit
			}
		case "enter":
			if m.send != nil && m.input.Value() != "" {
				line := m.input.Value() + "\n"
				n := m.send(line)
				if n < len(line) {
					m.addLogEntry(fmt.Sprintf("Queue full, sent %d of %d bytes", n, len(line)), true)
				}
				m.input.SetValue("")
				return m, nil
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.quality.Width = max(10, msg.Width/3)

	case statsTickMsg:
		m.refresh()
		return m, statsTickCmd()
	}

	if m.send != nil {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// refresh pulls new snapshots and logs what changed
func (m *statsModel) refresh() {
	for i, src := range m.sources {
		st := src.stats()
		prev := m.latest[i]
		if m.seen[i] {
			m.logChanges(src.name, prev, st)
		}
		m.latest[i] = st
		m.seen[i] = true
	}
}

func (m *statsModel) logChanges(name string, prev, cur link.Stats) {
	if cur.Connected != prev.Connected {
		if cur.Connected {
			m.addLogEntry(fmt.Sprintf("%s: link up on channel %d", name, cur.Channel), false)
		} else {
			m.addLogEntry(fmt.Sprintf("%s: link lost", name), true)
		}
	}
	if cur.Resets > prev.Resets {
		m.addLogEntry(fmt.Sprintf("%s: radio reset (%d total)", name, cur.Resets), true)
	}
	if cur.Timeouts > prev.Timeouts {
		m.addLogEntry(fmt.Sprintf("%s: %d transaction timeout(s)", name, cur.Timeouts-prev.Timeouts), true)
	}
	if cur.State == link.StateFatalError && prev.State != link.StateFatalError {
		m.addLogEntry(fmt.Sprintf("%s: radio halted", name), true)
	}
}

func (m *statsModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// qualityFraction maps link quality onto 0..1 for the progress bar
func qualityFraction(q int) float64 {
	lo := linkstats.QualityBase - linkstats.HistoryLen
	hi := linkstats.QualityBase + linkstats.HistoryLen
	f := float64(q-lo) / float64(hi-lo)
	return min(1, max(0, f))
}

func (m statsModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render(m.title))
	s.WriteString("\n")
	quit := "'q' to quit"
	if m.send != nil {
		quit = "Esc to quit"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Up %s | %s",
		m.connInfo, formatUptime(uint64(time.Since(m.started).Milliseconds())), quit)))
	s.WriteString("\n\n")

	label := func(l string) string { return statsLabelStyle.Render(l) }
	value := func(format string, a ...any) string { return statsValueStyle.Render(fmt.Sprintf(format, a...)) }
	bad := func(format string, a ...any) string { return errorStyle.Render(fmt.Sprintf(format, a...)) }

	panels := make([]string, 0, len(m.sources))
	for i, src := range m.sources {
		var c strings.Builder
		c.WriteString(label(src.name))
		c.WriteString("\n")
		if !m.seen[i] {
			c.WriteString(warningStyle.Render("Waiting for statistics..."))
			panels = append(panels, boxStyle.Render(c.String()))
			continue
		}
		st := m.latest[i]

		linkState := warningStyle.Render("searching")
		if st.Connected {
			linkState = statsValueStyle.Render("connected")
		}
		if st.State == link.StateFatalError {
			linkState = bad("halted")
		}
		fmt.Fprintf(&c, "%s %s   %s %s\n", label("Link:"), linkState, label("State:"), value("%s", st.State))
		fmt.Fprintf(&c, "%s %s %s\n", label("Quality:"), m.quality.ViewAs(qualityFraction(st.LinkQuality)), value("%d", st.LinkQuality))
		fmt.Fprintf(&c, "%s %s   %s %s   %s %s\n",
			label("Channel:"), value("%d (#%d)", st.Channel, st.ChannelIndex),
			label("RSSI:"), value("%d", st.RSSI),
			label("Skew:"), value("%d ms", st.ClockSkew))
		fmt.Fprintf(&c, "%s %s   %s %s   %s %s   %s %s\n",
			label("Good:"), value("%d", st.RxGood),
			label("Corrected:"), warningStyle.Render(fmt.Sprintf("%d", st.RxCorrected)),
			label("Error:"), bad("%d", st.RxError),
			label("Lost:"), bad("%d", st.RxFailure))
		fmt.Fprintf(&c, "%s %s   %s %s\n",
			label("TX:"), value("%d pkts / %d B", st.TxPackets, st.TxBytes),
			label("RX:"), value("%d pkts / %d B", st.RxPackets, st.RxBytes))
		if st.TxFailures > 0 || st.Timeouts > 0 || st.Resets > 0 || st.Dropped > 0 {
			fmt.Fprintf(&c, "%s %s   %s %s   %s %s   %s %s",
				label("TX fail:"), bad("%d", st.TxFailures),
				label("Timeouts:"), bad("%d", st.Timeouts),
				label("Resets:"), bad("%d", st.Resets),
				label("Dropped:"), bad("%d", st.Dropped))
		}
		panels = append(panels, boxStyle.Render(c.String()))
	}
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels...))
	s.WriteString("\n\n")

	if m.send != nil {
		s.WriteString(label("Send:"))
		s.WriteString(" ")
		s.WriteString(m.input.View())
		s.WriteString("\n\n")
	}

	s.WriteString(label("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 16
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := max(0, len(m.eventLog)-logHeight)

	var logContent strings.Builder
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.eventLog[startIdx:] {
		timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
		if entry.isError {
			fmt.Fprintf(&logContent, "%s %s\n", timestamp, errorStyle.Render("✗ "+entry.message))
		} else {
			fmt.Fprintf(&logContent, "%s %s\n", timestamp, warningStyle.Render("ℹ "+entry.message))
		}
	}
	s.WriteString(boxStyle.Width(max(20, m.width-4)).Render(logContent.String()))

	return s.String()
}

// runStatsTUI blocks until the user quits
func runStatsTUI(title, connInfo string, sources []statsSource, send func(string) int) error {
	p := tea.NewProgram(initialStatsModel(title, connInfo, sources, send))
	_, err := p.Run()
	return err
}

// formatStatsLine is the one-line summary printed when no TUI is running
func formatStatsLine(name string, st link.Stats) string {
	conn := "searching"
	if st.Connected {
		conn = "connected"
	}
	return fmt.Sprintf("[%s] %s %s q=%d ch=%d(#%d) rssi=%d good=%d corr=%d err=%d lost=%d tx=%d rx=%d resets=%d",
		name, st.State, conn, st.LinkQuality, st.Channel, st.ChannelIndex, st.RSSI,
		st.RxGood, st.RxCorrected, st.RxError, st.RxFailure, st.TxPackets, st.RxPackets, st.Resets)
}
