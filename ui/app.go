// Package ui is the bubbletea terminal front end: a live gauge table over
// the poll loop's committed snapshots, with manual refresh controls.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ftahirops/streamvis/config"
	"github.com/ftahirops/streamvis/engine"
	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/util"
)

type tickMsg time.Time

// Model is the bubbletea model. It only reads committed snapshots from the
// loop and posts control signals back; the loop remains the single writer.
type Model struct {
	loop *engine.Loop
	opts config.Options

	width  int
	height int

	selected int
	metric   string // stage | flow
	flash    string
	flashAt  time.Time
}

// NewModel builds the TUI over a running loop.
func NewModel(loop *engine.Loop, opts config.Options) Model {
	return Model{loop: loop, opts: opts, metric: opts.ChartMetric}
}

func (m Model) tickCmd() tea.Cmd {
	d := time.Duration(m.opts.UITickSec * float64(time.Second))
	if d <= 0 {
		d = 150 * time.Millisecond
	}
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the refresh ticker.
func (m Model) Init() tea.Cmd {
	return m.tickCmd()
}

// Update handles keys, resizes, and ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, m.tickCmd()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.loop.Quit()
			return m, tea.Quit
		case "r":
			m.loop.Refresh()
			m.flash = "refresh requested"
			m.flashAt = time.Now()
		case "R":
			m.loop.ForceRefetch()
			m.flash = "forced refetch requested"
			m.flashAt = time.Now()
		case "m":
			if m.metric == "stage" {
				m.metric = "flow"
			} else {
				m.metric = "stage"
			}
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.loop.TrackedGauges())-1 {
				m.selected++
			}
		}
	}
	return m, nil
}

// View renders the gauge table, the selected gauge's sparkline, and the
// status footer.
func (m Model) View() string {
	st := m.loop.Snapshot()
	if st == nil {
		return dimStyle.Render("waiting for first poll…")
	}
	now := time.Now().UTC()
	gauges := m.loop.TrackedGauges()
	if m.selected >= len(gauges) {
		m.selected = len(gauges) - 1
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("streamvis"))
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  backend=%s  metric=%s",
		st.Meta.LastBackendUsed, m.metric)))
	sb.WriteString("\n\n")

	sb.WriteString(headerStyle.Render(fmt.Sprintf(
		"%-6s %-26s %8s %9s %-12s %8s %8s %7s %9s %6s",
		"ID", "NAME", "STAGE", "FLOW", "STATUS", "AGE", "ETA", "CAD", "LATENCY", "P/U")))
	sb.WriteString("\n")

	for i, gauge := range gauges {
		g := st.Gauges[gauge.ID]
		row := m.renderRow(gauge, g, now)
		if i == m.selected {
			row = selectedStyle.Render(row)
		}
		sb.WriteString(row)
		sb.WriteString("\n")
	}

	if len(gauges) > 0 {
		sel := gauges[m.selected]
		sb.WriteString("\n")
		sb.WriteString(titleStyle.Render(sel.Name))
		sb.WriteString("\n")
		width := m.width - 20
		if width < 20 {
			width = 60
		}
		if g, ok := st.Gauges[sel.ID]; ok {
			sb.WriteString(sparkline(g.History, m.metric, width))
		} else {
			sb.WriteString(dimStyle.Render("no data"))
		}
		sb.WriteString("\n")
		sb.WriteString(m.renderOverlay(st, sel.ID, now))
	}

	sb.WriteString("\n")
	footer := m.loop.Footer()
	if m.flash != "" && time.Since(m.flashAt) < 3*time.Second {
		footer = m.flash + "  " + footer
	}
	sb.WriteString(dimStyle.Render(footer))
	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render("q quit · r refresh · R forced · m stage/flow · ↑/↓ select"))
	return sb.String()
}

func (m Model) renderRow(gauge model.Gauge, g *model.GaugeState, now time.Time) string {
	if g == nil {
		return fmt.Sprintf("%-6s %-26s %s", gauge.ID, trunc(gauge.Name, 26),
			dimStyle.Render("no data yet"))
	}
	status := model.ClassifyStage(g.LastStage, config.FloodThresholds[gauge.ID])

	age := "-"
	if g.LastTimestamp != nil {
		age = util.FmtRel(now, *g.LastTimestamp)
	}
	eta := "-"
	if t := engine.DisplayETA(g.NextETA, now); !t.IsZero() {
		eta = util.FmtRel(now, t)
	}
	cad := fmt.Sprintf("%.0fm", g.MeanIntervalSec/60)
	if g.CadenceMult > 0 {
		cad = fmt.Sprintf("%dx15m", g.CadenceMult)
	}
	lat := fmt.Sprintf("%.0f±%.0fs", g.LatencyLocSec, g.LatencyScaleSec)

	return fmt.Sprintf("%-6s %-26s %8s %9s %-12s %8s %8s %7s %9s %6.1f",
		gauge.ID, trunc(gauge.Name, 26),
		fmtMetric(g.LastStage), fmtMetric(g.LastFlow),
		statusStyle(status).Render(fmt.Sprintf("%-12s", status)),
		age, eta, cad, lat, g.PollsPerUpdateEWMA)
}

// renderOverlay shows the forecast summary line for a gauge, when present.
func (m Model) renderOverlay(st *model.State, gaugeID string, now time.Time) string {
	fc, ok := st.Forecast[gaugeID]
	if !ok || fc.Summary24h == nil {
		return ""
	}
	s := fc.Summary24h
	parts := []string{"forecast 24h:"}
	if s.StageMax != nil {
		when := ""
		if s.StageTime != nil {
			when = " " + util.FmtRel(now, *s.StageTime)
		}
		parts = append(parts, fmt.Sprintf("stage max %.2f%s", *s.StageMax, when))
	}
	if s.FlowMax != nil {
		parts = append(parts, fmt.Sprintf("flow max %.0f", *s.FlowMax))
	}
	if fc.PhaseShiftSec != nil {
		parts = append(parts, fmt.Sprintf("peak offset %+.0fm", *fc.PhaseShiftSec/60))
	}
	return dimStyle.Render(strings.Join(parts, "  "))
}

func fmtMetric(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func trunc(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// Run starts the fullscreen program and blocks until quit.
func Run(loop *engine.Loop, opts config.Options) error {
	p := tea.NewProgram(NewModel(loop, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
