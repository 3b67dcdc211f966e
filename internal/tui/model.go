// Package tui is an interactive terminal viewer for one request report.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/timing"
	"github.com/tobert/render-trace/internal/viewer"
	"github.com/tobert/render-trace/internal/viz"
)

// Source provides reports to the viewer.
type Source interface {
	Get(id string) (*report.Report, bool)
	Subscribe() (<-chan struct{}, func())
}

// Options configures the viewer.
type Options struct {
	ReportID   string // "" or "latest" follows the newest report
	ExportDir  string // where "e" writes trace files; "" means the working directory
	Thresholds viz.Thresholds
	Now        func() time.Time
}

// chrome is the number of lines around the table: title, filter, table
// header and rule, summary, status, help.
const chrome = 7

type reportUpdatedMsg struct{}

// Model is the Bubble Tea model of the viewer.
type Model struct {
	source  Source
	updates <-chan struct{}
	opts    Options

	rep       *report.Report
	filter    textinput.Model
	filtering bool
	hideFast  bool
	sort      viewer.SortState
	offset    int

	width  int
	height int
	status string
}

// New creates a viewer model reading from src.
func New(src Source, opts Options) *Model {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ti := textinput.New()
	ti.Placeholder = "filter by path"
	ti.Prompt = "/ "
	ti.CharLimit = 256

	m := &Model{
		source: src,
		opts:   opts,
		filter: ti,
		sort:   viewer.DefaultSortState(),
		width:  100,
		height: 30,
	}
	m.reload()
	return m
}

// Subscribe wires store notifications into the model. The returned function
// releases the subscription.
func (m *Model) Subscribe() func() {
	ch, unsubscribe := m.source.Subscribe()
	m.updates = ch
	return unsubscribe
}

func (m *Model) following() bool {
	return m.opts.ReportID == "" || m.opts.ReportID == "latest"
}

func (m *Model) reload() {
	id := m.opts.ReportID
	if m.following() {
		id = "latest"
	}
	if rep, ok := m.source.Get(id); ok {
		m.rep = rep
	}
}

func (m *Model) listen() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	ch := m.updates
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return reportUpdatedMsg{}
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return m.listen()
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case reportUpdatedMsg:
		if m.following() {
			m.reload()
			m.clampOffset()
		}
		return m, m.listen()

	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
		}
		if msg.Height > 0 {
			m.height = msg.Height
		}
		m.clampOffset()
		return m, nil

	case tea.KeyMsg:
		if m.filtering {
			return m.updateFilter(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter, tea.KeyEsc:
		m.filtering = false
		m.filter.Blur()
		return m, nil
	case tea.KeyCtrlC:
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.offset = 0
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "/":
		m.filtering = true
		return m, m.filter.Focus()
	case "h":
		m.hideFast = !m.hideFast
		m.offset = 0
	case "1", "2", "3", "4", "5", "6":
		col := viewer.Columns[int(key[0]-'1')]
		m.sort = m.sort.Toggle(col)
	case "e":
		m.export()
	case "r":
		m.reload()
		m.clampOffset()
	case "up", "k":
		if m.offset > 0 {
			m.offset--
		}
	case "down", "j":
		m.offset++
		m.clampOffset()
	case "pgdown", " ":
		m.offset += m.pageSize()
		m.clampOffset()
	case "pgup":
		m.offset = max(0, m.offset-m.pageSize())
	case "home", "g":
		m.offset = 0
	}
	return m, nil
}

func (m *Model) export() {
	if m.rep == nil {
		m.status = "nothing to export"
		return
	}
	dir := m.opts.ExportDir
	if dir == "" {
		dir = "."
	}
	path, err := viewer.WriteExport(dir, m.rep.TraceEvents, m.opts.Now())
	switch {
	case err != nil:
		m.status = "export failed: " + err.Error()
	case path == "":
		m.status = "nothing to export"
	default:
		m.status = "exported " + path
	}
}

// Rows returns the filtered and sorted timing rows currently shown.
func (m *Model) Rows() []timing.Timing {
	if m.rep == nil {
		return nil
	}
	opts := viewer.FilterOptions{Query: m.filter.Value()}
	if m.hideFast {
		opts.AboveMs = viewer.HideNegligible()
	}
	return m.sort.Apply(viewer.Filter(m.rep.Timings, opts))
}

// SortState returns the active sort.
func (m *Model) SortState() viewer.SortState { return m.sort }

// Status returns the last status message.
func (m *Model) Status() string { return m.status }

func (m *Model) pageSize() int {
	return max(1, m.height-chrome)
}

func (m *Model) clampOffset() {
	n := len(m.Rows())
	m.offset = max(0, min(m.offset, n-m.pageSize()))
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	if m.rep == nil {
		b.WriteString(titleStyle.Render("render-trace: waiting for a report…"))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("q quit"))
		return b.String()
	}

	title := fmt.Sprintf("%s %s  %.2f ms  %d queries  %s",
		m.rep.Method, m.rep.Path, m.rep.RenderTime, m.rep.SQLData.QueryCount, m.rep.ID)
	if m.following() {
		title += "  (following latest)"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	filterLine := m.filter.View()
	if m.hideFast {
		filterLine += dimStyle.Render(fmt.Sprintf("  hiding ≤ %.1f ms", viewer.NegligibleThresholdMs))
	}
	b.WriteString(filterLine)
	b.WriteString("\n")

	rows := m.Rows()
	end := min(len(rows), m.offset+m.pageSize())
	visible := rows[min(m.offset, end):end]
	b.WriteString(viz.TimingTable(visible, viz.TableOptions{
		Width:      m.width,
		Color:      true,
		Thresholds: m.opts.Thresholds,
		Sort:       m.sort,
	}))

	b.WriteString(infoStyle.Render(viz.Summary(len(rows), len(m.rep.Timings), m.rep.RenderTime)))
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(m.status)
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("/ filter  h hide fast  1-6 sort  e export  ↑/↓ scroll  r reload  q quit"))

	return b.String()
}

// Run starts the viewer on the terminal and blocks until it quits.
func Run(src Source, opts Options) error {
	m := New(src, opts)
	unsubscribe := m.Subscribe()
	defer unsubscribe()

	program := tea.NewProgram(m, tea.WithAltScreen())
	_, err := program.Run()
	return err
}
