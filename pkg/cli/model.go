package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DefaultRefreshInterval is how often the monitor reloads simulations.
const DefaultRefreshInterval = 5 * time.Second

const requestTimeout = 10 * time.Second

// View state
type viewState int

const (
	viewList viewState = iota
	viewDetail
)

// KeyMap defines the keybindings
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Enter   key.Binding
	Escape  key.Binding
	Delete  key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the default keybindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "details"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Delete: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "delete"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns keybindings for short help
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Enter, k.Delete, k.Quit}
}

// FullHelp returns keybindings for extended help
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Enter, k.Escape},
		{k.Delete, k.Refresh, k.Quit},
	}
}

// SimulationLister is the part of Client the monitor needs.
type SimulationLister interface {
	ListSimulations(ctx context.Context) ([]SimulationItem, error)
	DeleteSimulation(ctx context.Context, name string) error
}

// Model is the bubbletea model of the simulation monitor.
type Model struct {
	client   SimulationLister
	interval time.Duration
	items    []SimulationItem
	cursor   int
	view     viewState
	keys     KeyMap
	help     help.Model
	width    int
	height   int
	status   string
	err      error
}

// NewModel creates a new monitor model refreshing every interval.
func NewModel(client SimulationLister, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return Model{
		client:   client,
		interval: interval,
		items:    []SimulationItem{},
		view:     viewList,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		status:   "Loading...",
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadSimulations, m.tick())
}

// Messages
type simulationsLoadedMsg struct {
	items []SimulationItem
}

type actionDoneMsg struct {
	action string
	err    error
}

type errMsg struct {
	err error
}

type tickMsg time.Time

func (m Model) loadSimulations() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	items, err := m.client.ListSimulations(ctx)
	if err != nil {
		return errMsg{err: err}
	}
	return simulationsLoadedMsg{items: items}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		return m, tea.Batch(m.loadSimulations, m.tick())

	case simulationsLoadedMsg:
		m.SetItems(msg.items)
		m.err = nil
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Error: %v", msg.err)
		} else {
			m.status = fmt.Sprintf("Action '%s' completed", msg.action)
		}
		return m, m.loadSimulations

	case errMsg:
		m.err = msg.err
		m.status = fmt.Sprintf("Error: %v", msg.err)
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.view == viewDetail && key.Matches(msg, m.keys.Escape) {
		m.view = viewList
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Enter):
		if len(m.items) > 0 {
			m.view = viewDetail
		}
		return m, nil

	case key.Matches(msg, m.keys.Escape):
		m.view = viewList
		return m, nil

	case key.Matches(msg, m.keys.Delete):
		if len(m.items) > 0 && !m.items[m.cursor].Deleting {
			return m, m.deleteSimulation(m.items[m.cursor])
		}

	case key.Matches(msg, m.keys.Refresh):
		return m, m.loadSimulations
	}

	return m, nil
}

func (m Model) deleteSimulation(item SimulationItem) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		err := m.client.DeleteSimulation(ctx, item.Name)
		return actionDoneMsg{action: "delete " + item.Name, err: err}
	}
}

// View renders the UI
func (m Model) View() string {
	if m.view == viewDetail {
		return m.viewDetailPage()
	}
	return m.viewListPage()
}

func (m Model) viewListPage() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("SimKube Simulations"))
	b.WriteString("\n\n")

	if len(m.items) == 0 {
		b.WriteString(itemStyle.Render("No simulations"))
		b.WriteString("\n")
	} else {
		for i, item := range m.items {
			cursor := "  "
			style := itemStyle
			if i == m.cursor {
				cursor = "> "
				style = selectedItemStyle
			}

			line := fmt.Sprintf("%s%s", cursor, item.Name)
			b.WriteString(lipgloss.JoinHorizontal(lipgloss.Left,
				style.Render(line),
				" ",
				stateStyle(item).Render(item.displayState()),
			))
			b.WriteString("\n")
			b.WriteString(itemStyle.Render("   " + item.Description()))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(statusBarStyle.Render(m.status))
	b.WriteString("\n")

	b.WriteString(helpStyle.Render(m.help.View(m.keys)))

	return b.String()
}

func (m Model) viewDetailPage() string {
	if len(m.items) == 0 || m.cursor >= len(m.items) {
		return "No item selected"
	}

	item := m.items[m.cursor]

	var b strings.Builder

	b.WriteString(modalTitleStyle.Render("Simulation Details"))
	b.WriteString("\n\n")

	created := ""
	if !item.CreatedAt.IsZero() {
		created = item.CreatedAt.Format(time.RFC3339)
	}
	fields := []struct {
		label string
		value string
	}{
		{"Name", item.Name},
		{"State", item.displayState()},
		{"", ""},
		{"Trace", item.Trace},
		{"Driver NS", item.DriverNamespace},
		{"Created At", created},
	}

	for _, f := range fields {
		if f.label == "" {
			b.WriteString("\n")
			continue
		}
		line := lipgloss.JoinHorizontal(
			lipgloss.Left,
			labelStyle.Render(f.label+":"),
			valueStyle.Render(f.value),
		)
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("Press ESC to go back"))

	return modalStyle.Render(b.String())
}

// SetItems replaces the listed simulations, keeping the cursor in range.
func (m *Model) SetItems(items []SimulationItem) {
	m.items = items
	if m.cursor >= len(items) {
		m.cursor = max(len(items)-1, 0)
	}
	if len(items) == 0 {
		m.view = viewList
	}
	m.status = fmt.Sprintf("%d simulation(s)", len(items))
}
