package monitor

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marlow/boardsync/internal/netmon"
	"github.com/marlow/boardsync/internal/store"
)

// Model is the Bubble Tea model for the live sync monitor.
type Model struct {
	Monitor *netmon.Monitor
	Store   *store.Store

	// Window dimensions
	Width  int
	Height int

	// Refreshed data
	Metrics netmon.ConnectionMetrics
	History []netmon.PingResult
	Games   []string
	Stats   map[string]store.QueueStats

	// UI state
	Spinner         spinner.Model
	LastRefresh     time.Time
	RefreshInterval time.Duration
	Err             error
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// TickMsg triggers a data refresh
type TickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Metrics netmon.ConnectionMetrics
	History []netmon.PingResult
	Games   []string
	Stats   map[string]store.QueueStats
	Err     error
}

// New creates a monitor model around a running connection monitor and an
// open store.
func New(mon *netmon.Monitor, st *store.Store, refresh time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		Monitor:         mon,
		Store:           st,
		Spinner:         sp,
		RefreshInterval: refresh,
		Stats:           make(map[string]store.QueueStats),
	}
}

// Init starts the spinner and the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.Spinner.Tick, m.refreshData(), m.tick())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.refreshData()
		case "f":
			mon := m.Monitor
			return m, func() tea.Msg {
				mon.ForceReconnect()
				return TickMsg(time.Now())
			}
		}
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.refreshData(), m.tick())

	case RefreshDataMsg:
		m.Metrics = msg.Metrics
		m.History = msg.History
		m.Games = msg.Games
		m.Stats = msg.Stats
		m.Err = msg.Err
		m.LastRefresh = time.Now()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) refreshData() tea.Cmd {
	mon, st := m.Monitor, m.Store
	return func() tea.Msg {
		msg := RefreshDataMsg{
			Metrics: mon.Metrics(),
			History: mon.History(),
			Stats:   make(map[string]store.QueueStats),
		}

		games, err := st.GamesWithQueuedMoves()
		if err != nil {
			msg.Err = err
			return msg
		}
		msg.Games = games
		for _, g := range games {
			stats, err := st.QueueStats(g)
			if err != nil {
				msg.Err = err
				continue
			}
			msg.Stats[g] = stats
		}
		return msg
	}
}
