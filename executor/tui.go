package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/mcdock/executor/kernel"
)

type tickMsg time.Time

type doneMsg struct{ err error }

type model struct {
	planned   int
	launches  int
	best      map[string]float32
	order     []string
	stats     kernel.RuntimeStats
	statsFn   func() kernel.RuntimeStats
	startTime time.Time
	recent    []string
	updates   chan dockUpdate
	done      bool
	err       error
}

func initialModel(planned int, statsFn func() kernel.RuntimeStats, updates chan dockUpdate) model {
	return model{
		planned:   planned,
		best:      map[string]float32{},
		statsFn:   statsFn,
		startTime: time.Now(),
		updates:   updates,
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func waitForUpdate(updates chan dockUpdate) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return nil
		}
		return u
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		if m.statsFn != nil {
			m.stats = m.statsFn()
		}
		if m.done {
			return m, nil
		}
		return m, tickCmd()
	case dockUpdate:
		m.launches++
		prev, seen := m.best[msg.Ligand]
		if !seen {
			m.order = append(m.order, msg.Ligand)
		}
		if !seen || msg.Best < prev {
			m.best[msg.Ligand] = msg.Best
		}
		line := fmt.Sprintf("%s launch %d: best %.3f, %d feasible, %s",
			msg.Ligand, msg.Launch, msg.Best, msg.Feasible, msg.Elapsed.Round(time.Millisecond))
		m.recent = append([]string{line}, m.recent...)
		if len(m.recent) > 10 {
			m.recent = m.recent[:10]
		}
		return m, waitForUpdate(m.updates)
	case doneMsg:
		m.done, m.err = true, msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	var b strings.Builder
	fmt.Fprintf(&b, "Launches:       %d/%d\n", m.launches, m.planned)
	fmt.Fprintf(&b, "Tasks run:      %d\n", m.stats.Tasks)
	fmt.Fprintf(&b, "Failures:       %d\n", m.stats.Failures)
	fmt.Fprintf(&b, "Avg launch:     %.1f ms\n", m.stats.AvgRunMs)
	fmt.Fprintf(&b, "Duration:       %s\n\n", duration.Round(time.Second))

	b.WriteString("Best energies:\n")
	for _, name := range m.order {
		fmt.Fprintf(&b, "  %-24s %10.3f\n", name, m.best[name])
	}

	b.WriteString("\nRecent launches:\n")
	for _, l := range m.recent {
		b.WriteString(l + "\n")
	}

	if m.err != nil {
		fmt.Fprintf(&b, "\nerror: %v\n", m.err)
	}
	b.WriteString("\nPress q to quit.\n")
	return b.String()
}

// runTUI drives work under a live view. Quitting the view cancels work after
// the launch in flight.
func runTUI(parent context.Context, planned int, statsFn func() kernel.RuntimeStats,
	work func(context.Context, func(dockUpdate)) error) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	updates := make(chan dockUpdate, 16)
	p := tea.NewProgram(initialModel(planned, statsFn, updates), tea.WithContext(ctx))

	errc := make(chan error, 1)
	go func() {
		err := work(ctx, func(u dockUpdate) {
			select {
			case updates <- u:
			case <-ctx.Done():
			}
		})
		errc <- err
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-errc
		return fmt.Errorf("tui: %w", err)
	}
	cancel()
	err := <-errc
	if errors.Is(err, context.Canceled) && parent.Err() == nil {
		return nil
	}
	return err
}
