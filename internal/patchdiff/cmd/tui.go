package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"patchdiff/internal/align"
	"patchdiff/internal/patchdiff/styles"
	"patchdiff/internal/report"
)

// Message types
type stageMsg string

type resultMsg struct {
	result *align.Result
	err    error
}

type model struct {
	viewport viewport.Model
	spinner  spinner.Model
	ctx      context.Context
	pipeline *align.Pipeline
	stages   chan string
	oldPath  string
	newPath  string
	opts     report.Options
	stage    string
	loading  bool
	result   *align.Result
	err      error
	width    int
	height   int
}

func newModel(ctx context.Context, p *align.Pipeline, oldPath, newPath string, opts report.Options) model {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(22)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	stages := make(chan string, 8)
	p.Progress = func(stage string) {
		select {
		case stages <- stage:
		default:
		}
	}

	return model{
		viewport: vp,
		spinner:  s,
		ctx:      ctx,
		pipeline: p,
		stages:   stages,
		oldPath:  oldPath,
		newPath:  newPath,
		opts:     opts,
		stage:    "starting",
		loading:  true,
		width:    80,
		height:   24,
	}
}

// runPipelineCmd runs the whole pipeline off the UI goroutine and closes
// stages when it returns.
func runPipelineCmd(ctx context.Context, p *align.Pipeline, oldPath, newPath string, stages chan string) tea.Cmd {
	return func() tea.Msg {
		res, err := p.Run(ctx, oldPath, newPath)
		close(stages)
		return resultMsg{result: res, err: err}
	}
}

func waitStageCmd(stages <-chan string) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-stages
		if !ok {
			return nil
		}
		return stageMsg(s)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		runPipelineCmd(m.ctx, m.pipeline, m.oldPath, m.newPath, m.stages),
		waitStageCmd(m.stages),
		m.spinner.Tick,
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case stageMsg:
		if !m.loading {
			return m, nil
		}
		m.stage = string(msg)
		return m, waitStageCmd(m.stages)

	case resultMsg:
		m.loading = false
		m.result = msg.result
		m.err = msg.err
		m.updateContent()
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.viewport.SetWidth(msg.Width)
			m.viewport.SetHeight(msg.Height - 2)
			m.updateContent()
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "g":
			m.viewport.GotoTop()
			return m, nil
		case "G":
			m.viewport.GotoBottom()
			return m, nil
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var content string
	if m.loading {
		content = fmt.Sprintf("\n  %s %s %s → %s\n",
			m.spinner.View(), styles.Heading.Render(m.stage),
			filepath.Base(m.oldPath), filepath.Base(m.newPath))
	} else {
		content = m.viewport.View()
	}

	menu := " Q: quit "
	if !m.loading && m.result != nil {
		menu = fmt.Sprintf(" ↑/↓: scroll • g/G: top/bottom • Q: quit • %d pairs ", len(m.result.Diffs))
	}
	return content + "\n" + styles.Menu.Width(m.width).Render(menu)
}

// updateContent renders the report for the current width.
func (m *model) updateContent() {
	if m.loading {
		return
	}
	switch {
	case errors.Is(m.err, align.ErrIdentical):
		m.viewport.SetContent("\n  files are identical\n")
		return
	case m.err != nil:
		m.viewport.SetContent("\n  " + styles.Removed.Render("error: "+m.err.Error()) + "\n")
		return
	}

	md := report.Markdown(m.result, m.opts)
	out, err := report.Render(md, max(m.width-4, 20))
	if err != nil {
		out = md
	}
	m.viewport.SetContent(out)
}
