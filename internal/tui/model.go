// Package tui is the terminal front end: the same stages as the browser,
// driven by keys. Letter-by-letter reveal and the composing spinner live
// here only; the screening core never waits on them.
package tui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"neuromate-client/internal/screening"
)

type (
	startedMsg struct{ err error }
	turnMsg    struct {
		t   *screening.Transition
		err error
	}
	navigateMsg screening.Transition
	resultMsg   struct {
		view *screening.ResultView
		err  error
	}
	reportMsg struct {
		path string
		err  error
	}
	revealMsg struct{ text string }
)

type Model struct {
	ctx    context.Context
	deps   screening.Deps
	sess   *screening.SessionContext
	router *screening.Router
	outDir string

	stage     screening.Stage
	intake    *screening.Intake
	screening *screening.Screening
	result    *screening.Result
	view      *screening.ResultView

	input   textinput.Model
	spinner spinner.Model
	busy    bool
	notice  string

	revealText string
	revealed   int
}

// New builds the model. Reports are saved under outDir.
func New(ctx context.Context, deps screening.Deps, sess *screening.SessionContext, outDir string) Model {
	if deps.Script == nil {
		deps.Script = screening.DefaultScript()
	}
	ti := textinput.New()
	ti.Placeholder = "Type your answer"
	ti.CharLimit = 200

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctx:     ctx,
		deps:    deps,
		sess:    sess,
		router:  screening.NewRouter(deps, sess),
		outDir:  outDir,
		stage:   screening.StageStart,
		input:   ti,
		spinner: sp,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case startedMsg:
		m.busy = false
		if msg.err != nil {
			m.notice = m.deps.Script.StartFailure
			return m, nil
		}
		return m.enter(screening.StageIntake)

	case turnMsg:
		if msg.err != nil && m.stage == screening.StageScreening {
			m.notice = "Could not send your answer. Press y or n to try again."
		}
		if msg.t == nil {
			m.busy = false
			cmd := m.startReveal()
			return m, cmd
		}
		if err := m.router.Apply(*msg.t); err != nil {
			m.busy = false
			m.notice = err.Error()
			return m, nil
		}
		// Keys stay closed until the next stage is mounted.
		t := *msg.t
		return m, tea.Tick(t.After, func(time.Time) tea.Msg { return navigateMsg(t) })

	case navigateMsg:
		return m.enter(msg.To)

	case resultMsg:
		m.busy = false
		if msg.err != nil {
			m.notice = "Could not load your result. Press r to retry."
			return m, nil
		}
		m.view = msg.view
		return m, nil

	case reportMsg:
		m.busy = false
		if msg.err != nil {
			m.notice = "Could not download the report: " + msg.err.Error()
		} else {
			m.notice = "Report saved to " + msg.path
		}
		return m, nil

	case revealMsg:
		if msg.text != m.revealText {
			return m, nil
		}
		m.revealed++
		if m.revealed >= len([]rune(m.revealText)) {
			return m, nil
		}
		return m, m.revealTick()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "esc" || (key == "q" && !m.typing()) {
		return m, tea.Quit
	}
	if m.busy {
		return m, nil
	}

	switch m.stage {
	case screening.StageStart:
		switch key {
		case "enter":
			m.busy = true
			m.notice = ""
			return m, m.start()
		case "c":
			return m.enter(screening.StageIntake)
		}

	case screening.StageIntake:
		if m.typing() {
			if key == "enter" {
				answer := m.input.Value()
				m.input.SetValue("")
				return m.submitIntake(answer)
			}
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
		if choice, err := screening.ParseChoice(key); err == nil {
			return m.submitIntake(string(choice))
		}

	case screening.StageScreening:
		if choice, err := screening.ParseChoice(key); err == nil {
			m.busy = true
			m.notice = ""
			return m, m.answer(choice)
		}

	case screening.StageResult:
		switch key {
		case "d":
			m.busy = true
			m.notice = "Downloading report..."
			return m, m.download()
		case "r":
			if m.view == nil {
				return m.enter(screening.StageResult)
			}
		case "n":
			m.busy = true
			return m, m.start()
		}
	}
	return m, nil
}

// typing reports whether keys go to the text input.
func (m Model) typing() bool {
	return m.stage == screening.StageIntake && m.intake != nil && m.intake.View().Widget == "text"
}

// enter mounts a stage. Without a session the user lands back on Start.
func (m Model) enter(stage screening.Stage) (tea.Model, tea.Cmd) {
	if err := m.router.Enter(m.ctx, stage); err != nil {
		return m.home(err)
	}
	m.stage = stage
	m.notice = ""
	m.busy = false
	m.intake, m.screening, m.result, m.view = nil, nil, nil, nil

	var err error
	switch stage {
	case screening.StageIntake:
		m.intake, err = screening.MountIntake(m.ctx, m.deps, m.sess)
		if err == nil {
			m.syncInput()
		}
	case screening.StageScreening:
		m.screening, err = screening.MountScreening(m.ctx, m.deps, m.sess)
		if err == nil {
			cmd := m.startReveal()
			return m, cmd
		}
	case screening.StageResult:
		m.result, err = screening.MountResult(m.ctx, m.deps, m.sess)
		if err == nil {
			m.busy = true
			return m, m.load()
		}
	}
	if err != nil {
		return m.home(err)
	}
	return m, nil
}

func (m Model) home(err error) (tea.Model, tea.Cmd) {
	m.stage = screening.StageStart
	m.busy = false
	_ = m.router.Enter(m.ctx, screening.StageStart)
	switch {
	case errors.Is(err, screening.ErrNoSession):
		m.notice = "No screening in progress. Press enter to start."
	case errors.Is(err, screening.ErrNoQuestion):
		m.notice = "No question to continue from. Press enter to start again."
	default:
		m.notice = err.Error()
	}
	return m, nil
}

func (m *Model) syncInput() {
	if m.typing() {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

// submitIntake echoes the answer right away and sends it in the background.
func (m Model) submitIntake(answer string) (tea.Model, tea.Cmd) {
	turn, err := m.intake.Begin(m.ctx, answer)
	if err != nil {
		if !errors.Is(err, screening.ErrEmptyAnswer) {
			m.notice = err.Error()
		}
		return m, nil
	}
	m.busy = true
	in := m.intake
	ctx := m.ctx
	return m, func() tea.Msg {
		t, err := in.Complete(ctx, turn)
		return turnMsg{t: t, err: err}
	}
}

func (m Model) start() tea.Cmd {
	router, ctx := m.router, m.ctx
	return func() tea.Msg {
		_, err := router.Start(ctx)
		return startedMsg{err: err}
	}
}

func (m Model) answer(choice screening.Choice) tea.Cmd {
	sc, ctx := m.screening, m.ctx
	return func() tea.Msg {
		t, err := sc.Answer(ctx, choice)
		return turnMsg{t: t, err: err}
	}
}

func (m Model) load() tea.Cmd {
	res, ctx := m.result, m.ctx
	return func() tea.Msg {
		v, err := res.Load(ctx)
		return resultMsg{view: v, err: err}
	}
}

func (m Model) download() tea.Cmd {
	res, ctx, dir := m.result, m.ctx, m.outDir
	return func() tea.Msg {
		rep, err := res.Download(ctx)
		if err != nil {
			return reportMsg{err: err}
		}
		path := filepath.Join(dir, rep.Filename())
		if err := os.WriteFile(path, rep.Body, 0o644); err != nil {
			return reportMsg{err: err}
		}
		return reportMsg{path: path}
	}
}

// startReveal restarts the letter reveal when the question text changed.
func (m *Model) startReveal() tea.Cmd {
	if m.stage == screening.StageIntake {
		m.syncInput()
	}
	if m.screening == nil {
		return nil
	}
	q := m.screening.View().Question
	if q == m.revealText {
		return nil
	}
	m.revealText = q
	m.revealed = 0
	if m.deps.Script.Pacing.RevealPerLetter <= 0 {
		m.revealed = len([]rune(q))
		return nil
	}
	return m.revealTick()
}

func (m Model) revealTick() tea.Cmd {
	text := m.revealText
	return tea.Tick(m.deps.Script.Pacing.RevealPerLetter, func(time.Time) tea.Msg {
		return revealMsg{text: text}
	})
}
