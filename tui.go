package main

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"parley/conversation"
)

// TUI message types
type FrameMsg struct{ Frame conversation.Frame }
type ErrorMsg struct{ Text string }
type SilenceMsg struct{ Event SilenceEvent }
type SessionMsg struct{ ID string }
type TurnsMsg struct{ N int }
type copiedMsg struct{}
type tickMsg time.Time

// tuiActions are the conversation operations bound to keys. They run as
// tea.Cmds so the event loop never blocks on a device.
type tuiActions struct {
	toggle  func() error
	reset   func() (string, error)
	copy    func(string) error
	hotkey  string
	version string
}

type tuiModel struct {
	actions    tuiActions
	frame      conversation.Frame
	anim       int
	level      float64
	turns      int
	recStart   time.Time
	silent     bool
	lastErr    string
	copied     bool
	deviceLine string
	width      int
	height     int
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

// Orb palettes, one per activity. Index 0 is transparent; 14 and 15 are
// the glass highlights.
var (
	orbColorsRec  = []string{"", "226", "220", "214", "208", "196", "160", "124", "88", "52", "236", "236", "236", "236", "255", "249"}
	orbColorsPlay = []string{"", "159", "123", "87", "51", "45", "39", "33", "27", "19", "236", "236", "236", "236", "255", "249"}
	orbColorsIdle = []string{"", "231", "224", "217", "210", "160", "124", "88", "52", "236", "236", "236", "236", "236", "255", "249"}
)

type orbStyles struct {
	fg [16]lipgloss.Style
	bg [16][16]lipgloss.Style
}

var (
	orbRec  = buildOrbStyles(orbColorsRec)
	orbPlay = buildOrbStyles(orbColorsPlay)
	orbIdle = buildOrbStyles(orbColorsIdle)
)

func buildOrbStyles(colors []string) *orbStyles {
	s := &orbStyles{}
	for i, fg := range colors {
		if fg == "" {
			continue
		}
		s.fg[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
		for j, bg := range colors {
			if bg != "" {
				s.bg[i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg)).Background(lipgloss.Color(bg))
			}
		}
	}
	return s
}

func NewTUIProgram(actions tuiActions, initial conversation.Frame, deviceLine, lastErr string) *tea.Program {
	m := tuiModel{
		actions:    actions,
		frame:      initial,
		deviceLine: deviceLine,
		lastErr:    lastErr,
	}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// tuiIndicator forwards conversation frames and errors to the program.
type tuiIndicator struct {
	turns func() int
}

func (i tuiIndicator) Update(f conversation.Frame) {
	tuiSend(FrameMsg{Frame: f})
	if f.State == conversation.Idle && i.turns != nil {
		tuiSend(TurnsMsg{N: i.turns()})
	}
}

func (tuiIndicator) Notify(err error) { tuiSend(ErrorMsg{Text: conversation.Describe(err)}) }

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) toggleCmd() tea.Cmd {
	toggle := m.actions.toggle
	return func() tea.Msg {
		if toggle == nil {
			return nil
		}
		if err := toggle(); err != nil {
			return ErrorMsg{Text: conversation.Describe(err)}
		}
		return nil
	}
}

func (m tuiModel) resetCmd() tea.Cmd {
	reset := m.actions.reset
	return func() tea.Msg {
		if reset == nil {
			return nil
		}
		id, err := reset()
		if err != nil {
			return ErrorMsg{Text: conversation.Describe(err)}
		}
		return SessionMsg{ID: id}
	}
}

func (m tuiModel) copyCmd() tea.Cmd {
	cp, id := m.actions.copy, m.frame.SessionID
	return func() tea.Msg {
		if cp == nil || id == "" {
			return nil
		}
		if err := cp(id); err != nil {
			return ErrorMsg{Text: "copy failed: " + err.Error()}
		}
		return copiedMsg{}
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case " ":
			return m, m.toggleCmd()
		case "r":
			return m, m.resetCmd()
		case "c":
			return m, m.copyCmd()
		}

	case tickMsg:
		m.anim++
		return m, tuiTick()

	case FrameMsg:
		prev := m.frame.State
		m.frame = msg.Frame
		if msg.Frame.State == conversation.Recording && prev != conversation.Recording {
			m.recStart = time.Now()
			m.lastErr = ""
			m.copied = false
		}
		if msg.Frame.State != conversation.Recording {
			m.silent = false
		}
		if msg.Frame.Active {
			m.level = m.level*0.6 + msg.Frame.Level*0.4
		} else {
			m.level = 0
		}

	case ErrorMsg:
		m.lastErr = msg.Text

	case SilenceMsg:
		switch msg.Event {
		case SilenceWarn, SilenceRepeat:
			m.silent = true
		case SilenceWarnClear, SilenceAutoClose:
			m.silent = false
		}

	case SessionMsg:
		m.frame.SessionID = msg.ID
		m.copied = false

	case TurnsMsg:
		m.turns = msg.N

	case copiedMsg:
		m.copied = true
	}
	return m, nil
}

func (m tuiModel) statusLine() string {
	switch m.frame.State {
	case conversation.Recording:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).
			Render(fmt.Sprintf("● REC %.1fs", time.Since(m.recStart).Seconds()))
	case conversation.Sending:
		dots := strings.Repeat(".", m.anim/5%4)
		return lipgloss.NewStyle().Foreground(lipgloss.Color("214")).
			Render("◌ SENDING" + dots)
	case conversation.Playing:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Bold(true).
			Render("▶ SPEAKING")
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("○ STANDBY")
	}
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	const orbWidth = 45
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	orb := renderOrb(m.anim, m.level, m.frame.State)

	var info []string
	info = append(info, m.statusLine())
	if m.silent {
		info = append(info, lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Render("  ⚠ no voice detected"))
	}
	if m.deviceLine != "" {
		info = append(info, dim.Render(m.deviceLine))
	}
	info = append(info, "")

	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	boldStyle := helpStyle.Bold(true)
	info = append(info,
		boldStyle.Render(m.actions.hotkey)+helpStyle.Render(" or ")+boldStyle.Render("space")+helpStyle.Render(" to talk"),
		boldStyle.Render("r")+helpStyle.Render(" new session  ")+boldStyle.Render("c")+helpStyle.Render(" copy id  ")+boldStyle.Render("q")+helpStyle.Render(" quit"),
		helpStyle.Render("parley "+m.actions.version),
	)
	orb += strings.Join(info, "\n")

	panelWidth := max(m.width-orbWidth-1, 20)
	wrapWidth := max(panelWidth-2, 10)

	var panel strings.Builder
	title := lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	panel.WriteString(title.Render("Session") + "\n")
	sid := m.frame.SessionID
	if sid == "" {
		sid = "(none)"
	}
	panel.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Render(sid))
	if m.copied {
		panel.WriteString(" " + lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("[✓ copied]"))
	}
	panel.WriteString("\n\n")
	panel.WriteString(dim.Render(fmt.Sprintf("turns this run: %d", m.turns)) + "\n")

	if m.lastErr != "" {
		panel.WriteString("\n" + title.Render("Last error") + "\n")
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
		for _, line := range wrapText(m.lastErr, wrapWidth) {
			panel.WriteString(errStyle.Render(line) + "\n")
		}
	}

	right := lipgloss.NewStyle().
		Width(panelWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(panel.String())

	left := lipgloss.NewStyle().
		Width(orbWidth - 1).
		Height(m.height).
		Render(orb)

	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func renderOrb(anim int, level float64, state conversation.State) string {
	const charsW = 44
	const charsH = 15
	const pixW = charsW
	const pixH = charsH * 2

	centerX := float64(pixW) / 2
	centerY := float64(pixH) / 2

	var breathe float64
	if state.Active() {
		breathe = math.Sin(float64(anim)*0.10)*0.03 + level*0.5 - 0.05
	} else {
		breathe = math.Sin(float64(anim)*0.08)*0.02 - 0.05
	}

	pixels := make([][]int, pixH)
	for i := range pixels {
		pixels[i] = make([]int, pixW)
	}

	rings := []struct {
		radius     float64
		breatheAmt float64
		colorIdx   int
	}{
		{0.6, 0.10, 1},
		{1.3, 0.12, 2},
		{2.0, 0.15, 3},
		{2.8, 0.35, 4},
		{3.5, 0.40, 5},
		{4.2, 0.38, 6},
		{5.0, 0.30, 7},
		{5.8, 0.15, 8},
		{6.5, 0.03, 9},
		{7.2, 0.0, 10},
		{8.0, 0.0, 11},
		{10.0, 0.0, 12},
		{12.0, 0.0, 13},
	}

	for y := range pixH {
		for x := range pixW {
			dx := float64(x) - centerX
			dy := float64(y) - centerY
			dist := math.Sqrt(dx*dx + dy*dy)
			for _, r := range rings {
				radius := min(r.radius+breathe*r.breatheAmt*20, 10.0)
				if dist < radius {
					pixels[y][x] = r.colorIdx
					break
				}
			}
		}
	}

	// Glass reflections
	spots := []struct {
		ox, oy float64
		radius float64
		color  int
	}{
		{-9.0 * 0.707, -9.0 * 0.707, 0.7, 14},
		{-7.2 * 0.707, -7.2 * 0.707, 0.4, 15},
		{0, -10.0, 0.8, 14},
		{0, -8.2, 0.6, 15},
		{9.0 * 0.707, -9.0 * 0.707, 0.7, 14},
		{7.2 * 0.707, -7.2 * 0.707, 0.4, 15},
		{0, -2.0, 0.6, 14},
	}
	for y := range pixH {
		for x := range pixW {
			px := float64(x) - centerX
			py := float64(y) - centerY
			for _, s := range spots {
				dx := px - s.ox
				dy := py - s.oy
				rLen := math.Sqrt(s.ox*s.ox + s.oy*s.oy)
				if rLen < 0.001 {
					rLen = 1
				}
				tx, ty := -s.oy/rLen, s.ox/rLen
				dt := dx*tx + dy*ty
				dn := dx*(-ty) + dy*tx
				if (dt*dt)/9.0+dn*dn < s.radius*s.radius {
					pixels[y][x] = s.color
				}
			}
		}
	}

	styles := orbIdle
	switch state {
	case conversation.Recording:
		styles = orbRec
	case conversation.Playing:
		styles = orbPlay
	}

	var b strings.Builder
	for cy := range charsH {
		for cx := range charsW {
			top := pixels[cy*2][cx]
			bot := pixels[cy*2+1][cx]
			switch {
			case top == 0 && bot == 0:
				b.WriteString(" ")
			case top == bot:
				b.WriteString(styles.fg[top].Render("█"))
			case bot == 0:
				b.WriteString(styles.fg[top].Render("▀"))
			case top == 0:
				b.WriteString(styles.fg[bot].Render("▄"))
			default:
				b.WriteString(styles.bg[top][bot].Render("▀"))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
