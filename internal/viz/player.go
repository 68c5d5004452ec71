package viz

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/trajectory"
)

const (
	DefaultFPS    = 30
	DefaultWidth  = 60
	DefaultHeight = 24
)

type TickMsg time.Time

func tick(fps int) tea.Cmd {
	return tea.Tick(time.Second/time.Duration(fps), func(t time.Time) tea.Msg { return TickMsg(t) })
}

type PlayerOptions struct {
	Title string
	// Extent is the side length of the simulation box.
	Extent float64
	FPS    int
	// Width and Height are the canvas size in terminal cells.
	Width  int
	Height int
	Theme  string
	View   View
	Loop   bool
	// Note is shown under the canvas, e.g. a divergence warning.
	Note string
}

func (o PlayerOptions) withDefaults() PlayerOptions {
	if o.Extent <= 0 {
		o.Extent = 1
	}
	if o.FPS <= 0 {
		o.FPS = DefaultFPS
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	return o
}

// Player is a bubbletea model stepping through recorded particle frames.
type Player struct {
	opts     PlayerOptions
	frames   [][]r3.Vec
	com      []r3.Vec
	frame    int
	playing  bool
	showHelp bool
	camera   *Camera
	canvas   *Canvas
	theme    Theme
	styles   styles
}

func NewPlayer(frames [][]r3.Vec, opts PlayerOptions) Player {
	opts = opts.withDefaults()
	cam := NewCamera(opts.Extent)
	cam.View = opts.View
	theme := GetTheme(opts.Theme)
	com := make([]r3.Vec, len(frames))
	for i, f := range frames {
		com[i], _ = trajectory.Mean(f, trajectory.All(len(f)))
	}
	return Player{
		opts:    opts,
		frames:  frames,
		com:     com,
		playing: true,
		camera:  cam,
		canvas:  NewCanvas(opts.Width, opts.Height),
		theme:   theme,
		styles:  newStyles(theme),
	}
}

func (m Player) Frame() int      { return m.frame }
func (m Player) Playing() bool   { return m.playing }
func (m Player) Camera() *Camera { return m.camera }

func (m Player) Init() tea.Cmd { return tick(m.opts.FPS) }

func (m Player) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case " ":
			m.playing = !m.playing
		case "[", "left":
			m.seek(m.frame - 1)
		case "]", "right":
			m.seek(m.frame + 1)
		case "home", "g":
			m.seek(0)
		case "end", "G":
			m.seek(len(m.frames) - 1)
		case "v":
			m.camera.View = m.camera.View.next()
		case "x":
			m.camera.RotateX(0.1)
		case "X":
			m.camera.RotateX(-0.1)
		case "y":
			m.camera.RotateY(0.1)
		case "Y":
			m.camera.RotateY(-0.1)
		case "+", "=":
			m.camera.ZoomIn()
		case "-", "_":
			m.camera.ZoomOut()
		case "l":
			m.opts.Loop = !m.opts.Loop
		case "t":
			m.theme = nextTheme(m.theme)
			m.styles = newStyles(m.theme)
		case "?":
			m.showHelp = !m.showHelp
		}
	case tea.WindowSizeMsg:
		w, h := max(msg.Width-6, 10), max(msg.Height-9, 5)
		m.canvas = NewCanvas(w, h)
	case TickMsg:
		if m.playing {
			m.advance()
		}
		return m, tick(m.opts.FPS)
	}
	return m, nil
}

func (m *Player) seek(i int) {
	m.frame = max(0, min(i, len(m.frames)-1))
}

func (m *Player) advance() {
	if m.frame < len(m.frames)-1 {
		m.frame++
		return
	}
	if m.opts.Loop {
		m.frame = 0
		return
	}
	m.playing = false
}

func (m Player) View() string {
	var b strings.Builder
	b.WriteString(m.styles.title.Render(m.opts.Title))
	b.WriteString("\n")

	m.canvas.Clear()
	m.camera.DrawBox(m.canvas)
	drawn := 0
	if len(m.frames) > 0 {
		drawn = m.camera.DrawPoints(m.canvas, m.frames[m.frame])
	}
	b.WriteString(m.styles.panel.Render(m.styles.canvas.Render(m.canvas.String())))
	b.WriteString("\n")

	status := "paused"
	if m.playing {
		status = "playing"
	}
	fields := []string{
		m.field("step", fmt.Sprintf("%d/%d", m.frame, max(len(m.frames)-1, 0))),
		m.field("view", m.camera.View.String()),
		m.field("shown", fmt.Sprintf("%d", drawn)),
		m.field("", status),
	}
	if len(m.com) > 0 {
		c := m.com[m.frame]
		fields = append(fields, m.field("com", fmt.Sprintf("(%.3f, %.3f, %.3f)", c.X, c.Y, c.Z)))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, fields...))
	b.WriteString("\n")

	if m.opts.Note != "" {
		b.WriteString(m.styles.warning.Render(m.opts.Note))
		b.WriteString("\n")
	}
	if m.showHelp {
		b.WriteString(m.styles.hint.Render("space play/pause  [ ] step  g/G first/last  v view  x/y rotate  +/- zoom  l loop  t theme  q quit"))
	} else {
		b.WriteString(m.styles.hint.Render("? help"))
	}
	return b.String()
}

func (m Player) field(label, value string) string {
	if label == "" {
		return m.styles.value.Render(value) + "  "
	}
	return m.styles.label.Render(label+" ") + m.styles.value.Render(value) + "  "
}
