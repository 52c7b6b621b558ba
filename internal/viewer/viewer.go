// Package viewer draws the live arena in a terminal. It is a second
// subscriber next to the relay and needs nothing but the IPC socket.
package viewer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"

	"microbiome/internal/ipc"
	"microbiome/internal/sim"
)

const (
	frameInterval = 33 * time.Millisecond

	foodRune     = '·'
	organismRune = '●'
)

var (
	statusStyle   = tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(tcell.ColorWhite)
	fallbackColor = tcell.ColorSilver
)

// Viewer renders the most recent snapshot to a tcell screen.
type Viewer struct {
	screen tcell.Screen

	latest   atomic.Pointer[sim.Snapshot]
	hello    atomic.Pointer[ipc.Hello]
	received atomic.Int64
	failed   atomic.Int64
	dirty    chan struct{}
}

// New creates a viewer for an initialized screen.
func New(screen tcell.Screen) *Viewer {
	return &Viewer{
		screen: screen,
		dirty:  make(chan struct{}, 1),
	}
}

// Attach registers the viewer's handlers on sub. Call before sub.Start.
func (v *Viewer) Attach(sub *ipc.Subscriber) {
	sub.Handle(ipc.KindState, v.HandleState)
	sub.OnHello(func(h ipc.Hello) {
		v.hello.Store(&h)
		v.markDirty()
	})
}

// HandleState stores a decoded snapshot and schedules a redraw.
func (v *Viewer) HandleState(env ipc.Envelope) {
	snap, err := ipc.DecodeSnapshot(env)
	if err != nil {
		v.failed.Add(1)
		return
	}
	v.latest.Store(&snap)
	v.received.Add(1)
	v.markDirty()
}

func (v *Viewer) markDirty() {
	select {
	case v.dirty <- struct{}{}:
	default:
	}
}

// Run draws until ctx is cancelled or the user presses q, Esc or Ctrl-C.
// The caller owns the screen and calls Fini.
func (v *Viewer) Run(ctx context.Context) error {
	events := make(chan tcell.Event, 16)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		for {
			ev := v.screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case events <- ev:
			case <-quit:
				return
			}
		}
	}()

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	v.Draw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC ||
					(ev.Key() == tcell.KeyRune && ev.Rune() == 'q') {
					return nil
				}
			case *tcell.EventResize:
				v.screen.Sync()
				v.Draw()
			}
		case <-ticker.C:
			select {
			case <-v.dirty:
				v.Draw()
			default:
			}
		}
	}
}

// Draw renders the latest snapshot and the status line.
func (v *Viewer) Draw() {
	v.screen.Clear()
	w, h := v.screen.Size()
	if w < 1 || h < 2 {
		v.screen.Show()
		return
	}

	snap := v.latest.Load()
	if snap != nil {
		rows := h - 1
		for _, f := range snap.Food {
			x, y := cell(f.Pos, snap.Size, w, rows)
			v.screen.SetContent(x, y, foodRune, nil, tcell.StyleDefault.Foreground(entityColor(f.Color)))
		}
		for _, o := range snap.Organisms {
			x, y := cell(o.Pos, snap.Size, w, rows)
			v.screen.SetContent(x, y, organismRune, nil, tcell.StyleDefault.Foreground(entityColor(o.Color)).Bold(true))
		}
	}

	drawText(v.screen, 0, h-1, w, v.status(snap), statusStyle)
	v.screen.Show()
}

func (v *Viewer) status(snap *sim.Snapshot) string {
	if snap == nil {
		return " waiting for simulation...  [q] quit"
	}
	s := fmt.Sprintf(" tick %d  organisms %d  food %d  mass %.0f", snap.Tick, len(snap.Organisms), len(snap.Food), snap.TotalMass())
	if h := v.hello.Load(); h != nil {
		s += fmt.Sprintf("  @%d TPS", h.TickRate)
	}
	return s + "  [q] quit"
}

// cell maps an arena position onto a w x h character grid.
func cell(pos [2]float64, size float64, w, h int) (int, int) {
	if size <= 0 {
		return 0, 0
	}
	x := int(pos[0] / size * float64(w))
	y := int(pos[1] / size * float64(h))
	return clamp(x, 0, w-1), clamp(y, 0, h-1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func entityColor(hex string) tcell.Color {
	c, err := colorful.Hex(hex)
	if err != nil {
		return fallbackColor
	}
	r, g, b := c.RGB255()
	return tcell.NewRGBColor(int32(r), int32(g), int32(b))
}

func drawText(s tcell.Screen, x, y, maxWidth int, text string, style tcell.Style) {
	col := x
	for _, r := range text {
		if col >= maxWidth {
			break
		}
		s.SetContent(col, y, r, nil, style)
		col++
	}
	for ; col < maxWidth; col++ {
		s.SetContent(col, y, ' ', nil, style)
	}
}
