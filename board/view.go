// Package board is the drag-and-drop view of a game. It keeps the last
// position pushed by the coordinator and never decides legality itself.
package board

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/walterschell/jaquemate/game"
	"github.com/walterschell/jaquemate/logx"
	"github.com/walterschell/jaquemate/rules"
)

type Orientation string

const (
	WhiteBottom Orientation = "white"
	BlackBottom Orientation = "black"
)

// Submitter receives every drop. *game.Coordinator satisfies it.
type Submitter interface {
	SubmitMoveAttempt(origin, destination string) game.Verdict
}

// Frame is what a renderer draws. Grid is in display order: row 0 is the
// top of the board as seen by the player at the bottom.
type Frame struct {
	FEN         string
	Turn        rules.Color
	Orientation Orientation
	Grid        [8][8]rules.Piece
	Files       [8]string
	Ranks       [8]string
}

type Renderer interface {
	Render(Frame)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Frame)

func (f RendererFunc) Render(fr Frame) { f(fr) }

type Option func(*View)

func WithOrientation(o Orientation) Option {
	return func(v *View) {
		v.orientation = o
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(v *View) {
		v.log = log
	}
}

type View struct {
	mu          sync.Mutex
	submitter   Submitter
	renderer    Renderer
	orientation Orientation
	log         zerolog.Logger

	// last pushed position
	fen  string
	turn rules.Color
	grid [8][8]rules.Piece
}

func NewView(s Submitter, r Renderer, opts ...Option) *View {
	v := &View{
		submitter:   s,
		renderer:    r,
		orientation: WhiteBottom,
		log:         logx.Component("board"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Drop reports a finished drag to the submitter and returns its verdict:
// keep the piece on destination, snap it back, or ignore the drop.
func (v *View) Drop(origin, destination, piece string) game.Verdict {
	verdict := v.submitter.SubmitMoveAttempt(origin, destination)
	v.log.Debug().Str("from", origin).Str("to", destination).Str("piece", piece).Stringer("verdict", verdict).Msg("drop")
	return verdict
}

// OnEvent updates the position slot from coordinator events. It can be
// passed straight to Coordinator.Subscribe.
func (v *View) OnEvent(e game.Event) {
	pc, ok := e.(game.PositionChanged)
	if !ok {
		return
	}
	v.mu.Lock()
	v.fen, v.turn, v.grid = pc.FEN, pc.Turn, pc.Grid
	fr := v.frame()
	v.mu.Unlock()
	v.render(fr)
}

// CanDrag reports whether piece (e.g. "wP") belongs to the side to move in
// the last pushed position.
func (v *View) CanDrag(piece string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fen != "" && len(piece) == 2 && rules.Color(piece[:1]) == v.turn
}

func (v *View) FEN() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fen
}

func (v *View) Orientation() Orientation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.orientation
}

// Flip turns the board around and redraws it.
func (v *View) Flip() {
	v.mu.Lock()
	if v.orientation == WhiteBottom {
		v.orientation = BlackBottom
	} else {
		v.orientation = WhiteBottom
	}
	fr := v.frame()
	empty := v.fen == ""
	v.mu.Unlock()
	if !empty {
		v.render(fr)
	}
}

func (v *View) render(fr Frame) {
	if v.renderer != nil {
		v.renderer.Render(fr)
	}
}

func (v *View) frame() Frame {
	fr := Frame{FEN: v.fen, Turn: v.turn, Orientation: v.orientation}
	for i := 0; i < 8; i++ {
		fr.Files[i] = string(rune('a' + i))
		fr.Ranks[i] = string(rune('8' - i))
	}
	fr.Grid = v.grid
	if v.orientation == BlackBottom {
		for r := 0; r < 8; r++ {
			for c := 0; c < 8; c++ {
				fr.Grid[r][c] = v.grid[7-r][7-c]
			}
		}
		for i := 0; i < 4; i++ {
			fr.Files[i], fr.Files[7-i] = fr.Files[7-i], fr.Files[i]
			fr.Ranks[i], fr.Ranks[7-i] = fr.Ranks[7-i], fr.Ranks[i]
		}
	}
	return fr
}
