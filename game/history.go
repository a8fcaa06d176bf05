package game

import (
	"github.com/walterschell/jaquemate/rules"
)

// History is the append-only list of moves applied since the initial
// position. Copies share no mutable state.
type History struct {
	moves      []rules.AppliedMove
	whiteFirst bool
	startMove  int
}

// newHistory returns an empty history for a game starting at root.
func newHistory(root rules.Position) History {
	return History{whiteFirst: root.Turn() != rules.Black, startMove: max(root.FullmoveNumber(), 1)}
}

// historyFrom returns the history of a replayed move list. The side that
// started is taken from the first move.
func historyFrom(root rules.Position, moves []rules.AppliedMove) History {
	h := newHistory(root)
	if len(moves) > 0 {
		h.whiteFirst = moves[0].Color == rules.White
	}
	h.moves = append([]rules.AppliedMove(nil), moves...)
	return h
}

func (h History) append(m rules.AppliedMove) History {
	moves := make([]rules.AppliedMove, len(h.moves), len(h.moves)+1)
	copy(moves, h.moves)
	h.moves = append(moves, m)
	return h
}

func (h History) Len() int { return len(h.moves) }

// WhiteFirst reports whether white made the first recorded move.
func (h History) WhiteFirst() bool { return h.whiteFirst }

func (h History) Moves() []rules.AppliedMove {
	return append([]rules.AppliedMove(nil), h.moves...)
}

// UCI returns the moves in coordinate notation, e.g. "e2e4", "g7g8q".
func (h History) UCI() []string {
	out := make([]string, len(h.moves))
	for i, m := range h.moves {
		out[i] = m.UCI
	}
	return out
}

// HistoryRow is one numbered line of the move list. A game entered with
// black to move starts with an empty White column.
type HistoryRow struct {
	Number int    `json:"number"`
	White  string `json:"white,omitempty"`
	Black  string `json:"black,omitempty"`
}

// Rows groups the moves into numbered pairs.
func (h History) Rows() []HistoryRow {
	var rows []HistoryRow
	number := h.startMove
	white := h.whiteFirst
	for _, m := range h.moves {
		if white {
			rows = append(rows, HistoryRow{Number: number, White: m.SAN})
		} else {
			if len(rows) == 0 {
				rows = append(rows, HistoryRow{Number: number})
			}
			rows[len(rows)-1].Black = m.SAN
			number++
		}
		white = !white
	}
	return rows
}
