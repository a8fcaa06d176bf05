package game

import (
	"github.com/walterschell/jaquemate/persistence"
	"github.com/walterschell/jaquemate/rules"
)

// Verdict tells the board what to do with a dropped piece.
type Verdict int

const (
	// VerdictNone means nothing happened, e.g. a piece dropped on its own square.
	VerdictNone Verdict = iota
	VerdictKeep
	VerdictSnapBack
)

func (v Verdict) String() string {
	return []string{"none", "keep", "snapback"}[v]
}

// Input is a message the coordinator reacts to.
type Input interface {
	isInput()
}

// Event is a message the coordinator publishes to its listeners.
type Event interface {
	isEvent()
}

type MoveAttempted struct {
	From  string
	To    string
	Piece string
}

type PromotionChosen struct {
	Piece string
}

// PromotionCancelled is both the user's dismissal of the promotion dialog
// and the notification that a pending promotion was dropped. Pending is
// only filled in on the outgoing event.
type PromotionCancelled struct {
	Pending PendingPromotion
}

// PersistenceSettled reports the outcome of saving one move. On failure Err
// is a *PersistenceError and Record is nil.
type PersistenceSettled struct {
	Move   rules.AppliedMove
	Record *persistence.MoveRecord
	Err    error
}

type PositionChanged struct {
	FEN  string
	Turn rules.Color
	Grid [8][8]rules.Piece
}

type HistoryChanged struct {
	History History
}

type PromotionRequested struct {
	Pending PendingPromotion
	Options []string
}

type PromotionResolved struct {
	Move rules.AppliedMove
}

type Result string

const (
	ResultCheckmate Result = "Checkmate"
	ResultDraw      Result = "Draw"
)

// GameOver is published when a move ends the game. Winner is only set for
// checkmate.
type GameOver struct {
	Result Result
	Winner rules.Color
	Reason string
}

type CheckIndicated struct {
	Color rules.Color
}

type GameReset struct{}

func (MoveAttempted) isInput()      {}
func (PromotionChosen) isInput()    {}
func (PromotionCancelled) isInput() {}
func (PersistenceSettled) isInput() {}

func (PositionChanged) isEvent()    {}
func (HistoryChanged) isEvent()     {}
func (PromotionRequested) isEvent() {}
func (PromotionResolved) isEvent()  {}
func (PromotionCancelled) isEvent() {}
func (GameOver) isEvent()           {}
func (CheckIndicated) isEvent()     {}
func (PersistenceSettled) isEvent() {}
func (GameReset) isEvent()          {}

func positionChanged(pos rules.Position) PositionChanged {
	return PositionChanged{FEN: pos.FEN(), Turn: pos.Turn(), Grid: pos.Grid()}
}

var drawReasons = map[rules.Status]string{
	rules.Stalemate:                  "stalemate",
	rules.DrawByRepetition:           "threefold repetition",
	rules.DrawByInsufficientMaterial: "insufficient material",
	rules.DrawByFiftyMoves:           "fifty-move rule",
}

// gameOver describes a terminal status reached after a move by the side not
// on turn in pos.
func gameOver(status rules.Status, pos rules.Position) GameOver {
	if status == rules.Checkmate {
		return GameOver{Result: ResultCheckmate, Winner: pos.Turn().Other(), Reason: "checkmate"}
	}
	return GameOver{Result: ResultDraw, Reason: drawReasons[status]}
}
