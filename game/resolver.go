package game

import (
	"sync"

	"github.com/walterschell/jaquemate/rules"
)

// PendingPromotion is a pawn move to the last rank waiting for the user to
// pick a piece. FEN is the position the move was attempted in.
type PendingPromotion struct {
	From  string      `json:"from"`
	To    string      `json:"to"`
	Color rules.Color `json:"color"`
	FEN   string      `json:"fen"`
}

// Resolver is the promotion dialog. It is opened by the coordinator and
// forwards the user's choice back to it. At most one promotion is open.
//
// Lock order: the coordinator's lock is taken before the resolver's.
type Resolver struct {
	mu      sync.Mutex
	open    bool
	pending PendingPromotion
	coord   *Coordinator
}

func (r *Resolver) openFor(p PendingPromotion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open {
		return ErrResolverBusy
	}
	r.open = true
	r.pending = p
	return nil
}

func (r *Resolver) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	r.pending = PendingPromotion{}
}

func (r *Resolver) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

// Pending returns the promotion being resolved, if any.
func (r *Resolver) Pending() (PendingPromotion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending, r.open
}

// Options returns the piece codes offered to the user in the color of the
// promoting pawn, e.g. "wQ", "wR", "wB", "wN". It is empty when closed.
func (r *Resolver) Options() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return nil
	}
	return promotionOptions(r.pending.Color)
}

func promotionOptions(color rules.Color) []string {
	out := make([]string, 0, len(rules.PromotionPieces))
	for _, pt := range rules.PromotionPieces {
		out = append(out, rules.Piece{Color: color, Type: pt}.Code())
	}
	return out
}

// Choose submits the selected piece letter (q, r, b or n).
func (r *Resolver) Choose(piece string) error {
	return r.coord.ResolvePromotionChoice(piece)
}

// Cancel dismisses the dialog and snaps the pawn back.
func (r *Resolver) Cancel() {
	r.coord.CancelPromotionChoice()
}
