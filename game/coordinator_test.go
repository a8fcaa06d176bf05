package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/walterschell/jaquemate/persistence"
	"github.com/walterschell/jaquemate/rules"
	"github.com/walterschell/jaquemate/session"
)

const promotionFEN = "8/6P1/8/8/8/8/8/k3K3 w - - 0 1"

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) add(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *collector) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func eventsOf[T Event](c *collector) []T {
	var out []T
	for _, e := range c.all() {
		if t, ok := e.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

type fakeRecorder struct {
	mu    sync.Mutex
	moves []persistence.NewMove
	err   error
	block bool

	// delays slows down saving the move with the given SAN
	delays      map[string]time.Duration
	inflight    int
	maxInflight int
}

func (f *fakeRecorder) CreateMove(ctx context.Context, in persistence.NewMove) (*persistence.MoveRecord, error) {
	f.mu.Lock()
	f.inflight++
	f.maxInflight = max(f.maxInflight, f.inflight)
	delay := f.delays[in.MoveSan]
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	time.Sleep(delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.moves = append(f.moves, in)
	return &persistence.MoveRecord{
		ID:          int64(len(f.moves)),
		UsuarioID:   in.UsuarioID,
		MoveSan:     in.MoveSan,
		MoveUciFrom: in.MoveUciFrom,
		MoveUciTo:   in.MoveUciTo,
		Fen:         in.Fen,
		Pgn:         in.Pgn,
	}, nil
}

func (f *fakeRecorder) saved() []persistence.NewMove {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]persistence.NewMove(nil), f.moves...)
}

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *collector) {
	t.Helper()
	c := NewCoordinator(opts...)
	col := &collector{}
	c.Subscribe(col.add)
	return c, col
}

func play(t *testing.T, c *Coordinator, moves ...string) {
	t.Helper()
	for _, m := range moves {
		if v := c.SubmitMoveAttempt(m[:2], m[2:4]); v != VerdictKeep {
			t.Fatalf("move %s: expected keep, got %s", m, v)
		}
	}
}

func loadPosition(t *testing.T, c *Coordinator, fen string) {
	t.Helper()
	if branch := c.LoadExternalPosition(fen, ""); branch != BranchPosition {
		t.Fatalf("expected position branch for %q, got %s", fen, branch)
	}
}

func TestNewCoordinator(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if c.State() != Idle {
		t.Errorf("expected Idle, got %s", c.State())
	}
	if fen := c.Position().FEN(); fen != rules.StartFEN {
		t.Errorf("expected start position, got %s", fen)
	}
	if c.History().Len() != 0 || !c.History().WhiteFirst() {
		t.Errorf("unexpected history %+v", c.History())
	}
	if c.Resolver().IsOpen() {
		t.Error("resolver should start closed")
	}
}

func TestSubmitMoveAttempt(t *testing.T) {
	t.Run("SameSquare", func(t *testing.T) {
		c, col := newTestCoordinator(t)
		if v := c.SubmitMoveAttempt("e2", "e2"); v != VerdictNone {
			t.Errorf("expected none, got %s", v)
		}
		if len(col.all()) != 0 {
			t.Errorf("expected no events, got %v", col.all())
		}
	})

	t.Run("Scenario", func(t *testing.T) {
		c, col := newTestCoordinator(t)
		if v := c.SubmitMoveAttempt("e2", "e4"); v != VerdictKeep {
			t.Fatalf("expected keep, got %s", v)
		}
		if c.History().Len() != 1 || c.Position().Turn() != rules.Black {
			t.Fatalf("after e4: history %d, turn %s", c.History().Len(), c.Position().Turn())
		}
		if v := c.SubmitMoveAttempt("e7", "e5"); v != VerdictKeep {
			t.Fatalf("expected keep, got %s", v)
		}
		if c.History().Len() != 2 {
			t.Fatalf("expected history 2, got %d", c.History().Len())
		}

		before := c.Position().FEN()
		col.reset()
		if v := c.SubmitMoveAttempt("e1", "e5"); v != VerdictSnapBack {
			t.Errorf("expected snapback, got %s", v)
		}
		if c.History().Len() != 2 || c.Position().FEN() != before {
			t.Errorf("illegal move changed state: %d %s", c.History().Len(), c.Position().FEN())
		}
		if c.State() != Idle {
			t.Errorf("expected Idle, got %s", c.State())
		}
		if len(col.all()) != 0 {
			t.Errorf("illegal move published %v", col.all())
		}
	})

	t.Run("IllegalFirstMove", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		if v := c.SubmitMoveAttempt("e2", "e5"); v != VerdictSnapBack {
			t.Errorf("expected snapback, got %s", v)
		}
		if c.Position().FEN() != rules.StartFEN || c.History().Len() != 0 {
			t.Error("illegal move changed state")
		}
	})

	t.Run("Events", func(t *testing.T) {
		c, col := newTestCoordinator(t)
		play(t, c, "e2e4")
		events := col.all()
		if len(events) != 2 {
			t.Fatalf("expected 2 events, got %v", events)
		}
		pc, ok := events[0].(PositionChanged)
		if !ok || pc.FEN != c.Position().FEN() || pc.Turn != rules.Black {
			t.Errorf("unexpected first event %+v", events[0])
		}
		if pc.Grid[4][4] != (rules.Piece{Color: rules.White, Type: rules.Pawn}) {
			t.Errorf("expected white pawn on e4, got %+v", pc.Grid[4][4])
		}
		hc, ok := events[1].(HistoryChanged)
		if !ok || strings.Join(hc.History.UCI(), " ") != "e2e4" {
			t.Errorf("unexpected second event %+v", events[1])
		}
	})
}

func TestMoveByMoveMatchesMoveList(t *testing.T) {
	moves := []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5", "a7a6", "b5c6", "d7c6", "e1g1", "f7f6"}
	c, _ := newTestCoordinator(t)
	play(t, c, moves...)

	e := rules.NewEngine()
	want, _, err := e.LoadMoveList(strings.Join(moves, " "))
	if err != nil {
		t.Fatalf("LoadMoveList: %v", err)
	}
	if !c.Position().Equal(want) {
		t.Errorf("expected %s, got %s", want.FEN(), c.Position().FEN())
	}
	if got := strings.Join(c.History().UCI(), " "); got != strings.Join(moves, " ") {
		t.Errorf("unexpected history %s", got)
	}

	replayed := c.InitialPosition()
	for _, m := range c.History().Moves() {
		replayed, _, err = e.ApplyMove(replayed, rules.MoveRequest{From: m.From, To: m.To, Promotion: m.Promotion})
		if err != nil {
			t.Fatalf("replay %s: %v", m.UCI, err)
		}
	}
	if replayed.FEN() != c.Position().FEN() {
		t.Errorf("history replays to %s, position is %s", replayed.FEN(), c.Position().FEN())
	}
}

func TestPromotion(t *testing.T) {
	t.Run("Resolve", func(t *testing.T) {
		c, col := newTestCoordinator(t)
		loadPosition(t, c, promotionFEN)
		col.reset()
		before := c.Position().FEN()

		if v := c.SubmitMoveAttempt("g7", "g8"); v != VerdictSnapBack {
			t.Errorf("expected snapback, got %s", v)
		}
		if c.State() != AwaitingPromotionChoice {
			t.Fatalf("expected AwaitingPromotionChoice, got %s", c.State())
		}
		if c.Position().FEN() != before {
			t.Error("promotion drop changed the position")
		}
		reqs := eventsOf[PromotionRequested](col)
		if len(reqs) != 1 || reqs[0].Pending.From != "g7" || reqs[0].Pending.To != "g8" || reqs[0].Pending.Color != rules.White {
			t.Fatalf("unexpected promotion requests %+v", reqs)
		}
		if strings.Join(reqs[0].Options, ",") != "wQ,wR,wB,wN" {
			t.Errorf("unexpected options %v", reqs[0].Options)
		}
		if !c.Resolver().IsOpen() || len(c.Resolver().Options()) != 4 {
			t.Error("resolver should be open with four options")
		}

		if err := c.ResolvePromotionChoice("q"); err != nil {
			t.Fatalf("ResolvePromotionChoice: %v", err)
		}
		want := rules.Piece{Color: rules.White, Type: rules.Queen}
		if got := c.Position().PieceAt("g8"); got != want {
			t.Errorf("expected white queen on g8, got %+v", got)
		}
		if c.History().Len() != 1 || c.History().UCI()[0] != "g7g8q" {
			t.Errorf("unexpected history %v", c.History().UCI())
		}
		if c.State() != Idle || c.Resolver().IsOpen() {
			t.Error("promotion should be closed")
		}
		if _, ok := c.Pending(); ok {
			t.Error("pending promotion not cleared")
		}
		if res := eventsOf[PromotionResolved](col); len(res) != 1 || res[0].Move.Promotion != rules.Queen {
			t.Errorf("unexpected resolved events %+v", res)
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		c, col := newTestCoordinator(t)
		loadPosition(t, c, promotionFEN)
		before := c.Position().FEN()
		c.SubmitMoveAttempt("g7", "g8")
		col.reset()

		c.Resolver().Cancel()
		if c.Position().FEN() != before || c.History().Len() != 0 {
			t.Error("cancel changed the position")
		}
		if c.State() != Idle || c.Resolver().IsOpen() {
			t.Error("promotion should be closed")
		}
		events := col.all()
		if len(events) != 2 {
			t.Fatalf("expected cancel and refresh, got %v", events)
		}
		if pc, ok := events[0].(PromotionCancelled); !ok || pc.Pending.To != "g8" {
			t.Errorf("unexpected event %+v", events[0])
		}
		if pc, ok := events[1].(PositionChanged); !ok || pc.FEN != before {
			t.Errorf("unexpected event %+v", events[1])
		}
		if err := c.ResolvePromotionChoice("q"); !errors.Is(err, ErrNoPendingPromotion) {
			t.Errorf("expected ErrNoPendingPromotion, got %v", err)
		}
	})

	t.Run("InvalidPiece", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		loadPosition(t, c, promotionFEN)
		c.SubmitMoveAttempt("g7", "g8")
		for _, piece := range []string{"k", "p", "", "queen"} {
			if err := c.ResolvePromotionChoice(piece); !errors.Is(err, rules.ErrInvalidPromotionPiece) {
				t.Errorf("%q: expected ErrInvalidPromotionPiece, got %v", piece, err)
			}
		}
		if c.State() != AwaitingPromotionChoice || !c.Resolver().IsOpen() {
			t.Fatal("invalid piece should keep the promotion pending")
		}
		if err := c.Resolver().Choose("N"); err != nil {
			t.Fatalf("Choose: %v", err)
		}
		if got := c.Position().PieceAt("g8"); got.Type != rules.Knight {
			t.Errorf("expected knight on g8, got %+v", got)
		}
	})

	t.Run("AttemptsRejectedWhilePending", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		loadPosition(t, c, promotionFEN)
		c.SubmitMoveAttempt("g7", "g8")
		if v := c.SubmitMoveAttempt("e1", "e2"); v != VerdictSnapBack {
			t.Errorf("expected snapback, got %s", v)
		}
		if c.State() != AwaitingPromotionChoice || c.History().Len() != 0 {
			t.Error("attempt while pending changed state")
		}
		if err := c.Resolver().openFor(PendingPromotion{}); !errors.Is(err, ErrResolverBusy) {
			t.Errorf("expected ErrResolverBusy, got %v", err)
		}
	})

	t.Run("ConcurrentInconsistency", func(t *testing.T) {
		c, col := newTestCoordinator(t)
		loadPosition(t, c, promotionFEN)
		c.SubmitMoveAttempt("g7", "g8")

		moved, err := rules.NewEngine().Load("8/6P1/8/8/8/8/8/k4K2 b - - 1 1")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		c.mu.Lock()
		c.pos = moved
		c.mu.Unlock()
		col.reset()

		err = c.ResolvePromotionChoice("q")
		var cie *ConcurrentInconsistencyError
		if !errors.As(err, &cie) || cie.Pending.To != "g8" {
			t.Fatalf("expected ConcurrentInconsistencyError, got %v", err)
		}
		if c.State() != Idle || c.Resolver().IsOpen() || c.History().Len() != 0 {
			t.Error("inconsistency should abort to Idle")
		}
		if pcs := eventsOf[PositionChanged](col); len(pcs) != 1 || pcs[0].FEN != moved.FEN() {
			t.Errorf("expected a refresh from the current position, got %+v", pcs)
		}
	})

	t.Run("ListenerCallsBack", func(t *testing.T) {
		c := NewCoordinator()
		c.Subscribe(func(e Event) {
			if _, ok := e.(PromotionRequested); ok {
				if err := c.ResolvePromotionChoice("r"); err != nil {
					t.Errorf("ResolvePromotionChoice: %v", err)
				}
			}
		})
		loadPosition(t, c, promotionFEN)
		c.SubmitMoveAttempt("g7", "g8")
		if got := c.Position().PieceAt("g8"); got.Type != rules.Rook {
			t.Errorf("expected rook on g8, got %+v", got)
		}
	})
}

func TestEndOfGame(t *testing.T) {
	t.Run("Checkmate", func(t *testing.T) {
		c, col := newTestCoordinator(t)
		play(t, c, "f2f3", "e7e5", "g2g4", "d8h4")
		over := eventsOf[GameOver](col)
		if len(over) != 1 || over[0].Result != ResultCheckmate || over[0].Winner != rules.Black {
			t.Fatalf("unexpected game over events %+v", over)
		}
		if st := rules.NewEngine().Status(c.Position()); st != rules.Checkmate {
			t.Errorf("expected Checkmate, got %s", st)
		}
		if c.Position().Turn() != rules.White {
			t.Error("loser should be on turn")
		}
		if v := c.SubmitMoveAttempt("a2", "a3"); v != VerdictSnapBack {
			t.Errorf("expected snapback after mate, got %s", v)
		}
		if c.State() != Idle {
			t.Errorf("expected Idle after mate, got %s", c.State())
		}
	})

	t.Run("Check", func(t *testing.T) {
		c, col := newTestCoordinator(t)
		play(t, c, "e2e4", "f7f6", "d1h5")
		checks := eventsOf[CheckIndicated](col)
		if len(checks) != 1 || checks[0].Color != rules.Black {
			t.Errorf("unexpected check events %+v", checks)
		}
		if len(eventsOf[GameOver](col)) != 0 {
			t.Error("check is not the end of the game")
		}
	})

	t.Run("Stalemate", func(t *testing.T) {
		c, col := newTestCoordinator(t)
		loadPosition(t, c, "k7/8/8/2Q5/8/8/8/7K w - - 0 1")
		play(t, c, "c5b6")
		over := eventsOf[GameOver](col)
		if len(over) != 1 || over[0].Result != ResultDraw || over[0].Reason != "stalemate" || over[0].Winner != rules.NoColor {
			t.Errorf("unexpected game over events %+v", over)
		}
	})
}

func TestPersistence(t *testing.T) {
	alice := session.New(7, "alice")

	t.Run("Saved", func(t *testing.T) {
		rec := &fakeRecorder{}
		c, col := newTestCoordinator(t, WithRecorder(rec), WithSession(alice))
		play(t, c, "e2e4", "e7e5")
		c.Wait()

		saved := rec.saved()
		if len(saved) != 2 {
			t.Fatalf("expected 2 saved moves, got %d", len(saved))
		}
		first := saved[0]
		if first.UsuarioID != 7 || first.MoveUciFrom != "e2" || first.MoveUciTo != "e4" || first.MoveSan != "e4" || first.Pgn != "1. e4" {
			t.Errorf("unexpected payload %+v", first)
		}
		if saved[1].Fen != c.Position().FEN() || saved[1].Pgn != "1. e4 e5" {
			t.Errorf("unexpected payload %+v", saved[1])
		}
		settled := eventsOf[PersistenceSettled](col)
		if len(settled) != 2 {
			t.Fatalf("expected 2 settlements, got %d", len(settled))
		}
		for _, s := range settled {
			if s.Err != nil || s.Record == nil {
				t.Errorf("unexpected settlement %+v", s)
			}
		}
	})

	t.Run("SavedInAcceptanceOrder", func(t *testing.T) {
		rec := &fakeRecorder{delays: map[string]time.Duration{
			"e4":  40 * time.Millisecond,
			"e5":  20 * time.Millisecond,
			"Nf3": 10 * time.Millisecond,
		}}
		c, col := newTestCoordinator(t, WithRecorder(rec), WithSession(alice))
		play(t, c, "e2e4", "e7e5", "g1f3", "b8c6")
		c.Wait()

		want := []string{"1. e4", "1. e4 e5", "1. e4 e5 2. Nf3", "1. e4 e5 2. Nf3 Nc6"}
		saved := rec.saved()
		if len(saved) != len(want) {
			t.Fatalf("expected %d saved moves, got %d", len(want), len(saved))
		}
		for i, w := range want {
			if saved[i].Pgn != w {
				t.Errorf("save %d: expected %q, got %q", i, w, saved[i].Pgn)
			}
		}
		if rec.maxInflight != 1 {
			t.Errorf("expected one save in flight at a time, got %d", rec.maxInflight)
		}
		settled := eventsOf[PersistenceSettled](col)
		if len(settled) != len(want) {
			t.Fatalf("expected %d settlements, got %d", len(want), len(settled))
		}
		for i, uci := range []string{"e2e4", "e7e5", "g1f3", "b8c6"} {
			if settled[i].Move.UCI != uci || settled[i].Record == nil || settled[i].Record.ID != int64(i+1) {
				t.Errorf("settlement %d: unexpected %+v", i, settled[i])
			}
		}
	})

	t.Run("FailureKeepsMove", func(t *testing.T) {
		rec := &fakeRecorder{err: errors.New("connection refused")}
		c, col := newTestCoordinator(t, WithRecorder(rec), WithSession(alice))
		play(t, c, "d2d4")
		c.Wait()

		if c.History().Len() != 1 || c.Position().Turn() != rules.Black {
			t.Error("failed save rolled back the move")
		}
		settled := eventsOf[PersistenceSettled](col)
		if len(settled) != 1 {
			t.Fatalf("expected 1 settlement, got %d", len(settled))
		}
		var perr *PersistenceError
		if !errors.As(settled[0].Err, &perr) || perr.Move.UCI != "d2d4" {
			t.Errorf("expected PersistenceError, got %v", settled[0].Err)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		rec := &fakeRecorder{block: true}
		c, col := newTestCoordinator(t, WithRecorder(rec), WithSession(alice), WithPersistTimeout(10*time.Millisecond))
		play(t, c, "d2d4")
		c.Wait()
		settled := eventsOf[PersistenceSettled](col)
		if len(settled) != 1 || !errors.Is(settled[0].Err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %+v", settled)
		}
	})

	t.Run("AnonymousSkipped", func(t *testing.T) {
		rec := &fakeRecorder{}
		c, col := newTestCoordinator(t, WithRecorder(rec))
		play(t, c, "e2e4")
		c.Wait()
		if len(rec.saved()) != 0 || len(eventsOf[PersistenceSettled](col)) != 0 {
			t.Error("anonymous move should not be saved")
		}

		c.SetSession(alice)
		play(t, c, "e7e5")
		c.Wait()
		if saved := rec.saved(); len(saved) != 1 || saved[0].Pgn != "1. e4 e5" {
			t.Errorf("unexpected saved moves %+v", saved)
		}
	})

	t.Run("WaitDeliversSettlement", func(t *testing.T) {
		rec := &fakeRecorder{}
		c, col := newTestCoordinator(t, WithRecorder(rec), WithSession(alice))
		entered, release := make(chan struct{}), make(chan struct{})
		var once sync.Once
		c.Subscribe(func(e Event) {
			if _, ok := e.(HistoryChanged); ok {
				once.Do(func() {
					close(entered)
					<-release
				})
			}
		})

		go c.SubmitMoveAttempt("e2", "e4")
		<-entered
		done := make(chan struct{})
		go func() {
			c.Wait()
			close(done)
		}()

		select {
		case <-done:
			t.Fatal("Wait returned while a listener still held the settlement")
		case <-time.After(50 * time.Millisecond):
		}
		close(release)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Wait did not return")
		}
		if settled := eventsOf[PersistenceSettled](col); len(settled) != 1 {
			t.Errorf("expected settlement delivered before Wait returned, got %d", len(settled))
		}
	})

	t.Run("SettledThroughDispatch", func(t *testing.T) {
		c, col := newTestCoordinator(t)
		move := rules.AppliedMove{UCI: "e2e4"}
		c.Dispatch(PersistenceSettled{Move: move, Err: errors.New("boom")})
		settled := eventsOf[PersistenceSettled](col)
		var perr *PersistenceError
		if len(settled) != 1 || !errors.As(settled[0].Err, &perr) {
			t.Errorf("expected wrapped PersistenceError, got %+v", settled)
		}
	})
}

func TestLoadExternalPosition(t *testing.T) {
	t.Run("MoveList", func(t *testing.T) {
		c, col := newTestCoordinator(t)
		if branch := c.LoadExternalPosition("", "1. e4 e5 2. Nf3"); branch != BranchMoveList {
			t.Fatalf("expected move list branch, got %s", branch)
		}
		if c.History().Len() != 3 || c.Position().Turn() != rules.Black {
			t.Errorf("unexpected state %v %s", c.History().UCI(), c.Position().Turn())
		}
		if c.InitialPosition().FEN() != rules.StartFEN {
			t.Errorf("unexpected initial position %s", c.InitialPosition().FEN())
		}
		if len(eventsOf[PositionChanged](col)) != 1 || len(eventsOf[HistoryChanged](col)) != 1 {
			t.Errorf("expected position and history refresh, got %v", col.all())
		}
	})

	t.Run("MoveListFromFEN", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		pgn := "[FEN \"8/8/4k3/8/8/8/4P3/4K3 b - - 0 12\"]\n\n12... Kd7 13. e4"
		if branch := c.LoadExternalPosition("", pgn); branch != BranchMoveList {
			t.Fatalf("expected move list branch, got %s", branch)
		}
		h := c.History()
		if h.WhiteFirst() || h.Len() != 2 {
			t.Fatalf("unexpected history %+v", h)
		}
		rows := h.Rows()
		if len(rows) != 2 || rows[0] != (HistoryRow{Number: 12, Black: "Kd7"}) || rows[1] != (HistoryRow{Number: 13, White: "e4"}) {
			t.Errorf("unexpected rows %+v", rows)
		}
	})

	t.Run("IllegalMoveListFallsBackToPosition", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		play(t, c, "e2e4")
		fen := "rnbqkbnr/pppppppp/8/8/3P4/8/PPP1PPPP/RNBQKBNR b KQkq - 0 1"
		if branch := c.LoadExternalPosition(fen, "1. d4 d5 2. Ke3"); branch != BranchPosition {
			t.Fatalf("expected position branch, got %s", branch)
		}
		if c.Position().FEN() != fen || c.History().Len() != 0 {
			t.Errorf("expected bare position with empty history, got %s %d", c.Position().FEN(), c.History().Len())
		}
		if c.History().WhiteFirst() {
			t.Error("black is to move in the loaded position")
		}
	})

	t.Run("FallsBackToStart", func(t *testing.T) {
		c, _ := newTestCoordinator(t)
		play(t, c, "e2e4")
		if branch := c.LoadExternalPosition("not a fen", "1. e5"); branch != BranchStart {
			t.Fatalf("expected start branch, got %s", branch)
		}
		if c.Position().FEN() != rules.StartFEN || c.History().Len() != 0 {
			t.Error("expected the standard start position")
		}
	})

	t.Run("CancelsPendingPromotion", func(t *testing.T) {
		c, col := newTestCoordinator(t)
		loadPosition(t, c, promotionFEN)
		c.SubmitMoveAttempt("g7", "g8")
		c.LoadExternalPosition("", "1. e4")
		if _, ok := c.Pending(); ok || c.Resolver().IsOpen() || c.State() != Idle {
			t.Error("load should cancel the pending promotion")
		}
		if len(eventsOf[PromotionCancelled](col)) != 1 {
			t.Error("expected a PromotionCancelled event")
		}
	})
}

func TestResetGame(t *testing.T) {
	c, col := newTestCoordinator(t)
	loadPosition(t, c, promotionFEN)
	c.SubmitMoveAttempt("g7", "g8")

	for i := 0; i < 2; i++ {
		c.ResetGame()
		if c.Position().FEN() != rules.StartFEN || c.History().Len() != 0 {
			t.Fatalf("reset %d: expected start position", i)
		}
		if c.State() != Idle || c.Resolver().IsOpen() || !c.External().Empty() {
			t.Fatalf("reset %d: unexpected state", i)
		}
	}
	if n := len(eventsOf[GameReset](col)); n != 2 {
		t.Errorf("expected 2 GameReset events, got %d", n)
	}

	if branch := c.Reload(); branch != BranchStart || c.Position().FEN() != rules.StartFEN {
		t.Errorf("reload after reset should start fresh, got %s", branch)
	}
}

func TestReload(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.LoadExternalPosition("", "1. e4 e5")
	play(t, c, "g1f3")
	if branch := c.Reload(); branch != BranchMoveList || c.History().Len() != 2 {
		t.Errorf("expected reload of the move list, got %s with %d moves", branch, c.History().Len())
	}
}

func TestDispatch(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if v := c.Dispatch(MoveAttempted{From: "e2", To: "e4", Piece: "wP"}); v != VerdictKeep {
		t.Errorf("expected keep, got %s", v)
	}
	loadPosition(t, c, promotionFEN)
	if v := c.Dispatch(MoveAttempted{From: "g7", To: "g8", Piece: "wP"}); v != VerdictSnapBack {
		t.Errorf("expected snapback, got %s", v)
	}
	c.Dispatch(PromotionChosen{Piece: "x"})
	if c.State() != AwaitingPromotionChoice {
		t.Error("invalid choice should keep the promotion pending")
	}
	c.Dispatch(PromotionCancelled{})
	if c.State() != Idle || c.History().Len() != 0 {
		t.Error("cancel through Dispatch failed")
	}
	c.Dispatch(MoveAttempted{From: "g7", To: "g8"})
	c.Dispatch(PromotionChosen{Piece: "b"})
	if got := c.Position().PieceAt("g8"); got.Type != rules.Bishop {
		t.Errorf("expected bishop on g8, got %+v", got)
	}
}
