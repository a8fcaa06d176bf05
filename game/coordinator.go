// Package game drives the move lifecycle of a single board: a drop is
// validated by the rules engine, promotions wait for a piece choice, accepted
// moves are folded into the position and history, saved in the background
// and checked for the end of the game.
package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/walterschell/jaquemate/logx"
	"github.com/walterschell/jaquemate/persistence"
	"github.com/walterschell/jaquemate/rules"
	"github.com/walterschell/jaquemate/session"
)

const DefaultPersistTimeout = 5 * time.Second

type State int

const (
	Idle State = iota
	Validating
	AwaitingPromotionChoice
	Applying
	PersistingAsync
)

func (s State) String() string {
	return []string{"Idle", "Validating", "AwaitingPromotionChoice", "Applying", "PersistingAsync"}[s]
}

// RulesEngine is the subset of *rules.Engine the coordinator needs.
type RulesEngine interface {
	StartingPosition() rules.Position
	Load(fen string) (rules.Position, error)
	LoadMoveList(text string) (rules.Position, []rules.AppliedMove, error)
	ApplyMove(pos rules.Position, req rules.MoveRequest) (rules.Position, rules.AppliedMove, error)
	IsPromotion(pos rules.Position, from, to string) bool
	Status(pos rules.Position) rules.Status
	SerializeMoveList(pos rules.Position) string
}

// MoveRecorder saves accepted moves. *persistence.Client satisfies it.
type MoveRecorder interface {
	CreateMove(ctx context.Context, in persistence.NewMove) (*persistence.MoveRecord, error)
}

type Option func(*Coordinator)

func WithEngine(e RulesEngine) Option {
	return func(c *Coordinator) {
		c.engine = e
	}
}

func WithRecorder(r MoveRecorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

func WithSession(s session.Session) Option {
	return func(c *Coordinator) {
		c.session = s
	}
}

func WithPersistTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.persistTimeout = d
		}
	}
}

// WithContext sets the parent context of background saves. Cancelling it
// aborts saves still in flight.
func WithContext(ctx context.Context) Option {
	return func(c *Coordinator) {
		c.ctx = ctx
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

// Coordinator owns the position of one board. It is safe for concurrent use;
// events are delivered to listeners in order and outside the coordinator's
// lock, so a listener may call back into the coordinator.
type Coordinator struct {
	mu             sync.Mutex
	engine         RulesEngine
	recorder       MoveRecorder
	session        session.Session
	persistTimeout time.Duration
	ctx            context.Context
	log            zerolog.Logger

	state    State
	initial  rules.Position
	pos      rules.Position
	history  History
	pending  *PendingPromotion
	external DeepLink
	resolver *Resolver

	listeners  []func(Event)
	outbox     []Event
	publishing bool
	idle       *sync.Cond

	saves  []saveJob
	saving bool
	wg     sync.WaitGroup
}

type saveJob struct {
	in   persistence.NewMove
	move rules.AppliedMove
}

func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		persistTimeout: DefaultPersistTimeout,
		ctx:            context.Background(),
		log:            logx.Component("game"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.engine == nil {
		c.engine = rules.NewEngine(rules.WithLogger(c.log))
	}
	c.resolver = &Resolver{coord: c}
	c.idle = sync.NewCond(&c.mu)
	c.initial = c.engine.StartingPosition()
	c.pos = c.initial
	c.history = newHistory(c.initial)
	return c
}

// Subscribe registers fn to receive every event published from now on.
func (c *Coordinator) Subscribe(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Position() rules.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// InitialPosition is the position History is replayed from.
func (c *Coordinator) InitialPosition() rules.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initial
}

func (c *Coordinator) History() History {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history
}

func (c *Coordinator) Pending() (PendingPromotion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return PendingPromotion{}, false
	}
	return *c.pending, true
}

func (c *Coordinator) Resolver() *Resolver { return c.resolver }

func (c *Coordinator) Session() session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SetSession changes the user moves are attributed to from the next
// accepted move on.
func (c *Coordinator) SetSession(s session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// Refresh publishes the current position and history again, e.g. for a
// view that attached after the game started.
func (c *Coordinator) Refresh() {
	c.mu.Lock()
	c.emit(positionChanged(c.pos))
	c.emit(HistoryChanged{History: c.history})
	c.mu.Unlock()
	c.flush()
}

// Wait blocks until every background save has settled and the events those
// settlements queued have reached the listeners. It must not be called from
// a listener.
func (c *Coordinator) Wait() {
	c.wg.Wait()
	c.flush()
	c.mu.Lock()
	for c.publishing || len(c.outbox) > 0 {
		c.idle.Wait()
	}
	c.mu.Unlock()
}

// Dispatch routes an input message. Only MoveAttempted yields a verdict.
func (c *Coordinator) Dispatch(in Input) Verdict {
	switch in := in.(type) {
	case MoveAttempted:
		return c.SubmitMoveAttempt(in.From, in.To)
	case PromotionChosen:
		if err := c.ResolvePromotionChoice(in.Piece); err != nil {
			c.log.Warn().Err(err).Str("piece", in.Piece).Msg("promotion choice rejected")
		}
	case PromotionCancelled:
		c.CancelPromotionChoice()
	case PersistenceSettled:
		c.settle(in)
	default:
		c.log.Warn().Type("input", in).Msg("unknown input")
	}
	return VerdictNone
}

// SubmitMoveAttempt handles a piece dropped from origin onto destination.
func (c *Coordinator) SubmitMoveAttempt(origin, destination string) Verdict {
	c.mu.Lock()
	v := c.submit(origin, destination)
	c.mu.Unlock()
	c.flush()
	return v
}

func (c *Coordinator) submit(from, to string) Verdict {
	if from == to {
		return VerdictNone
	}
	if c.state == AwaitingPromotionChoice {
		c.log.Debug().Str("from", from).Str("to", to).Msg("move rejected while promotion pending")
		return VerdictSnapBack
	}
	c.transition(Validating)

	if c.engine.IsPromotion(c.pos, from, to) {
		p := PendingPromotion{From: from, To: to, Color: c.pos.Turn(), FEN: c.pos.FEN()}
		if err := c.resolver.openFor(p); err != nil {
			c.log.Error().Err(err).Msg("cannot open promotion resolver")
			c.transition(Idle)
			return VerdictSnapBack
		}
		c.pending = &p
		c.transition(AwaitingPromotionChoice)
		c.emit(PromotionRequested{Pending: p, Options: promotionOptions(p.Color)})
		return VerdictSnapBack
	}

	next, applied, err := c.engine.ApplyMove(c.pos, rules.MoveRequest{From: from, To: to})
	if err != nil {
		c.log.Debug().Err(err).Str("from", from).Str("to", to).Str("fen", c.pos.FEN()).Msg("illegal move")
		c.transition(Idle)
		return VerdictSnapBack
	}
	c.apply(next, applied)
	return VerdictKeep
}

// ResolvePromotionChoice completes the pending promotion with piece.
func (c *Coordinator) ResolvePromotionChoice(piece string) error {
	c.mu.Lock()
	err := c.resolve(piece)
	c.mu.Unlock()
	c.flush()
	return err
}

func (c *Coordinator) resolve(piece string) error {
	if c.state != AwaitingPromotionChoice || c.pending == nil {
		return ErrNoPendingPromotion
	}
	pt, err := rules.ParsePromotionPiece(piece)
	if err != nil {
		return err
	}
	p := *c.pending
	c.pending = nil
	c.resolver.close()

	if c.pos.FEN() != p.FEN {
		return c.abort(&ConcurrentInconsistencyError{Pending: p, Current: c.pos.FEN()})
	}
	next, applied, err := c.engine.ApplyMove(c.pos, rules.MoveRequest{From: p.From, To: p.To, Promotion: pt})
	if err != nil {
		return c.abort(&ConcurrentInconsistencyError{Pending: p, Current: c.pos.FEN(), Err: err})
	}
	c.emit(PromotionResolved{Move: applied})
	c.apply(next, applied)
	return nil
}

func (c *Coordinator) abort(err *ConcurrentInconsistencyError) error {
	c.log.Error().Err(err).Msg("promotion aborted")
	c.transition(Idle)
	c.emit(positionChanged(c.pos))
	return err
}

// CancelPromotionChoice drops the pending promotion. The position is pushed
// again unchanged so the board redraws the pawn on its origin square.
func (c *Coordinator) CancelPromotionChoice() {
	c.mu.Lock()
	c.cancelPending()
	c.mu.Unlock()
	c.flush()
}

func (c *Coordinator) cancelPending() {
	if c.pending == nil {
		return
	}
	p := *c.pending
	c.pending = nil
	c.resolver.close()
	c.transition(Idle)
	c.emit(PromotionCancelled{Pending: p})
	c.emit(positionChanged(c.pos))
}

func (c *Coordinator) apply(next rules.Position, m rules.AppliedMove) {
	c.transition(Applying)
	c.pos = next
	c.history = c.history.append(m)
	c.emit(positionChanged(next))
	c.emit(HistoryChanged{History: c.history})

	c.transition(PersistingAsync)
	c.persist(next, m)

	switch status := c.engine.Status(next); {
	case status.Terminal():
		over := gameOver(status, next)
		c.log.Info().Str("result", string(over.Result)).Str("winner", over.Winner.Name()).Str("reason", over.Reason).Msg("game over")
		c.emit(over)
	case status == rules.Check:
		c.emit(CheckIndicated{Color: next.Turn()})
	}
	c.transition(Idle)
}

// persist queues m for saving in the background. Saves of one board reach
// the recorder in the order the moves were accepted. It never blocks and
// never retries.
func (c *Coordinator) persist(pos rules.Position, m rules.AppliedMove) {
	if c.recorder == nil {
		return
	}
	if c.session.Anonymous() {
		c.log.Debug().Str("move", m.UCI).Msg("anonymous session, move not saved")
		return
	}
	in := persistence.NewMove{
		UsuarioID:   c.session.UserID,
		Fen:         pos.FEN(),
		MoveUciFrom: m.From,
		MoveUciTo:   m.To,
		MoveSan:     m.SAN,
		Pgn:         c.engine.SerializeMoveList(pos),
	}
	c.wg.Add(1)
	c.saves = append(c.saves, saveJob{in: in, move: m})
	if !c.saving {
		c.saving = true
		go c.saveLoop()
	}
}

// saveLoop sends queued moves to the recorder one at a time, oldest first,
// and exits when the queue is empty.
func (c *Coordinator) saveLoop() {
	for {
		c.mu.Lock()
		if len(c.saves) == 0 {
			c.saving = false
			c.mu.Unlock()
			return
		}
		job := c.saves[0]
		c.saves = c.saves[1:]
		rec, parent, timeout := c.recorder, c.ctx, c.persistTimeout
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(parent, timeout)
		stored, err := rec.CreateMove(ctx, job.in)
		cancel()
		if err != nil {
			c.Dispatch(PersistenceSettled{Move: job.move, Err: &PersistenceError{Move: job.move, Err: err}})
		} else {
			c.Dispatch(PersistenceSettled{Move: job.move, Record: stored})
		}
		c.wg.Done()
	}
}

func (c *Coordinator) settle(s PersistenceSettled) {
	if s.Err != nil {
		var perr *PersistenceError
		if !errors.As(s.Err, &perr) {
			s.Err = &PersistenceError{Move: s.Move, Err: s.Err}
		}
		c.log.Error().Err(s.Err).Msg("move not saved")
	} else if s.Record != nil {
		c.log.Debug().Int64("id", s.Record.ID).Str("move", s.Move.UCI).Msg("move saved")
	}
	c.mu.Lock()
	c.emit(s)
	c.mu.Unlock()
	c.flush()
}

// LoadBranch tells which source LoadExternalPosition ended up using.
type LoadBranch int

const (
	BranchMoveList LoadBranch = iota
	BranchPosition
	BranchStart
)

func (b LoadBranch) String() string {
	return []string{"move list", "position", "start"}[b]
}

// LoadExternalPosition restores a game from outside parameters. The move
// list wins when it replays cleanly; otherwise the bare FEN is used with an
// empty history; otherwise the standard start position. A pending
// promotion is cancelled.
func (c *Coordinator) LoadExternalPosition(fen, pgn string) LoadBranch {
	c.mu.Lock()
	branch := c.load(fen, pgn)
	c.mu.Unlock()
	c.flush()
	return branch
}

func (c *Coordinator) load(fen, pgn string) LoadBranch {
	c.cancelPending()
	c.external = DeepLink{FEN: fen, PGN: pgn}

	if pgn != "" {
		pos, moves, err := c.engine.LoadMoveList(pgn)
		if err == nil {
			root := rootPosition(c.engine, pos)
			c.restore(pos, historyFrom(root, moves), root)
			c.log.Info().Int("moves", len(moves)).Msg("game restored from move list")
			return BranchMoveList
		}
		c.log.Warn().Err(err).Msg("move list rejected, falling back to position")
	}
	if fen != "" {
		pos, err := c.engine.Load(fen)
		if err == nil {
			c.restore(pos, newHistory(pos), pos)
			c.log.Info().Str("fen", pos.FEN()).Msg("game restored from position")
			return BranchPosition
		}
		c.log.Warn().Err(err).Str("fen", fen).Msg("position rejected, falling back to start")
	}
	start := c.engine.StartingPosition()
	c.restore(start, newHistory(start), start)
	return BranchStart
}

// rootPosition loads the position a replayed game started from.
func rootPosition(e RulesEngine, pos rules.Position) rules.Position {
	root, err := e.Load(pos.Root())
	if err != nil {
		return e.StartingPosition()
	}
	return root
}

func (c *Coordinator) restore(pos rules.Position, h History, initial rules.Position) {
	c.initial = initial
	c.pos = pos
	c.history = h
	c.transition(Idle)
	c.emit(positionChanged(pos))
	c.emit(HistoryChanged{History: h})
}

// ResetGame returns to the standard start position. Remembered external
// parameters are forgotten so a later Reload starts fresh too.
func (c *Coordinator) ResetGame() {
	c.mu.Lock()
	c.cancelPending()
	c.external = DeepLink{}
	start := c.engine.StartingPosition()
	c.restore(start, newHistory(start), start)
	c.emit(GameReset{})
	c.mu.Unlock()
	c.flush()
}

// Reload reapplies the last external parameters, or resets when there are
// none.
func (c *Coordinator) Reload() LoadBranch {
	c.mu.Lock()
	link := c.external
	c.mu.Unlock()
	if link.Empty() {
		c.ResetGame()
		return BranchStart
	}
	return c.LoadExternalPosition(link.FEN, link.PGN)
}

// External returns the parameters of the last external load.
func (c *Coordinator) External() DeepLink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.external
}

func (c *Coordinator) transition(to State) {
	if c.state != to {
		c.log.Trace().Stringer("from", c.state).Stringer("to", to).Msg("state")
	}
	c.state = to
}

// emit queues e for delivery. Callers hold c.mu.
func (c *Coordinator) emit(e Event) {
	c.outbox = append(c.outbox, e)
}

// flush delivers queued events. Only one goroutine delivers at a time;
// events queued meanwhile, including by listeners, are picked up by it.
func (c *Coordinator) flush() {
	c.mu.Lock()
	if c.publishing {
		c.mu.Unlock()
		return
	}
	c.publishing = true
	for len(c.outbox) > 0 {
		events := c.outbox
		c.outbox = nil
		listeners := c.listeners
		c.mu.Unlock()
		for _, e := range events {
			for _, fn := range listeners {
				fn(e)
			}
		}
		c.mu.Lock()
	}
	c.publishing = false
	c.idle.Broadcast()
	c.mu.Unlock()
}
