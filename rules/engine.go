package rules

import (
	"fmt"
	"strings"

	chess "github.com/corentings/chess/v2"
	"github.com/rs/zerolog"

	"github.com/walterschell/jaquemate/logx"
)

// Engine validates and applies moves. It holds no game state of its own;
// every operation takes and returns immutable positions.
type Engine struct {
	log zerolog.Logger
}

type EngineOption func(*Engine)

func WithLogger(log zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = log
	}
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{log: logx.Component("rules")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartingPosition returns the standard initial position.
func (e *Engine) StartingPosition() Position {
	return startingPosition()
}

// Load parses a FEN string. Structurally invalid input and positions that
// cannot arise in play are rejected with ErrInvalidPosition: missing kings,
// pawns on the back ranks, the side not to move in check, castling rights
// without king and rook at home, or an en passant target no double pawn
// push could have left.
func (e *Engine) Load(fen string) (Position, error) {
	fen = strings.Join(strings.Fields(fen), " ")
	if fen == "" {
		return Position{}, fmt.Errorf("%w: empty FEN", ErrInvalidPosition)
	}
	game, err := newRootGame(fen)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	if err := checkPlausible(game.Position(), strings.Fields(fen)); err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	return newPosition(game.FEN(), nil, game), nil
}

func checkPlausible(pos *chess.Position, fields []string) error {
	kings := map[chess.Color]int{}
	for sq, p := range pos.Board().SquareMap() {
		switch p.Type() {
		case chess.King:
			kings[p.Color()]++
		case chess.Pawn:
			if sq.Rank() == chess.Rank1 || sq.Rank() == chess.Rank8 {
				return fmt.Errorf("pawn on %s", sq)
			}
		}
	}
	if kings[chess.White] != 1 || kings[chess.Black] != 1 {
		return fmt.Errorf("expected one king per side, got white=%d black=%d", kings[chess.White], kings[chess.Black])
	}
	notToMove := chess.White
	if pos.Turn() == chess.White {
		notToMove = chess.Black
	}
	if kingAttacked(pos, notToMove) {
		return fmt.Errorf("side not to move is in check")
	}
	if len(fields) > 2 {
		if err := checkCastling(pos.Board(), fields[2]); err != nil {
			return err
		}
	}
	if len(fields) > 3 {
		if err := checkEnPassant(pos.Board(), fields[3], pos.Turn()); err != nil {
			return err
		}
	}
	return nil
}

// castlingHome maps a castling right to the home squares of its king and rook.
var castlingHome = map[rune][2]chess.Square{
	'K': {chess.E1, chess.H1},
	'Q': {chess.E1, chess.A1},
	'k': {chess.E8, chess.H8},
	'q': {chess.E8, chess.A8},
}

func checkCastling(board *chess.Board, rights string) error {
	if rights == "-" {
		return nil
	}
	for _, r := range rights {
		home, ok := castlingHome[r]
		if !ok {
			return fmt.Errorf("unknown castling right %q", r)
		}
		color := chess.White
		if r == 'k' || r == 'q' {
			color = chess.Black
		}
		if board.Piece(home[0]) != chess.NewPiece(chess.King, color) || board.Piece(home[1]) != chess.NewPiece(chess.Rook, color) {
			return fmt.Errorf("castling right %c without king on %s and rook on %s", r, home[0], home[1])
		}
	}
	return nil
}

// checkEnPassant verifies target is the square a pawn of the side not to
// move just skipped: on the third rank from that side, empty, with the pawn
// in front of it and its start square empty.
func checkEnPassant(board *chess.Board, target string, turn chess.Color) error {
	if target == "-" {
		return nil
	}
	sq, err := ParseSquare(target)
	if err != nil {
		return err
	}
	file, rank := int(sq.File()), int(sq.Rank())
	wantRank, forward, pusher := 5, -1, chess.Black
	if turn == chess.Black {
		wantRank, forward, pusher = 2, 1, chess.White
	}
	if rank != wantRank {
		return fmt.Errorf("en passant target %s on the wrong rank", target)
	}
	skipped, _ := pieceAt(board, file, rank)
	pawn, _ := pieceAt(board, file, rank+forward)
	start, _ := pieceAt(board, file, rank-forward)
	if skipped != chess.NoPiece || start != chess.NoPiece || pawn != chess.NewPiece(chess.Pawn, pusher) {
		return fmt.Errorf("en passant target %s without a double pawn push", target)
	}
	return nil
}

// kingAttacked reports whether side's king stands on a square attacked by
// the other side.
func kingAttacked(pos *chess.Position, side chess.Color) bool {
	board := pos.Board()
	for sq, p := range board.SquareMap() {
		if p.Type() == chess.King && p.Color() == side {
			return attacked(board, sq, side)
		}
	}
	return false
}

var (
	knightJumps = [][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingSteps   = [][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	straightRay = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	diagonalRay = [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

func pieceAt(board *chess.Board, file, rank int) (chess.Piece, bool) {
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return chess.NoPiece, false
	}
	return board.Piece(chess.Square(file + rank*8)), true
}

// attacked reports whether any piece not of color owner attacks sq.
func attacked(board *chess.Board, sq chess.Square, owner chess.Color) bool {
	file, rank := int(sq.File()), int(sq.Rank())
	enemy := func(p chess.Piece, types ...chess.PieceType) bool {
		if p == chess.NoPiece || p.Color() == owner {
			return false
		}
		for _, t := range types {
			if p.Type() == t {
				return true
			}
		}
		return false
	}

	for _, d := range knightJumps {
		if p, ok := pieceAt(board, file+d[0], rank+d[1]); ok && enemy(p, chess.Knight) {
			return true
		}
	}
	for _, d := range kingSteps {
		if p, ok := pieceAt(board, file+d[0], rank+d[1]); ok && enemy(p, chess.King) {
			return true
		}
	}
	// Enemy pawns capture towards owner's side of the board.
	pawnRank := rank + 1
	if owner == chess.Black {
		pawnRank = rank - 1
	}
	for _, df := range []int{-1, 1} {
		if p, ok := pieceAt(board, file+df, pawnRank); ok && enemy(p, chess.Pawn) {
			return true
		}
	}

	slide := func(dirs [][2]int, types ...chess.PieceType) bool {
		for _, d := range dirs {
			for f, r := file+d[0], rank+d[1]; ; f, r = f+d[0], r+d[1] {
				p, ok := pieceAt(board, f, r)
				if !ok {
					break
				}
				if p == chess.NoPiece {
					continue
				}
				if enemy(p, types...) {
					return true
				}
				break
			}
		}
		return false
	}
	return slide(straightRay, chess.Rook, chess.Queen) || slide(diagonalRay, chess.Bishop, chess.Queen)
}

// LegalMoves returns the legal moves of the side to move. Terminal
// positions have none.
func (e *Engine) LegalMoves(pos Position) []AppliedMove {
	pos = pos.orStart()
	if e.Status(pos).Terminal() {
		return nil
	}
	cur := pos.cur
	valid := cur.ValidMoves()
	moves := make([]AppliedMove, 0, len(valid))
	for i := range valid {
		moves = append(moves, describe(cur, &valid[i]))
	}
	return moves
}

// IsPromotion reports whether from→to moves a pawn of the side to move onto
// its last rank with at least one legal promotion available.
func (e *Engine) IsPromotion(pos Position, from, to string) bool {
	pos = pos.orStart()
	s1, err := ParseSquare(from)
	if err != nil {
		return false
	}
	s2, err := ParseSquare(to)
	if err != nil {
		return false
	}
	cur := pos.cur
	piece := cur.Board().Piece(s1)
	if piece.Type() != chess.Pawn || piece.Color() != cur.Turn() {
		return false
	}
	lastRank := chess.Rank8
	if piece.Color() == chess.Black {
		lastRank = chess.Rank1
	}
	if s2.Rank() != lastRank {
		return false
	}
	if e.Status(pos).Terminal() {
		return false
	}
	for _, m := range cur.ValidMoves() {
		if m.S1() == s1 && m.S2() == s2 && m.Promo() != chess.NoPieceType {
			return true
		}
	}
	return false
}

// ApplyMove validates req against pos and returns the resulting position.
func (e *Engine) ApplyMove(pos Position, req MoveRequest) (Position, AppliedMove, error) {
	pos = pos.orStart()
	move, err := e.findMove(pos, req)
	if err != nil {
		return pos, AppliedMove{}, err
	}
	applied := describe(pos.cur, move)
	line := append(pos.Line(), applied)
	game, err := pos.take()
	if err == nil {
		err = game.PushMove(applied.SAN, &chess.PushMoveOptions{ForceMainline: true})
	}
	if err != nil {
		e.log.Error().Err(err).Str("move", applied.SAN).Str("position", pos.FEN()).Msg("extending game failed")
		return pos, AppliedMove{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	return newPosition(pos.root, line, game), applied, nil
}

func (e *Engine) findMove(pos Position, req MoveRequest) (*chess.Move, error) {
	s1, err := ParseSquare(req.From)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	s2, err := ParseSquare(req.To)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	if e.Status(pos).Terminal() {
		return nil, fmt.Errorf("%w: game is over", ErrIllegalMove)
	}
	promo := req.Promotion.chessType()
	if req.Promotion != NoPieceType && promo == chess.NoPieceType {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPromotionPiece, req.Promotion)
	}
	promotable := false
	for _, m := range pos.cur.ValidMoves() {
		if m.S1() != s1 || m.S2() != s2 {
			continue
		}
		if m.Promo() == promo {
			return &m, nil
		}
		if m.Promo() != chess.NoPieceType {
			promotable = true
		}
	}
	if promotable && req.Promotion == NoPieceType {
		return nil, fmt.Errorf("%w: %s%s", ErrPromotionRequired, req.From, req.To)
	}
	return nil, fmt.Errorf("%w: %s%s%s", ErrIllegalMove, req.From, req.To, req.Promotion)
}

// describe derives the notation and piece facts of a validated move.
func describe(pos *chess.Position, m *chess.Move) AppliedMove {
	board := pos.Board()
	mover := board.Piece(m.S1())
	captured := pieceFrom(board.Piece(m.S2()))
	if m.HasTag(chess.EnPassant) {
		captured = Piece{Color: colorFrom(mover.Color()).Other(), Type: Pawn}
	}
	return AppliedMove{
		From:      m.S1().String(),
		To:        m.S2().String(),
		Promotion: pieceTypeFrom(m.Promo()),
		UCI:       moveToUci(pos, m),
		SAN:       moveToSan(pos, m),
		Piece:     pieceFrom(mover),
		Captured:  captured,
		Color:     colorFrom(mover.Color()),
		Check:     m.HasTag(chess.Check),
	}
}

func moveToSan(startingPosition *chess.Position, move *chess.Move) string {
	return chess.AlgebraicNotation{}.Encode(startingPosition, move)
}

func moveToUci(startingPosition *chess.Position, move *chess.Move) string {
	return chess.UCINotation{}.Encode(startingPosition, move)
}

// Serialize returns the FEN of pos.
func (e *Engine) Serialize(pos Position) string {
	return pos.FEN()
}

// Status classifies pos. Checkmate and the draws are terminal.
func (e *Engine) Status(pos Position) Status {
	pos = pos.orStart()
	var status Status
	err := pos.withGame(func(game *chess.Game) {
		status = gameStatus(pos, game)
	})
	if err != nil {
		e.log.Error().Err(err).Str("position", pos.FEN()).Msg("replay failed")
		return Ongoing
	}
	return status
}

func gameStatus(pos Position, game *chess.Game) Status {
	switch game.Position().Status() {
	case chess.Checkmate:
		return Checkmate
	case chess.Stalemate:
		return Stalemate
	}
	if game.Method() == chess.InsufficientMaterial || insufficientMaterial(game.Position().Board()) {
		return DrawByInsufficientMaterial
	}
	switch game.Method() {
	case chess.FivefoldRepetition:
		return DrawByRepetition
	case chess.SeventyFiveMoveRule:
		return DrawByFiftyMoves
	}
	for _, method := range game.EligibleDraws() {
		switch method {
		case chess.ThreefoldRepetition:
			return DrawByRepetition
		case chess.FiftyMoveRule:
			return DrawByFiftyMoves
		}
	}
	if inCheck(pos) {
		return Check
	}
	return Ongoing
}

// insufficientMaterial covers bare kings, a single minor piece, and bishops
// that all stand on one square color. Loaded positions never pass through
// the game's own outcome bookkeeping, hence the board check.
func insufficientMaterial(board *chess.Board) bool {
	minors := 0
	bishopColors := map[int]bool{}
	knights := 0
	for sq, p := range board.SquareMap() {
		switch p.Type() {
		case chess.King:
		case chess.Bishop:
			minors++
			bishopColors[(int(sq.File())+int(sq.Rank()))%2] = true
		case chess.Knight:
			minors++
			knights++
		default:
			return false
		}
	}
	switch {
	case minors <= 1:
		return true
	case knights == 0 && len(bishopColors) == 1:
		return true
	}
	return false
}

func inCheck(pos Position) bool {
	if last, ok := pos.lastMove(); ok {
		return last.Check
	}
	cur := pos.cur
	return kingAttacked(cur, cur.Turn())
}
