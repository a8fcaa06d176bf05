package rules

import (
	"strconv"
	"strings"
	"sync"

	chess "github.com/corentings/chess/v2"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Position is an immutable game position. Besides the board it remembers
// the root it was reached from and the moves played since, which the engine
// needs for repetition draws and move list serialization.
//
// The zero value is treated as the standard starting position.
type Position struct {
	root string
	line []AppliedMove
	cur  *chess.Position
	game *liveGame
}

// liveGame is the game a line of positions is built on. The newest position
// of the line hands it on to the next move; positions left behind answer
// from their own board snapshot and replay when they need the history.
type liveGame struct {
	mu    sync.Mutex
	game  *chess.Game
	taken bool
}

func newPosition(root string, line []AppliedMove, game *chess.Game) Position {
	return Position{root: root, line: line, cur: game.Position(), game: &liveGame{game: game}}
}

func startingPosition() Position {
	return newPosition(StartFEN, nil, chess.NewGame())
}

// withGame runs fn with a game standing at p.
func (p Position) withGame(fn func(*chess.Game)) error {
	lg := p.game
	lg.mu.Lock()
	if !lg.taken {
		defer lg.mu.Unlock()
		fn(lg.game)
		return nil
	}
	lg.mu.Unlock()
	game, err := replay(p.root, p.line)
	if err != nil {
		return err
	}
	fn(game)
	return nil
}

// take returns a game standing at p that the caller may extend. The shared
// game is handed out once; later callers get a replay.
func (p Position) take() (*chess.Game, error) {
	lg := p.game
	lg.mu.Lock()
	if !lg.taken {
		lg.taken = true
		lg.mu.Unlock()
		return lg.game, nil
	}
	lg.mu.Unlock()
	return replay(p.root, p.line)
}

func (p Position) orStart() Position {
	if p.game == nil {
		return startingPosition()
	}
	return p
}

// FEN returns the FEN encoding of the position.
func (p Position) FEN() string {
	return p.orStart().cur.String()
}

// Root returns the FEN of the position the move line starts from.
func (p Position) Root() string {
	return p.orStart().root
}

// Line returns the moves played since the root.
func (p Position) Line() []AppliedMove {
	return append([]AppliedMove(nil), p.line...)
}

// Turn returns the side to move.
func (p Position) Turn() Color {
	return colorFrom(p.orStart().cur.Turn())
}

// Grid returns the board with rank 8 in row 0 and file a in column 0.
func (p Position) Grid() [8][8]Piece {
	var grid [8][8]Piece
	for sq, piece := range p.orStart().cur.Board().SquareMap() {
		grid[7-int(sq.Rank())][int(sq.File())] = pieceFrom(piece)
	}
	return grid
}

// PieceAt returns the piece on the given coordinate.
func (p Position) PieceAt(square string) Piece {
	sq, err := ParseSquare(square)
	if err != nil {
		return Piece{}
	}
	return pieceFrom(p.orStart().cur.Board().Piece(sq))
}

func (p Position) fenFields() []string {
	return strings.Fields(p.FEN())
}

// Castling returns the castling rights.
func (p Position) Castling() Castling {
	rights := p.fenFields()[2]
	return Castling{
		WhiteKingSide:  strings.Contains(rights, "K"),
		WhiteQueenSide: strings.Contains(rights, "Q"),
		BlackKingSide:  strings.Contains(rights, "k"),
		BlackQueenSide: strings.Contains(rights, "q"),
	}
}

// EnPassant returns the en passant target square if there is one.
func (p Position) EnPassant() (string, bool) {
	sq := p.fenFields()[3]
	if sq == "-" {
		return "", false
	}
	return sq, true
}

// HalfmoveClock returns the number of plies since the last capture or pawn move.
func (p Position) HalfmoveClock() int {
	n, _ := strconv.Atoi(p.fenFields()[4])
	return n
}

// FullmoveNumber returns the move number, starting at 1 and incremented
// after each black move.
func (p Position) FullmoveNumber() int {
	n, _ := strconv.Atoi(p.fenFields()[5])
	return n
}

// Equal reports whether both positions encode the same FEN.
func (p Position) Equal(o Position) bool {
	return p.FEN() == o.FEN()
}

func (p Position) lastMove() (AppliedMove, bool) {
	if len(p.line) == 0 {
		return AppliedMove{}, false
	}
	return p.line[len(p.line)-1], true
}

// newRootGame returns a game starting from fen.
func newRootGame(fen string) (*chess.Game, error) {
	if fen == StartFEN {
		return chess.NewGame(), nil
	}
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, err
	}
	return chess.NewGame(opt), nil
}

// replay rebuilds the game for root followed by line. The SANs in line were
// produced by the engine itself, so a failure here means the line is corrupt.
func replay(root string, line []AppliedMove) (*chess.Game, error) {
	game, err := newRootGame(root)
	if err != nil {
		return nil, err
	}
	for _, m := range line {
		if err := game.PushMove(m.SAN, &chess.PushMoveOptions{ForceMainline: true}); err != nil {
			return nil, err
		}
	}
	return game, nil
}
