package rules

import (
	"fmt"

	chess "github.com/corentings/chess/v2"
)

// Color is the side owning a piece or the side to move.
type Color string

const (
	NoColor Color = ""
	White   Color = "w"
	Black   Color = "b"
)

// Other returns the opposing side.
func (c Color) Other() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	}
	return NoColor
}

// Name returns the human readable side name.
func (c Color) Name() string {
	switch c {
	case White:
		return "White"
	case Black:
		return "Black"
	}
	return ""
}

func colorFrom(c chess.Color) Color {
	switch c {
	case chess.White:
		return White
	case chess.Black:
		return Black
	}
	return NoColor
}

// PieceType is the lower case piece letter used in FEN and UCI.
type PieceType string

const (
	NoPieceType PieceType = ""
	King        PieceType = "k"
	Queen       PieceType = "q"
	Rook        PieceType = "r"
	Bishop      PieceType = "b"
	Knight      PieceType = "n"
	Pawn        PieceType = "p"
)

// PromotionPieces are the piece types a pawn may promote to, in the order
// they are offered to the user.
var PromotionPieces = []PieceType{Queen, Rook, Bishop, Knight}

// ParsePromotionPiece accepts a single letter in either case.
func ParsePromotionPiece(s string) (PieceType, error) {
	switch s {
	case "q", "Q":
		return Queen, nil
	case "r", "R":
		return Rook, nil
	case "b", "B":
		return Bishop, nil
	case "n", "N":
		return Knight, nil
	}
	return NoPieceType, fmt.Errorf("%w: %q", ErrInvalidPromotionPiece, s)
}

var pieceTypes = map[chess.PieceType]PieceType{
	chess.King:   King,
	chess.Queen:  Queen,
	chess.Rook:   Rook,
	chess.Bishop: Bishop,
	chess.Knight: Knight,
	chess.Pawn:   Pawn,
}

func pieceTypeFrom(p chess.PieceType) PieceType {
	return pieceTypes[p]
}

func (p PieceType) chessType() chess.PieceType {
	for ct, pt := range pieceTypes {
		if pt == p {
			return ct
		}
	}
	return chess.NoPieceType
}

// Piece is a colored piece. The zero value is an empty square.
type Piece struct {
	Color Color     `json:"color,omitempty"`
	Type  PieceType `json:"type,omitempty"`
}

// IsZero reports whether the piece represents an empty square.
func (p Piece) IsZero() bool {
	return p.Type == NoPieceType
}

// Code returns the board-style piece code, e.g. "wP" or "bQ".
func (p Piece) Code() string {
	if p.IsZero() {
		return ""
	}
	letter := string(p.Type)
	if len(letter) == 1 {
		letter = string(letter[0] - 'a' + 'A')
	}
	return string(p.Color) + letter
}

func pieceFrom(p chess.Piece) Piece {
	if p == chess.NoPiece {
		return Piece{}
	}
	return Piece{Color: colorFrom(p.Color()), Type: pieceTypeFrom(p.Type())}
}

// ParseSquare converts a coordinate such as "e4" to the engine square.
func ParseSquare(s string) (chess.Square, error) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return chess.NoSquare, fmt.Errorf("invalid square %q", s)
	}
	return chess.Square(int(s[0]-'a') + int(s[1]-'1')*8), nil
}

// Castling holds the four castling rights.
type Castling struct {
	WhiteKingSide  bool `json:"K"`
	WhiteQueenSide bool `json:"Q"`
	BlackKingSide  bool `json:"k"`
	BlackQueenSide bool `json:"q"`
}

// Status classifies a position for the end-of-game check.
type Status int

const (
	Ongoing Status = iota
	Check
	Checkmate
	Stalemate
	DrawByRepetition
	DrawByInsufficientMaterial
	DrawByFiftyMoves
)

func (s Status) String() string {
	return []string{"Ongoing", "Check", "Checkmate", "Stalemate", "DrawByRepetition", "DrawByInsufficientMaterial", "DrawByFiftyMoves"}[s]
}

// Terminal reports whether no further moves are permitted.
func (s Status) Terminal() bool {
	return s >= Checkmate
}

// IsDraw reports whether the status is any kind of draw.
func (s Status) IsDraw() bool {
	return s >= Stalemate
}

// MoveRequest is a candidate move from the board.
type MoveRequest struct {
	From      string
	To        string
	Promotion PieceType
}

// AppliedMove is a move accepted by the engine together with the facts
// derived while applying it.
type AppliedMove struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Promotion PieceType `json:"promotion,omitempty"`
	UCI       string    `json:"uci"`
	SAN       string    `json:"san"`
	Piece     Piece     `json:"piece"`
	Captured  Piece     `json:"captured,omitempty"`
	Color     Color     `json:"color"`
	Check     bool      `json:"check"`
}
