package rules

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPosition       = errors.New("invalid position")
	ErrInvalidMoveList       = errors.New("invalid move list")
	ErrIllegalMove           = errors.New("illegal move")
	ErrInvalidPromotionPiece = errors.New("invalid promotion piece")
)

// ErrPromotionRequired is returned when a pawn reaches the last rank but no
// promotion piece was supplied. It also matches ErrIllegalMove.
var ErrPromotionRequired = fmt.Errorf("%w: promotion piece required", ErrIllegalMove)
