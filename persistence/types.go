package persistence

import "time"

// MoveRecord is a persisted move as returned by the API.
type MoveRecord struct {
	ID          int64     `json:"id"`
	UsuarioID   int64     `json:"usuarioId"`
	MoveSan     string    `json:"moveSan"`
	MoveUciFrom string    `json:"moveUciFrom"`
	MoveUciTo   string    `json:"moveUciTo"`
	Fen         string    `json:"fen"`
	Pgn         string    `json:"pgn"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewMove is the payload of a move creation request. Fen is the position
// after the move and Pgn the full game so far.
type NewMove struct {
	UsuarioID   int64  `json:"usuarioId"`
	Fen         string `json:"fen"`
	MoveUciFrom string `json:"moveUciFrom"`
	MoveUciTo   string `json:"moveUciTo"`
	MoveSan     string `json:"moveSan"`
	Pgn         string `json:"pgn"`
}

// MoveSummary is the listing form of a move, carrying the player name and
// the combined UCI string.
type MoveSummary struct {
	ID            int64     `json:"id"`
	UsuarioNombre string    `json:"usuarioNombre"`
	Fen           string    `json:"fen"`
	MoveUci       string    `json:"moveUci"`
	MoveSan       string    `json:"moveSan"`
	CreatedAt     time.Time `json:"createdAt"`
}

type User struct {
	ID      int64     `json:"id"`
	Usuario string    `json:"usuario"`
	Email   string    `json:"email"`
	Creado  time.Time `json:"creado"`
}

type Registration struct {
	Usuario  string `json:"usuario"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Credentials struct {
	Usuario  string `json:"usuario"`
	Password string `json:"password"`
}

// ProfileUpdate changes the username and/or password. Empty fields are left
// untouched.
type ProfileUpdate struct {
	Usuario  string `json:"usuario,omitempty"`
	Password string `json:"password,omitempty"`
}

type LoginResponse struct {
	Message string `json:"message"`
	Usuario User   `json:"usuario"`
}

// Page is one page of a listing. Number is zero based.
type Page[T any] struct {
	Number        int   `json:"number"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	Content       []T   `json:"content"`
}

const (
	DefaultPageSize = 10
	DefaultSort     = "createdAt,desc"
)

// PageRequest selects a page. Sort entries have the form "field,direction".
type PageRequest struct {
	Page int
	Size int
	Sort []string
}

// ImportEntry is one row of an imported CSV file.
type ImportEntry struct {
	Player string `json:"player"`
	Fen    string `json:"fen"`
	UCI    string `json:"uci"`
}

// ExportHeader is the header row of the CSV export.
var ExportHeader = []string{"usuario", "fen", "move_uci", "move_san", "created_at"}
