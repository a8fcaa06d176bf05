package apiserver

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/walterschell/jaquemate/persistence"
)

var (
	ErrUsernameTaken = errors.New("username already taken")
	ErrEmailTaken    = errors.New("email already registered")
	ErrUserNotFound  = errors.New("user not found")
	ErrMoveNotFound  = errors.New("move not found")
	ErrUnknownSort   = errors.New("unknown sort field")
)

type userRow struct {
	persistence.User
	hash []byte
}

// Store is the in-memory repository behind the API.
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	users    map[int64]*userRow
	moves    map[int64]persistence.MoveRecord
	nextUser int64
	nextMove int64
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:   now,
		users: make(map[int64]*userRow),
		moves: make(map[int64]persistence.MoveRecord),
	}
}

func hashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

func (s *Store) findUser(match func(*userRow) bool) *userRow {
	for _, u := range s.users {
		if match(u) {
			return u
		}
	}
	return nil
}

func (s *Store) CreateUser(reg persistence.Registration) (persistence.User, error) {
	hash, err := hashPassword(reg.Password)
	if err != nil {
		return persistence.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findUser(func(u *userRow) bool { return u.Usuario == reg.Usuario }) != nil {
		return persistence.User{}, ErrUsernameTaken
	}
	if s.findUser(func(u *userRow) bool { return strings.EqualFold(u.Email, reg.Email) }) != nil {
		return persistence.User{}, ErrEmailTaken
	}
	s.nextUser++
	row := &userRow{
		User: persistence.User{
			ID:      s.nextUser,
			Usuario: reg.Usuario,
			Email:   reg.Email,
			Creado:  s.now(),
		},
		hash: hash,
	}
	s.users[row.ID] = row
	return row.User, nil
}

// Authenticate returns the user when the credentials match.
func (s *Store) Authenticate(creds persistence.Credentials) (persistence.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.findUser(func(u *userRow) bool { return u.Usuario == creds.Usuario })
	if u == nil {
		return persistence.User{}, false
	}
	if bcrypt.CompareHashAndPassword(u.hash, []byte(creds.Password)) != nil {
		return persistence.User{}, false
	}
	return u.User, true
}

func (s *Store) UserByID(id int64) (persistence.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		return u.User, true
	}
	return persistence.User{}, false
}

func (s *Store) UserByUsername(name string) (persistence.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u := s.findUser(func(u *userRow) bool { return u.Usuario == name }); u != nil {
		return u.User, true
	}
	return persistence.User{}, false
}

func (s *Store) UserByEmail(email string) (persistence.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u := s.findUser(func(u *userRow) bool { return strings.EqualFold(u.Email, email) }); u != nil {
		return u.User, true
	}
	return persistence.User{}, false
}

func (s *Store) UpdateUser(id int64, upd persistence.ProfileUpdate) (persistence.User, error) {
	var hash []byte
	if upd.Password != "" {
		var err error
		if hash, err = hashPassword(upd.Password); err != nil {
			return persistence.User{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.users[id]
	if !ok {
		return persistence.User{}, ErrUserNotFound
	}
	if upd.Usuario != "" && upd.Usuario != row.Usuario {
		if s.findUser(func(u *userRow) bool { return u.Usuario == upd.Usuario }) != nil {
			return persistence.User{}, ErrUsernameTaken
		}
		row.Usuario = upd.Usuario
	}
	if hash != nil {
		row.hash = hash
	}
	return row.User, nil
}

func (s *Store) CreateMove(m persistence.NewMove) (persistence.MoveRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[m.UsuarioID]; !ok {
		return persistence.MoveRecord{}, ErrUserNotFound
	}
	s.nextMove++
	rec := persistence.MoveRecord{
		ID:          s.nextMove,
		UsuarioID:   m.UsuarioID,
		MoveSan:     m.MoveSan,
		MoveUciFrom: m.MoveUciFrom,
		MoveUciTo:   m.MoveUciTo,
		Fen:         m.Fen,
		Pgn:         m.Pgn,
		CreatedAt:   s.now(),
	}
	s.moves[rec.ID] = rec
	return rec, nil
}

func (s *Store) Move(id int64) (persistence.MoveRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.moves[id]
	return rec, ok
}

func (s *Store) DeleteMove(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.moves[id]; !ok {
		return ErrMoveNotFound
	}
	delete(s.moves, id)
	return nil
}

func (s *Store) summary(rec persistence.MoveRecord) persistence.MoveSummary {
	sum := persistence.MoveSummary{
		ID:        rec.ID,
		Fen:       rec.Fen,
		MoveSan:   rec.MoveSan,
		CreatedAt: rec.CreatedAt,
	}
	if rec.MoveUciFrom != "" && rec.MoveUciTo != "" {
		sum.MoveUci = rec.MoveUciFrom + rec.MoveUciTo
	}
	if u, ok := s.users[rec.UsuarioID]; ok {
		sum.UsuarioNombre = u.Usuario
	}
	return sum
}

// SortKey orders a listing by one field.
type SortKey struct {
	Field string
	Desc  bool
}

var sortFields = map[string]func(a, b persistence.MoveSummary) int{
	"id":            func(a, b persistence.MoveSummary) int { return compare(a.ID, b.ID) },
	"createdAt":     func(a, b persistence.MoveSummary) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"moveSan":       func(a, b persistence.MoveSummary) int { return strings.Compare(a.MoveSan, b.MoveSan) },
	"fen":           func(a, b persistence.MoveSummary) int { return strings.Compare(a.Fen, b.Fen) },
	"usuarioNombre": func(a, b persistence.MoveSummary) int { return strings.Compare(a.UsuarioNombre, b.UsuarioNombre) },
}

func compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ParseSort accepts either "field,dir" entries or a single field followed by
// a direction as separate values.
func ParseSort(values []string) ([]SortKey, error) {
	if len(values) == 0 {
		values = []string{persistence.DefaultSort}
	}
	if len(values) == 2 && !strings.Contains(values[0], ",") && isDirection(values[1]) {
		values = []string{values[0] + "," + values[1]}
	}
	keys := make([]SortKey, 0, len(values))
	for _, v := range values {
		field, dir, _ := strings.Cut(v, ",")
		if _, ok := sortFields[field]; !ok {
			return nil, ErrUnknownSort
		}
		keys = append(keys, SortKey{Field: field, Desc: strings.EqualFold(dir, "desc")})
	}
	return keys, nil
}

func isDirection(s string) bool {
	return strings.EqualFold(s, "asc") || strings.EqualFold(s, "desc")
}

// ListMoves returns one page of the moves accepted by filter. A nil filter
// accepts everything.
func (s *Store) ListMoves(filter func(persistence.MoveRecord, persistence.MoveSummary) bool, keys []SortKey, page, size int) persistence.Page[persistence.MoveSummary] {
	s.mu.RLock()
	all := make([]persistence.MoveSummary, 0, len(s.moves))
	for _, rec := range s.moves {
		sum := s.summary(rec)
		if filter == nil || filter(rec, sum) {
			all = append(all, sum)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		for _, k := range keys {
			c := sortFields[k.Field](all[i], all[j])
			if k.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return all[i].ID < all[j].ID
	})

	if size <= 0 {
		size = persistence.DefaultPageSize
	}
	page = max(page, 0)
	total := len(all)
	out := persistence.Page[persistence.MoveSummary]{
		Number:        page,
		Size:          size,
		TotalElements: int64(total),
		TotalPages:    (total + size - 1) / size,
		Content:       []persistence.MoveSummary{},
	}
	if start := page * size; start < total {
		out.Content = all[start:min(start+size, total)]
	}
	return out
}
