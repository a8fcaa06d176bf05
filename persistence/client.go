package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/walterschell/jaquemate/logx"
)

const maxErrorBody = 4096

// Client talks to the moves REST API. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient returns a client for the API rooted at baseURL, for example
// "http://localhost:8090/api/v1".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     logx.Component("persistence"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw, err = io.ReadAll(resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	herr := &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}

	var fields map[string]string
	if json.Unmarshal(raw, &fields) == nil && len(fields) > 0 {
		if msg, ok := fields["message"]; ok {
			herr.Body = msg
		} else if msg, ok := fields["error"]; ok {
			herr.Body = msg
		} else {
			herr.Fields = fields
		}
	}
	return herr
}

func (r PageRequest) values() url.Values {
	v := url.Values{}
	size := r.Size
	if size <= 0 {
		size = DefaultPageSize
	}
	v.Set("page", strconv.Itoa(max(r.Page, 0)))
	v.Set("size", strconv.Itoa(size))
	sorts := r.Sort
	if len(sorts) == 0 {
		sorts = []string{DefaultSort}
	}
	for _, s := range sorts {
		v.Add("sort", s)
	}
	return v
}

// Register creates an account. A taken username or email fails with an
// error matching ErrConflict.
func (c *Client) Register(ctx context.Context, reg Registration) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodPost, "/usuarios/registro", nil, reg, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Login checks credentials. Wrong credentials fail with an error matching
// ErrCredentialsInvalid.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResponse, error) {
	var lr LoginResponse
	if err := c.do(ctx, http.MethodPost, "/usuarios/login", nil, creds, &lr); err != nil {
		return nil, err
	}
	return &lr, nil
}

func (c *Client) User(ctx context.Context, id int64) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/usuarios/"+strconv.FormatInt(id, 10), nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) UserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/usuarios/perfil/"+url.PathEscape(username), nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) UserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/usuarios/email/"+url.PathEscape(email), nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) exists(ctx context.Context, kind, value string) (bool, error) {
	var out struct {
		Existe bool `json:"existe"`
	}
	if err := c.do(ctx, http.MethodGet, "/usuarios/existe/"+kind+"/"+url.PathEscape(value), nil, nil, &out); err != nil {
		return false, err
	}
	return out.Existe, nil
}

func (c *Client) UsernameExists(ctx context.Context, username string) (bool, error) {
	return c.exists(ctx, "usuario", username)
}

func (c *Client) EmailExists(ctx context.Context, email string) (bool, error) {
	return c.exists(ctx, "email", email)
}

func (c *Client) UpdateProfile(ctx context.Context, id int64, upd ProfileUpdate) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodPut, "/usuarios/perfil/"+strconv.FormatInt(id, 10), nil, upd, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateMove persists one applied move.
func (c *Client) CreateMove(ctx context.Context, m NewMove) (*MoveRecord, error) {
	var rec MoveRecord
	if err := c.do(ctx, http.MethodPost, "/jugadas", nil, m, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) Move(ctx context.Context, id int64) (*MoveRecord, error) {
	var rec MoveRecord
	if err := c.do(ctx, http.MethodGet, "/jugadas/"+strconv.FormatInt(id, 10), nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) DeleteMove(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/jugadas/"+strconv.FormatInt(id, 10), nil, nil, nil)
}

func (c *Client) listMoves(ctx context.Context, path string, req PageRequest) (*Page[MoveSummary], error) {
	var page Page[MoveSummary]
	if err := c.do(ctx, http.MethodGet, path, req.values(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Moves lists all moves, newest first unless req says otherwise.
func (c *Client) Moves(ctx context.Context, req PageRequest) (*Page[MoveSummary], error) {
	return c.listMoves(ctx, "/jugadas", req)
}

func (c *Client) MovesByUser(ctx context.Context, userID int64, req PageRequest) (*Page[MoveSummary], error) {
	return c.listMoves(ctx, "/jugadas/usuario/"+strconv.FormatInt(userID, 10), req)
}

// MovesByPlayer lists moves of players whose name contains name.
func (c *Client) MovesByPlayer(ctx context.Context, name string, req PageRequest) (*Page[MoveSummary], error) {
	return c.listMoves(ctx, "/jugadas/jugador/"+url.PathEscape(name), req)
}

// ImportMoves stores previously parsed CSV rows for userID.
func (c *Client) ImportMoves(ctx context.Context, userID int64, entries []ImportEntry) ([]MoveRecord, error) {
	var recs []MoveRecord
	q := url.Values{"usuarioId": {strconv.FormatInt(userID, 10)}}
	if err := c.do(ctx, http.MethodPost, "/jugadas/importar/confirmar", q, entries, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// ExportCSV downloads every move as CSV.
func (c *Client) ExportCSV(ctx context.Context) ([]byte, error) {
	var raw []byte
	if err := c.do(ctx, http.MethodGet, "/jugadas/exportar/csv", nil, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
