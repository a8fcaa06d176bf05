package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/walterschell/jaquemate/board"
	"github.com/walterschell/jaquemate/game"
	"github.com/walterschell/jaquemate/logx"
	"github.com/walterschell/jaquemate/rules"
	"github.com/walterschell/jaquemate/session"
)

const writeWait = 10 * time.Second

// envelope is the websocket message frame in both directions.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type movePayload struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Piece string `json:"piece"`
}

type dropPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Verdict string `json:"verdict"`
}

type promotionPayload struct {
	Piece string `json:"piece"`
}

type loadPayload struct {
	FEN      string `json:"fen"`
	PGN      string `json:"pgn"`
	Fragment string `json:"fragment"`
}

type positionPayload struct {
	FEN         string       `json:"fen"`
	Turn        rules.Color  `json:"turn"`
	Orientation string       `json:"orientation"`
	Grid        [8][8]string `json:"grid"`
	Files       [8]string    `json:"files"`
	Ranks       [8]string    `json:"ranks"`
}

type historyPayload struct {
	Moves      []string          `json:"moves"`
	WhiteFirst bool              `json:"whiteFirst"`
	Rows       []game.HistoryRow `json:"rows"`
	Link       string            `json:"link"`
}

type promotionRequestPayload struct {
	From    string      `json:"from"`
	To      string      `json:"to"`
	Color   rules.Color `json:"color"`
	Options []string    `json:"options"`
}

type gameOverPayload struct {
	Result string `json:"result"`
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason"`
}

type persistedPayload struct {
	ID    int64  `json:"id,omitempty"`
	Move  string `json:"move"`
	Error string `json:"error,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Client is one websocket connection driving its own board.
type Client struct {
	id          string
	conn        *websocket.Conn
	application *Application
	writeLock   sync.Mutex
	coord       *game.Coordinator
	view        *board.View
	log         zerolog.Logger

	sessLock sync.Mutex
	sess     session.Session
}

func newClient(app *Application, conn *websocket.Conn, s session.Session) *Client {
	c := &Client{
		id:          uuid.NewString(),
		conn:        conn,
		application: app,
		sess:        s,
	}
	c.log = logx.Component("client").With().Str("client", c.id).Logger()
	c.coord = game.NewCoordinator(
		game.WithRecorder(app.api),
		game.WithSession(s),
		game.WithPersistTimeout(app.cfg.PersistTimeout),
		game.WithContext(app.ctx),
		game.WithLogger(c.log),
	)
	c.view = board.NewView(c.coord, board.RendererFunc(c.render), board.WithLogger(c.log))
	c.coord.Subscribe(c.view.OnEvent)
	c.coord.Subscribe(c.onEvent)
	return c
}

// start pushes the initial position, restored from fen/pgn when given.
func (c *Client) start(fen, pgn string) {
	if fen == "" && pgn == "" {
		c.coord.Refresh()
		return
	}
	branch := c.coord.LoadExternalPosition(fen, pgn)
	c.log.Info().Stringer("branch", branch).Msg("restored game")
}

func (c *Client) readLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("error reading message")
			}
			return
		}
		var msg envelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug().Err(err).Msg("error parsing message")
			c.send("error", errorPayload{Message: "malformed message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg envelope) {
	switch msg.Type {
	case "move":
		var p movePayload
		if !c.decode(msg, &p) {
			return
		}
		verdict := c.view.Drop(p.From, p.To, p.Piece)
		c.send("drop", dropPayload{From: p.From, To: p.To, Verdict: verdict.String()})
	case "promotion":
		var p promotionPayload
		if !c.decode(msg, &p) {
			return
		}
		if err := c.coord.Resolver().Choose(p.Piece); err != nil {
			c.send("error", errorPayload{Message: err.Error()})
		}
	case "promotionCancel":
		c.coord.Resolver().Cancel()
	case "reset":
		c.coord.ResetGame()
	case "load":
		var p loadPayload
		if !c.decode(msg, &p) {
			return
		}
		if p.Fragment != "" {
			c.coord.LoadDeepLink(p.Fragment)
		} else {
			c.coord.LoadExternalPosition(p.FEN, p.PGN)
		}
	case "flip":
		c.view.Flip()
	default:
		c.send("error", errorPayload{Message: "unknown message type " + msg.Type})
	}
}

func (c *Client) decode(msg envelope, v any) bool {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		c.send("error", errorPayload{Message: "malformed " + msg.Type + " payload"})
		return false
	}
	return true
}

func (c *Client) render(fr board.Frame) {
	p := positionPayload{
		FEN:         fr.FEN,
		Turn:        fr.Turn,
		Orientation: string(fr.Orientation),
		Files:       fr.Files,
		Ranks:       fr.Ranks,
	}
	for r := range fr.Grid {
		for f := range fr.Grid[r] {
			p.Grid[r][f] = fr.Grid[r][f].Code()
		}
	}
	c.send("position", p)
}

func (c *Client) onEvent(e game.Event) {
	switch e := e.(type) {
	case game.HistoryChanged:
		c.send("history", historyPayload{
			Moves:      e.History.UCI(),
			WhiteFirst: e.History.WhiteFirst(),
			Rows:       e.History.Rows(),
			Link:       c.coord.External().Encode(),
		})
	case game.PromotionRequested:
		c.send("promotion", promotionRequestPayload{
			From:    e.Pending.From,
			To:      e.Pending.To,
			Color:   e.Pending.Color,
			Options: e.Options,
		})
	case game.PromotionResolved:
		c.send("promotionResolved", e.Move)
	case game.PromotionCancelled:
		c.send("promotionCancelled", nil)
	case game.GameOver:
		c.send("gameOver", gameOverPayload{Result: string(e.Result), Winner: e.Winner.Name(), Reason: e.Reason})
	case game.CheckIndicated:
		c.send("check", map[string]string{"color": e.Color.Name()})
	case game.PersistenceSettled:
		p := persistedPayload{Move: e.Move.UCI}
		if e.Err != nil {
			p.Error = e.Err.Error()
		} else if e.Record != nil {
			p.ID = e.Record.ID
		}
		c.send("persisted", p)
	case game.GameReset:
		c.send("reset", nil)
	}
}

func (c *Client) send(typ string, payload any) {
	msg := envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.log.Error().Err(err).Str("type", typ).Msg("encoding message")
			return
		}
		msg.Payload = raw
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.log.Debug().Err(err).Str("type", typ).Msg("error writing message")
	}
}

func (c *Client) sessionID() string {
	c.sessLock.Lock()
	defer c.sessLock.Unlock()
	return c.sess.ID
}

func (c *Client) setSession(s session.Session) {
	c.sessLock.Lock()
	c.sess = s
	c.sessLock.Unlock()
	c.coord.SetSession(s)
}

// close waits for pending saves so no move of this board is lost, then
// closes the connection.
func (c *Client) close() {
	c.coord.Wait()
	c.conn.Close()
	c.log.Info().Msg("websocket connection closed")
}
