package rules

import (
	"fmt"
	"regexp"
	"strings"

	chess "github.com/corentings/chess/v2"
)

var (
	headerRe     = regexp.MustCompile(`\[\s*(\w+)\s+"((?:[^"\\]|\\.)*)"\s*\]`)
	moveNumberRe = regexp.MustCompile(`^\d+\.+`)
	annotationRe = regexp.MustCompile(`[+#!?]+$`)
)

var results = map[string]bool{"1-0": true, "0-1": true, "1/2-1/2": true, "*": true}

// LoadMoveList replays a PGN movetext from the standard initial position,
// or from the position named by a [FEN "..."] header. Tokens may be SAN or
// UCI. Any token that is not a legal move fails the whole load.
func (e *Engine) LoadMoveList(text string) (Position, []AppliedMove, error) {
	root, tokens, err := tokenizeMoveList(text)
	if err != nil {
		return Position{}, nil, fmt.Errorf("%w: %v", ErrInvalidMoveList, err)
	}
	pos := e.StartingPosition()
	if root != "" {
		pos, err = e.Load(root)
		if err != nil {
			return Position{}, nil, fmt.Errorf("%w: %v", ErrInvalidMoveList, err)
		}
	}
	if len(tokens) == 0 {
		return Position{}, nil, fmt.Errorf("%w: no moves", ErrInvalidMoveList)
	}

	game, err := pos.take()
	if err != nil {
		return Position{}, nil, fmt.Errorf("%w: %v", ErrInvalidMoveList, err)
	}
	line := make([]AppliedMove, 0, len(tokens))
	for i, token := range tokens {
		cur := game.Position()
		move := matchToken(cur, token)
		if move == nil {
			return Position{}, nil, fmt.Errorf("%w: move %d %q is not legal in %s", ErrInvalidMoveList, i+1, token, cur.String())
		}
		applied := describe(cur, move)
		if err := game.PushMove(applied.SAN, &chess.PushMoveOptions{ForceMainline: true}); err != nil {
			return Position{}, nil, fmt.Errorf("%w: move %d %q: %v", ErrInvalidMoveList, i+1, token, err)
		}
		line = append(line, applied)
	}
	e.log.Debug().Int("moves", len(line)).Str("root", pos.root).Msg("move list loaded")
	return newPosition(pos.root, line, game), append([]AppliedMove(nil), line...), nil
}

func tokenizeMoveList(text string) (root string, tokens []string, err error) {
	for _, m := range headerRe.FindAllStringSubmatch(text, -1) {
		if strings.EqualFold(m[1], "FEN") {
			root = m[2]
		}
	}
	text = headerRe.ReplaceAllString(text, " ")

	var b strings.Builder
	depth := 0
	inComment := false
	inLineComment := false
	for _, r := range text {
		switch {
		case inLineComment:
			if r == '\n' {
				inLineComment = false
				b.WriteRune(' ')
			}
		case inComment:
			if r == '}' {
				inComment = false
			}
		case r == '{':
			inComment = true
		case r == ';':
			inLineComment = true
		case r == '(':
			depth++
		case r == ')':
			if depth == 0 {
				return "", nil, fmt.Errorf("unbalanced variation")
			}
			depth--
		case depth > 0:
		default:
			b.WriteRune(r)
		}
	}
	if inComment || depth > 0 {
		return "", nil, fmt.Errorf("unterminated comment or variation")
	}

	for _, field := range strings.Fields(b.String()) {
		field = moveNumberRe.ReplaceAllString(field, "")
		if field == "" || results[field] || strings.HasPrefix(field, "$") {
			continue
		}
		tokens = append(tokens, field)
	}
	return root, tokens, nil
}

// matchToken finds the legal move a SAN or UCI token denotes.
func matchToken(pos *chess.Position, token string) *chess.Move {
	want := normalizeSAN(token)
	uci := strings.ToLower(token)
	valid := pos.ValidMoves()
	for i := range valid {
		m := &valid[i]
		if normalizeSAN(moveToSan(pos, m)) == want || moveToUci(pos, m) == uci {
			return m
		}
	}
	return nil
}

func normalizeSAN(s string) string {
	s = annotationRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "0-0-0", "O-O-O")
	s = strings.ReplaceAll(s, "0-0", "O-O")
	return strings.ReplaceAll(s, "=", "")
}

// SerializeMoveList writes the moves that produced pos as PGN movetext.
// Positions that did not start from the standard setup get SetUp and FEN
// headers so LoadMoveList can reproduce them.
func (e *Engine) SerializeMoveList(pos Position) string {
	pos = pos.orStart()
	var b strings.Builder
	if pos.root != StartFEN {
		fmt.Fprintf(&b, "[SetUp \"1\"]\n[FEN \"%s\"]\n\n", pos.root)
	}
	rootFields := strings.Fields(pos.root)
	number := 1
	fmt.Sscan(rootFields[5], &number)
	whiteToMove := rootFields[1] == "w"

	parts := make([]string, 0, len(pos.line)*2)
	for i, m := range pos.line {
		switch {
		case whiteToMove:
			parts = append(parts, fmt.Sprintf("%d.", number))
		case i == 0:
			parts = append(parts, fmt.Sprintf("%d...", number))
		}
		parts = append(parts, m.SAN)
		if !whiteToMove {
			number++
		}
		whiteToMove = !whiteToMove
	}
	b.WriteString(strings.Join(parts, " "))
	return b.String()
}
