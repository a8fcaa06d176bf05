package game

import (
	"net/url"
	"strings"
)

// DeepLink carries the position parameters of a shared game link.
type DeepLink struct {
	FEN string `json:"fen,omitempty"`
	PGN string `json:"pgn,omitempty"`
}

func (d DeepLink) Empty() bool { return d.FEN == "" && d.PGN == "" }

// ParseDeepLink reads fen and pgn from a fragment such as
// "#game?fen=...&pgn=...". A leading "#" and route are optional; values are
// percent-decoded.
func ParseDeepLink(fragment string) (DeepLink, error) {
	fragment = strings.TrimPrefix(strings.TrimSpace(fragment), "#")
	if i := strings.IndexByte(fragment, '?'); i >= 0 {
		fragment = fragment[i+1:]
	} else if !strings.Contains(fragment, "=") {
		return DeepLink{}, nil
	}
	q, err := url.ParseQuery(fragment)
	if err != nil {
		return DeepLink{}, err
	}
	return DeepLink{FEN: strings.TrimSpace(q.Get("fen")), PGN: strings.TrimSpace(q.Get("pgn"))}, nil
}

// Encode renders the link as a fragment accepted by ParseDeepLink.
func (d DeepLink) Encode() string {
	q := url.Values{}
	if d.FEN != "" {
		q.Set("fen", d.FEN)
	}
	if d.PGN != "" {
		q.Set("pgn", d.PGN)
	}
	if len(q) == 0 {
		return "#game"
	}
	return "#game?" + q.Encode()
}

// LoadDeepLink restores the game described by fragment, or resets when it
// carries no parameters. A fragment that cannot be decoded also resets.
func (c *Coordinator) LoadDeepLink(fragment string) LoadBranch {
	link, err := ParseDeepLink(fragment)
	if err != nil {
		c.log.Warn().Err(err).Str("fragment", fragment).Msg("malformed deep link")
	}
	if link.Empty() {
		c.ResetGame()
		return BranchStart
	}
	return c.LoadExternalPosition(link.FEN, link.PGN)
}
