package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "White"
	Black Color = "Black"
)

func (c Color) Valid() bool { return c == White || c == Black }

// Opponent returns the other side. Invalid colors map to themselves.
func (c Color) Opponent() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	default:
		return c
	}
}

// Difficulty is the strength of an AI opponent.
type Difficulty string

const (
	Easy   Difficulty = "Easy"
	Medium Difficulty = "Medium"
	Hard   Difficulty = "Hard"
)

func (d Difficulty) Valid() bool { return d == Easy || d == Medium || d == Hard }

// PlayerKind tags the Player union.
type PlayerKind uint8

const (
	PlayerHuman PlayerKind = iota + 1
	PlayerAI
)

// Player is either a human account or an AI of some difficulty.
// Encoded as {"Human":"alice.near"} or {"Ai":"Easy"}.
type Player struct {
	Kind       PlayerKind
	AccountID  string
	Difficulty Difficulty
}

func Human(accountID string) Player { return Player{Kind: PlayerHuman, AccountID: accountID} }

func AI(d Difficulty) Player { return Player{Kind: PlayerAI, Difficulty: d} }

func (p Player) IsHuman() bool { return p.Kind == PlayerHuman }

func (p Player) Validate() error {
	switch p.Kind {
	case PlayerHuman:
		if strings.TrimSpace(p.AccountID) == "" {
			return fmt.Errorf("%w: human player without account id", ErrInvalidEvent)
		}
	case PlayerAI:
		if !p.Difficulty.Valid() {
			return fmt.Errorf("%w: unknown ai difficulty %q", ErrInvalidEvent, p.Difficulty)
		}
	default:
		return fmt.Errorf("%w: empty player", ErrInvalidEvent)
	}
	return nil
}

func (p Player) String() string {
	if p.IsHuman() {
		return p.AccountID
	}
	return "ai:" + string(p.Difficulty)
}

func (p Player) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PlayerHuman:
		return json.Marshal(map[string]string{"Human": p.AccountID})
	case PlayerAI:
		return json.Marshal(map[string]Difficulty{"Ai": p.Difficulty})
	default:
		return nil, fmt.Errorf("marshal player: unknown kind %d", p.Kind)
	}
}

func (p *Player) UnmarshalJSON(b []byte) error {
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("%w: player: %v", ErrInvalidEvent, err)
	}
	if len(m) != 1 {
		return fmt.Errorf("%w: player must have exactly one variant", ErrInvalidEvent)
	}
	if id, ok := m["Human"]; ok {
		*p = Human(id)
		return p.Validate()
	}
	if d, ok := m["Ai"]; ok {
		*p = AI(Difficulty(d))
		return p.Validate()
	}
	return fmt.Errorf("%w: unknown player variant", ErrInvalidEvent)
}

// OutcomeKind tags the GameOutcome union.
type OutcomeKind uint8

const (
	OutcomeStalemate OutcomeKind = iota + 1
	OutcomeVictory
)

// GameOutcome is terminal: Stalemate or Victory(color).
// Encoded as "Stalemate" or {"Victory":"White"}.
type GameOutcome struct {
	Kind   OutcomeKind
	Winner Color
}

func Stalemate() GameOutcome { return GameOutcome{Kind: OutcomeStalemate} }

func Victory(c Color) GameOutcome { return GameOutcome{Kind: OutcomeVictory, Winner: c} }

func (o GameOutcome) Validate() error {
	switch o.Kind {
	case OutcomeStalemate:
		return nil
	case OutcomeVictory:
		if !o.Winner.Valid() {
			return fmt.Errorf("%w: victory for unknown color %q", ErrInvalidEvent, o.Winner)
		}
		return nil
	default:
		return fmt.Errorf("%w: empty outcome", ErrInvalidEvent)
	}
}

func (o GameOutcome) String() string {
	if o.Kind == OutcomeVictory {
		return "victory:" + strings.ToLower(string(o.Winner))
	}
	return "stalemate"
}

func (o GameOutcome) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case OutcomeStalemate:
		return []byte(`"Stalemate"`), nil
	case OutcomeVictory:
		return json.Marshal(map[string]Color{"Victory": o.Winner})
	default:
		return nil, fmt.Errorf("marshal outcome: unknown kind %d", o.Kind)
	}
}

func (o *GameOutcome) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("%w: outcome: %v", ErrInvalidEvent, err)
		}
		if s != "Stalemate" {
			return fmt.Errorf("%w: unknown outcome %q", ErrInvalidEvent, s)
		}
		*o = Stalemate()
		return nil
	}
	var m map[string]Color
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("%w: outcome: %v", ErrInvalidEvent, err)
	}
	c, ok := m["Victory"]
	if !ok || len(m) != 1 {
		return fmt.Errorf("%w: unknown outcome variant", ErrInvalidEvent)
	}
	*o = Victory(c)
	return o.Validate()
}

// Board is a full snapshot: eight ranks, rank 1 first, one byte per file ('a' first), ' ' for empty.
type Board [8]string

func (b *Board) UnmarshalJSON(raw []byte) error {
	var rows []string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("%w: board: %v", ErrInvalidEvent, err)
	}
	if len(rows) != len(b) {
		return fmt.Errorf("%w: board must have 8 rows, got %d", ErrInvalidEvent, len(rows))
	}
	copy(b[:], rows)
	return nil
}

// GameID is (creation height, creator, opponent). Opponent is empty for games against the AI.
// Encoded as the tuple [height, "creator", "opponent"|null].
type GameID struct {
	Height   uint64
	Creator  string
	Opponent string
}

func (id GameID) HasOpponent() bool { return id.Opponent != "" }

// Key is the canonical JSON form used for storage keys and chaining.
func (id GameID) Key() string {
	var sb strings.Builder
	sb.WriteByte('[')
	sb.WriteString(strconv.FormatUint(id.Height, 10))
	sb.WriteByte(',')
	sb.WriteString(strconv.Quote(id.Creator))
	sb.WriteByte(',')
	if id.HasOpponent() {
		sb.WriteString(strconv.Quote(id.Opponent))
	} else {
		sb.WriteString("null")
	}
	sb.WriteByte(']')
	return sb.String()
}

func (id GameID) String() string { return id.Key() }

func (id GameID) MarshalJSON() ([]byte, error) {
	opp := any(nil)
	if id.HasOpponent() {
		opp = id.Opponent
	}
	return json.Marshal([]any{id.Height, id.Creator, opp})
}

func (id *GameID) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("%w: game id: %v", ErrInvalidEvent, err)
	}
	if len(parts) != 3 {
		return fmt.Errorf("%w: game id must have 3 elements, got %d", ErrInvalidEvent, len(parts))
	}
	var out GameID
	if err := json.Unmarshal(parts[0], &out.Height); err != nil {
		return fmt.Errorf("%w: game id height: %v", ErrInvalidEvent, err)
	}
	if err := json.Unmarshal(parts[1], &out.Creator); err != nil {
		return fmt.Errorf("%w: game id creator: %v", ErrInvalidEvent, err)
	}
	var opp *string
	if err := json.Unmarshal(parts[2], &opp); err != nil {
		return fmt.Errorf("%w: game id opponent: %v", ErrInvalidEvent, err)
	}
	if opp != nil {
		if *opp == "" {
			return fmt.Errorf("%w: game id opponent must be null or non-empty", ErrInvalidEvent)
		}
		out.Opponent = *opp
	}
	*id = out
	return nil
}

// ParseGameID parses the tuple form, e.g. from a URL path segment.
func ParseGameID(s string) (GameID, error) {
	var id GameID
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &id); err != nil {
		return GameID{}, asInvalid(err)
	}
	return id, nil
}
