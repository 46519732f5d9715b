package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidEvent  = errors.New("invalid event")
)

// Move is one applied move with the board it produced. Immutable once recorded.
type Move struct {
	Color   Color        `json:"color"`
	Mv      string       `json:"mv"`
	Board   Board        `json:"board"`
	Outcome *GameOutcome `json:"outcome,omitempty"`
}

// Game is the read model of a single game.
type Game struct {
	ID       GameID       `json:"game_id"`
	White    Player       `json:"white"`
	Black    Player       `json:"black"`
	Board    Board        `json:"board"`
	Moves    []Move       `json:"moves"`
	Outcome  *GameOutcome `json:"outcome,omitempty"`
	Resigner *Color       `json:"resigner,omitempty"`

	// set on copies whose moves were dropped
	summary *movesSummary
}

type movesSummary struct {
	count int
	turn  Color
}

func (g *Game) Finished() bool { return g != nil && g.Outcome != nil }

// Turn is the color expected to move next.
func (g *Game) Turn() Color {
	if g == nil {
		return White
	}
	if g.summary != nil {
		return g.summary.turn
	}
	if len(g.Moves) == 0 {
		return White
	}
	return g.Moves[len(g.Moves)-1].Color.Opponent()
}

// MoveCount counts applied moves, including on a copy made by WithoutMoves.
func (g *Game) MoveCount() int {
	if g == nil {
		return 0
	}
	if g.summary != nil {
		return g.summary.count
	}
	return len(g.Moves)
}

// WithoutMoves returns a copy with Moves dropped. Turn and MoveCount still report the full game.
func (g *Game) WithoutMoves() *Game {
	if g == nil {
		return nil
	}
	c := g.Clone()
	c.summary = &movesSummary{count: g.MoveCount(), turn: g.Turn()}
	c.Moves = nil
	return c
}

// HumanAccounts lists the distinct human participants, white first.
func (g *Game) HumanAccounts() []string {
	var out []string
	for _, p := range []Player{g.White, g.Black} {
		if !p.IsHuman() {
			continue
		}
		if len(out) == 1 && out[0] == p.AccountID {
			continue
		}
		out = append(out, p.AccountID)
	}
	return out
}

// Clone returns a deep copy. Stored games are replaced, never mutated in place.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	c.Moves = make([]Move, len(g.Moves))
	for i, mv := range g.Moves {
		c.Moves[i] = mv
		if mv.Outcome != nil {
			o := *mv.Outcome
			c.Moves[i].Outcome = &o
		}
	}
	if g.Outcome != nil {
		o := *g.Outcome
		c.Outcome = &o
	}
	if g.Resigner != nil {
		r := *g.Resigner
		c.Resigner = &r
	}
	return &c
}

// Account holds derived per-account data.
type Account struct {
	AccountID       string   `json:"accountId"`
	FinishedGameIDs []GameID `json:"finishedGameIds"`
}

func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	return &Account{
		AccountID:       a.AccountID,
		FinishedGameIDs: append([]GameID{}, a.FinishedGameIDs...),
	}
}

// Info is the ingestion progress marker.
type Info struct {
	LastBlockHeight uint64 `json:"lastBlockHeight"`
}
