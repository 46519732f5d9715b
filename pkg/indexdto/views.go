package indexdto

import (
	"github.com/park285/chess-indexer/internal/domain"
)

// GameView is a Game as served by the read API. Moves is omitted from listings without moves.
type GameView struct {
	GameID   domain.GameID       `json:"game_id"`
	White    domain.Player       `json:"white"`
	Black    domain.Player       `json:"black"`
	Board    domain.Board        `json:"board"`
	Moves    *[]domain.Move      `json:"moves,omitempty"`
	Outcome  *domain.GameOutcome `json:"outcome,omitempty"`
	Resigner *domain.Color       `json:"resigner,omitempty"`
	Turn     domain.Color        `json:"turn"`
	FEN      string              `json:"fen,omitempty"`
	Count    int                 `json:"move_count"`
}

type AccountView struct {
	AccountID       string          `json:"accountId"`
	FinishedGameIDs []domain.GameID `json:"finishedGameIds"`
}

type InfoView struct {
	LastBlockHeight uint64 `json:"lastBlockHeight"`
}

// NewGameView projects g. A board that cannot be expressed as FEN leaves FEN empty.
func NewGameView(g *domain.Game, includeMoves bool) GameView {
	v := GameView{
		GameID:   g.ID,
		White:    g.White,
		Black:    g.Black,
		Board:    g.Board,
		Outcome:  g.Outcome,
		Resigner: g.Resigner,
		Turn:     g.Turn(),
		Count:    g.MoveCount(),
	}
	if includeMoves {
		moves := g.Moves
		if moves == nil {
			moves = []domain.Move{}
		}
		v.Moves = &moves
	}
	if fen, err := g.Board.FEN(v.Turn); err == nil {
		v.FEN = fen
	}
	return v
}

func NewGameViews(gs []*domain.Game, includeMoves bool) []GameView {
	out := make([]GameView, 0, len(gs))
	for _, g := range gs {
		out = append(out, NewGameView(g, includeMoves))
	}
	return out
}

func NewAccountView(a *domain.Account) AccountView {
	ids := a.FinishedGameIDs
	if ids == nil {
		ids = []domain.GameID{}
	}
	return AccountView{AccountID: a.AccountID, FinishedGameIDs: ids}
}
