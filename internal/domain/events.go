package domain

import (
	"context"
	"fmt"
)

// EventKind is the wire discriminator of a batch entry.
type EventKind string

const (
	KindCreateGame EventKind = "create_game"
	KindPlayMove   EventKind = "play_move"
	KindResignGame EventKind = "resign_game"
	KindCancelGame EventKind = "cancel_game"
)

// EventHandler must handle every event kind; adding a kind breaks every implementation
// until it is handled.
type EventHandler interface {
	CreateGame(ctx context.Context, ev CreateGameEvent) error
	PlayMove(ctx context.Context, ev PlayMoveEvent) error
	ResignGame(ctx context.Context, ev ResignGameEvent) error
	CancelGame(ctx context.Context, ev CancelGameEvent) error
}

// Event is the closed set of mutating events. Only types in this package implement it.
type Event interface {
	Kind() EventKind
	Game() GameID
	Validate() error
	Accept(ctx context.Context, h EventHandler) error
	isEvent()
}

type CreateGameEvent struct {
	GameID GameID `json:"game_id"`
	White  Player `json:"white"`
	Black  Player `json:"black"`
	Board  Board  `json:"board"`
}

type PlayMoveEvent struct {
	GameID  GameID       `json:"game_id"`
	Color   Color        `json:"color"`
	Mv      string       `json:"mv"`
	Board   Board        `json:"board"`
	Outcome *GameOutcome `json:"outcome,omitempty"`
}

type ResignGameEvent struct {
	GameID   GameID      `json:"game_id"`
	Resigner Color       `json:"resigner"`
	Outcome  GameOutcome `json:"outcome"`
}

type CancelGameEvent struct {
	GameID      GameID `json:"game_id"`
	CancelledBy string `json:"cancelled_by"`
}

func (CreateGameEvent) Kind() EventKind { return KindCreateGame }
func (PlayMoveEvent) Kind() EventKind   { return KindPlayMove }
func (ResignGameEvent) Kind() EventKind { return KindResignGame }
func (CancelGameEvent) Kind() EventKind { return KindCancelGame }

func (e CreateGameEvent) Game() GameID { return e.GameID }
func (e PlayMoveEvent) Game() GameID   { return e.GameID }
func (e ResignGameEvent) Game() GameID { return e.GameID }
func (e CancelGameEvent) Game() GameID { return e.GameID }

func (e CreateGameEvent) Accept(ctx context.Context, h EventHandler) error { return h.CreateGame(ctx, e) }
func (e PlayMoveEvent) Accept(ctx context.Context, h EventHandler) error   { return h.PlayMove(ctx, e) }
func (e ResignGameEvent) Accept(ctx context.Context, h EventHandler) error { return h.ResignGame(ctx, e) }
func (e CancelGameEvent) Accept(ctx context.Context, h EventHandler) error { return h.CancelGame(ctx, e) }

func (CreateGameEvent) isEvent() {}
func (PlayMoveEvent) isEvent()   {}
func (ResignGameEvent) isEvent() {}
func (CancelGameEvent) isEvent() {}

func (e CreateGameEvent) Validate() error {
	if err := e.White.Validate(); err != nil {
		return fmt.Errorf("white: %w", err)
	}
	if err := e.Black.Validate(); err != nil {
		return fmt.Errorf("black: %w", err)
	}
	return nil
}

func (e PlayMoveEvent) Validate() error {
	if !e.Color.Valid() {
		return fmt.Errorf("%w: unknown color %q", ErrInvalidEvent, e.Color)
	}
	if e.Outcome != nil {
		return e.Outcome.Validate()
	}
	return nil
}

// Validate also enforces that a resignation is a victory for the other side.
func (e ResignGameEvent) Validate() error {
	if !e.Resigner.Valid() {
		return fmt.Errorf("%w: unknown resigner color %q", ErrInvalidEvent, e.Resigner)
	}
	if err := e.Outcome.Validate(); err != nil {
		return err
	}
	if e.Outcome != Victory(e.Resigner.Opponent()) {
		return fmt.Errorf("%w: resignation by %s must be a victory for %s", ErrInvalidEvent, e.Resigner, e.Resigner.Opponent())
	}
	return nil
}

// CancelGameEvent carries no constraint beyond its decoded shape.
func (CancelGameEvent) Validate() error { return nil }
