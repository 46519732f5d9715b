package domain

import (
	"fmt"

	nchess "github.com/corentings/chess/v2"
)

var fenPieces = map[byte]nchess.Piece{
	'K': nchess.WhiteKing, 'Q': nchess.WhiteQueen, 'R': nchess.WhiteRook,
	'B': nchess.WhiteBishop, 'N': nchess.WhiteKnight, 'P': nchess.WhitePawn,
	'k': nchess.BlackKing, 'q': nchess.BlackQueen, 'r': nchess.BlackRook,
	'b': nchess.BlackBishop, 'n': nchess.BlackKnight, 'p': nchess.BlackPawn,
}

// FEN projects the board into a FEN string with turn as the side to move.
// Castling, en passant and clocks are not tracked by the feed and are emitted as "- - 0 1".
func (b Board) FEN(turn Color) (string, error) {
	squares := make(map[nchess.Square]nchess.Piece, 32)
	for rank, row := range b {
		if len(row) != 8 {
			return "", fmt.Errorf("%w: rank %d has %d squares", ErrInvalidEvent, rank+1, len(row))
		}
		for file := 0; file < len(row); file++ {
			c := row[file]
			if c == ' ' || c == '.' {
				continue
			}
			p, ok := fenPieces[c]
			if !ok {
				return "", fmt.Errorf("%w: unknown piece %q", ErrInvalidEvent, c)
			}
			squares[nchess.NewSquare(nchess.File(file), nchess.Rank(rank))] = p
		}
	}

	side := "w"
	if turn == Black {
		side = "b"
	}
	fen := nchess.NewBoard(squares).String() + " " + side + " - - 0 1"

	// 라이브러리 파서로 포지션 검증
	opt, err := nchess.FEN(fen)
	if err != nil {
		return "", fmt.Errorf("%w: fen: %v", ErrInvalidEvent, err)
	}
	return nchess.NewGame(opt).Position().String(), nil
}
