// Package checkers implements the board rules for English draughts on an 8x8
// board: move generation, move application, and outcome evaluation. Everything
// here is pure; the package does no I/O and holds no state beyond its inputs.
package checkers

import (
	"fmt"
	"strings"
)

// Color identifies a side. Red sits on rows 0-2 and moves toward row 7;
// Black sits on rows 5-7 and moves toward row 0. Red moves first.
type Color string

const (
	Red   Color = "red"
	Black Color = "black"
)

func (c Color) Opponent() Color {
	if c == Red {
		return Black
	}
	return Red
}

// Piece codes as stored on the board. Lowercase is a man, uppercase a king.
const (
	Empty     = byte('.')
	RedMan    = byte('r')
	RedKing   = byte('R')
	BlackMan  = byte('b')
	BlackKing = byte('B')
)

// Size is the board edge length.
const Size = 8

// Square addresses one cell. Row 0 is Red's back rank.
type Square struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (s Square) InBounds() bool {
	return s.Row >= 0 && s.Row < Size && s.Col >= 0 && s.Col < Size
}

// Dark reports whether the square is playable. Checkers only uses the dark
// squares; every piece lives on (row+col) odd.
func (s Square) Dark() bool { return (s.Row+s.Col)%2 == 1 }

func (s Square) String() string { return fmt.Sprintf("%d,%d", s.Row, s.Col) }

// Board is the full position, serialized row-major as a 64-rune string.
type Board [Size * Size]byte

// Initial returns the starting position: twelve men per side on dark squares.
func Initial() Board {
	var b Board
	for i := range b {
		b[i] = Empty
	}
	for row := 0; row < 3; row++ {
		for col := 0; col < Size; col++ {
			if (Square{row, col}).Dark() {
				b.set(Square{row, col}, RedMan)
			}
		}
	}
	for row := 5; row < 8; row++ {
		for col := 0; col < Size; col++ {
			if (Square{row, col}).Dark() {
				b.set(Square{row, col}, BlackMan)
			}
		}
	}
	return b
}

// Parse decodes a board previously produced by String.
func Parse(s string) (Board, error) {
	var b Board
	if len(s) != len(b) {
		return b, fmt.Errorf("board string must be %d runes, got %d", len(b), len(s))
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case Empty, RedMan, RedKing, BlackMan, BlackKing:
			b[i] = s[i]
		default:
			return b, fmt.Errorf("invalid piece %q at offset %d", s[i], i)
		}
	}
	return b, nil
}

func (b Board) String() string { return string(b[:]) }

// At returns the piece on sq, or Empty for out-of-range squares.
func (b Board) At(sq Square) byte {
	if !sq.InBounds() {
		return Empty
	}
	return b[sq.Row*Size+sq.Col]
}

func (b *Board) set(sq Square, p byte) { b[sq.Row*Size+sq.Col] = p }

// ColorOf maps a piece code to its side; ok is false for Empty.
func ColorOf(p byte) (Color, bool) {
	switch p {
	case RedMan, RedKing:
		return Red, true
	case BlackMan, BlackKing:
		return Black, true
	}
	return "", false
}

// IsKing reports whether p is a crowned piece.
func IsKing(p byte) bool { return p == RedKing || p == BlackKing }

// Count returns how many pieces of the given color remain.
func (b Board) Count(c Color) int {
	n := 0
	for _, p := range b {
		if pc, ok := ColorOf(p); ok && pc == c {
			n++
		}
	}
	return n
}

// Pretty renders the board for logs and test failures.
func (b Board) Pretty() string {
	var sb strings.Builder
	for row := 0; row < Size; row++ {
		sb.Write(b[row*Size : (row+1)*Size])
		sb.WriteByte('\n')
	}
	return sb.String()
}
