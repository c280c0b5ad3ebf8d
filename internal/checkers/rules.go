package checkers

import (
	"errors"
	"fmt"
)

// Move is one piece displacement, possibly a multi-jump. Captures lists the
// squares of the removed opposing pieces in jump order.
type Move struct {
	From     Square   `json:"from"`
	To       Square   `json:"to"`
	Captures []Square `json:"captures,omitempty"`
}

// Equal compares from/to exactly and captures as a set, so two encodings of
// the same jump chain are interchangeable.
func (m Move) Equal(o Move) bool {
	if m.From != o.From || m.To != o.To || len(m.Captures) != len(o.Captures) {
		return false
	}
	for _, c := range m.Captures {
		found := false
		for _, oc := range o.Captures {
			if c == oc {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m Move) String() string {
	if len(m.Captures) > 0 {
		return fmt.Sprintf("%sx%s(%d)", m.From, m.To, len(m.Captures))
	}
	return fmt.Sprintf("%s-%s", m.From, m.To)
}

// InBounds reports whether every square the move touches is on the board.
func (m Move) InBounds() bool {
	if !m.From.InBounds() || !m.To.InBounds() {
		return false
	}
	for _, c := range m.Captures {
		if !c.InBounds() {
			return false
		}
	}
	return true
}

// Outcome of a position. Ongoing means the side to move still has options.
type Outcome string

const (
	Ongoing   Outcome = ""
	RedWins   Outcome = "red"
	BlackWins Outcome = "black"
	Drawn     Outcome = "draw"
)

// Rules carries the variant toggles. With MandatoryCapture set, a side that
// can capture must capture; plain moves are illegal while a jump exists.
type Rules struct {
	MandatoryCapture bool
}

var ErrNoPiece = errors.New("no piece on source square")

// directions a man of each color may step; kings use both sets.
var (
	redDirs   = [2]Square{{1, -1}, {1, 1}}
	blackDirs = [2]Square{{-1, -1}, {-1, 1}}
)

func stepDirs(p byte) []Square {
	if IsKing(p) {
		return []Square{{1, -1}, {1, 1}, {-1, -1}, {-1, 1}}
	}
	if p == RedMan {
		return redDirs[:]
	}
	return blackDirs[:]
}

// LegalMoves returns the legal moves for the piece on from. Under mandatory
// capture the result is empty when a different piece of the same color has a
// jump available and this one does not.
func (r Rules) LegalMoves(b Board, from Square) []Move {
	p := b.At(from)
	c, ok := ColorOf(p)
	if !ok {
		return nil
	}
	caps := r.captureMoves(b, from)
	if r.MandatoryCapture {
		if len(caps) > 0 {
			return caps
		}
		if r.colorHasCapture(b, c) {
			return nil
		}
	} else if len(caps) > 0 {
		return append(caps, r.simpleMoves(b, from)...)
	}
	return r.simpleMoves(b, from)
}

// LegalMovesForColor returns every legal move for the side. Under mandatory
// capture only jump chains are returned while any jump exists.
func (r Rules) LegalMovesForColor(b Board, c Color) []Move {
	var caps, plain []Move
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			sq := Square{row, col}
			if pc, ok := ColorOf(b.At(sq)); !ok || pc != c {
				continue
			}
			caps = append(caps, r.captureMoves(b, sq)...)
			plain = append(plain, r.simpleMoves(b, sq)...)
		}
	}
	if r.MandatoryCapture && len(caps) > 0 {
		return caps
	}
	return append(caps, plain...)
}

func (r Rules) colorHasCapture(b Board, c Color) bool {
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			sq := Square{row, col}
			if pc, ok := ColorOf(b.At(sq)); ok && pc == c {
				if len(r.captureMoves(b, sq)) > 0 {
					return true
				}
			}
		}
	}
	return false
}

func (r Rules) simpleMoves(b Board, from Square) []Move {
	p := b.At(from)
	var out []Move
	for _, d := range stepDirs(p) {
		to := Square{from.Row + d.Row, from.Col + d.Col}
		if to.InBounds() && b.At(to) == Empty {
			out = append(out, Move{From: from, To: to})
		}
	}
	return out
}

// captureMoves returns every maximal jump chain for the piece on from. A
// chain ends when no further jump exists or when a man reaches the crowning
// row, which terminates the move under English rules.
func (r Rules) captureMoves(b Board, from Square) []Move {
	p := b.At(from)
	c, ok := ColorOf(p)
	if !ok {
		return nil
	}
	var out []Move
	var walk func(cur Board, pos Square, piece byte, taken []Square)
	walk = func(cur Board, pos Square, piece byte, taken []Square) {
		extended := false
		for _, d := range stepDirs(piece) {
			over := Square{pos.Row + d.Row, pos.Col + d.Col}
			land := Square{pos.Row + 2*d.Row, pos.Col + 2*d.Col}
			if !land.InBounds() || cur.At(land) != Empty {
				continue
			}
			oc, ok := ColorOf(cur.At(over))
			if !ok || oc == c {
				continue
			}
			next := cur
			next.set(pos, Empty)
			next.set(over, Empty)
			np := piece
			if crowned(land, np) {
				np = kingFor(c)
			}
			next.set(land, np)
			chain := append(append([]Square(nil), taken...), over)
			if np != piece {
				// crowning ends the turn
				out = append(out, Move{From: from, To: land, Captures: chain})
				extended = true
				continue
			}
			extended = true
			walk(next, land, np, chain)
		}
		if !extended && len(taken) > 0 {
			out = append(out, Move{From: from, To: pos, Captures: taken})
		}
	}
	walk(b, from, p, nil)
	return out
}

func crowned(sq Square, p byte) bool {
	switch p {
	case RedMan:
		return sq.Row == Size-1
	case BlackMan:
		return sq.Row == 0
	}
	return false
}

func kingFor(c Color) byte {
	if c == Red {
		return RedKing
	}
	return BlackKing
}

// Apply replays m on b and returns the resulting board. It validates bounds
// and piece presence but not full legality; callers check membership in the
// legal-move set first.
func Apply(b Board, m Move) (Board, error) {
	if !m.InBounds() {
		return b, errors.New("move out of bounds")
	}
	p := b.At(m.From)
	c, ok := ColorOf(p)
	if !ok {
		return b, ErrNoPiece
	}
	if m.From != m.To && b.At(m.To) != Empty {
		return b, errors.New("destination occupied")
	}
	next := b
	next.set(m.From, Empty)
	for _, cap := range m.Captures {
		next.set(cap, Empty)
	}
	if crowned(m.To, p) {
		p = kingFor(c)
	}
	next.set(m.To, p)
	return next, nil
}

// EvaluateOutcome inspects the position after a move, with toMove next to
// act. A side with no pieces or no legal moves loses. Draws never arise from
// the board alone; they come from the draw protocol upstream.
func (r Rules) EvaluateOutcome(b Board, toMove Color) Outcome {
	if b.Count(toMove) == 0 || len(r.LegalMovesForColor(b, toMove)) == 0 {
		if toMove == Red {
			return BlackWins
		}
		return RedWins
	}
	return Ongoing
}
