// Package boardimg renders a checkers position to PNG for game-summary
// notifications and debugging. Pieces are rasterized from inline SVG discs.
package boardimg

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/kapu/checkers-live/internal/checkers"
)

const (
	squareSize    = 64
	boardSquares  = checkers.Size
	margin        = 16
	captionHeight = 28
)

var (
	lightSquare  = color.RGBA{233, 207, 163, 255}
	darkSquare   = color.RGBA{142, 98, 66, 255}
	frameColor   = color.RGBA{54, 38, 27, 255}
	captionColor = color.RGBA{236, 239, 255, 255}
)

// RenderPNG rasterizes the position with an optional caption below the board
// ("red wins", "draw by agreement", ...). The board string is the row-major
// 64-byte encoding produced by checkers.Board.String.
func RenderPNG(ctx context.Context, boardStr, caption string) ([]byte, error) {
	board, err := checkers.Parse(boardStr)
	if err != nil {
		return nil, fmt.Errorf("parse board: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	width := boardSquares*squareSize + margin*2
	height := width
	if caption != "" {
		height += captionHeight
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(frameColor), image.Point{}, imagedraw.Src)

	origin := image.Point{X: margin, Y: margin}
	drawSquares(img, origin)
	if err := drawPieces(img, board, origin); err != nil {
		return nil, err
	}
	if caption != "" {
		drawCaption(img, caption, width, height)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderBase64 is RenderPNG encoded for embedding in a notification payload.
func RenderBase64(ctx context.Context, boardStr, caption string) (string, error) {
	raw, err := RenderPNG(ctx, boardStr, caption)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func drawCaption(dst *image.RGBA, text string, width, height int) {
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(captionColor),
		Face: basicfont.Face7x13,
	}
	w := drawer.MeasureString(text).Round()
	x := (width - w) / 2
	if x < margin {
		x = margin
	}
	drawer.Dot = fixed.P(x, height-captionHeight/2+4)
	drawer.DrawString(text)
}

func drawSquares(dst *image.RGBA, origin image.Point) {
	for row := 0; row < boardSquares; row++ {
		for col := 0; col < boardSquares; col++ {
			// black's camp is drawn at the top, so flip rows for display
			x := origin.X + col*squareSize
			y := origin.Y + (boardSquares-1-row)*squareSize
			clr := lightSquare
			if (checkers.Square{Row: row, Col: col}).Dark() {
				clr = darkSquare
			}
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawPieces(dst *image.RGBA, board checkers.Board, origin image.Point) error {
	for row := 0; row < boardSquares; row++ {
		for col := 0; col < boardSquares; col++ {
			sq := checkers.Square{Row: row, Col: col}
			p := board.At(sq)
			if p == checkers.Empty {
				continue
			}
			pieceImg, err := renderPieceImage(p, squareSize)
			if err != nil {
				return err
			}
			x := origin.X + col*squareSize
			y := origin.Y + (boardSquares-1-row)*squareSize
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), pieceImg, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

type pieceCacheKey struct {
	piece byte
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func renderPieceImage(piece byte, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	icon, err := oksvg.ReadIconStream(strings.NewReader(pieceSVG(piece)))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, imagedraw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()

	return img, nil
}

// pieceSVG builds a flat disc with a rim; kings get a crown mark.
func pieceSVG(piece byte) string {
	fill, rim := "#c0392b", "#7e241a"
	if piece == checkers.BlackMan || piece == checkers.BlackKing {
		fill, rim = "#2c3e50", "#16212c"
	}
	var sb strings.Builder
	sb.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100">`)
	fmt.Fprintf(&sb, `<circle cx="50" cy="50" r="40" fill="%s"/>`, rim)
	fmt.Fprintf(&sb, `<circle cx="50" cy="46" r="36" fill="%s"/>`, fill)
	fmt.Fprintf(&sb, `<circle cx="50" cy="46" r="26" fill="none" stroke="%s" stroke-width="3"/>`, rim)
	if checkers.IsKing(piece) {
		sb.WriteString(`<path d="M32 58 L36 38 L44 50 L50 34 L56 50 L64 38 L68 58 Z" fill="#f1c40f" stroke="#9a7d0a" stroke-width="2"/>`)
	}
	sb.WriteString(`</svg>`)
	return sb.String()
}
