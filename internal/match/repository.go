package match

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/kapu/checkers-live/internal/game"
)

// Repository archives concluded games to Postgres. Live games stay in Redis;
// the archive is the durable record once the TTL reaps them.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts the final record and its full move log. method names
// how the game concluded: "board", "draw", or "resignation".
func (r *Repository) SaveResult(ctx context.Context, g *game.Game, log []game.MoveLogEntry, method string) error {
	if r == nil || r.db == nil || g == nil {
		return nil
	}
	logRaw, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal move log: %w", err)
	}
	duration := g.UpdatedAt.Sub(g.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO games (
	    game_id, player1_id, player1_name, player2_id, player2_name,
	    winner, resigned_by, result_method,
	    final_board, move_count, version, move_log,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
	  ) ON CONFLICT (game_id) DO UPDATE SET
	    winner=EXCLUDED.winner,
	    resigned_by=EXCLUDED.resigned_by,
	    result_method=EXCLUDED.result_method,
	    final_board=EXCLUDED.final_board,
	    move_count=EXCLUDED.move_count,
	    version=EXCLUDED.version,
	    move_log=EXCLUDED.move_log,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err = r.db.ExecContext(ctx, q,
		g.ID,
		g.Player1ID, g.Player1Name,
		g.Player2ID, g.Player2Name,
		g.Winner, string(g.ResignedBy), strings.TrimSpace(method),
		g.Board, g.MoveCount, g.Version, string(logRaw),
		g.CreatedAt, g.UpdatedAt, duration,
	)
	return err
}
