package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kapu/checkers-live/internal/boardimg"
	"github.com/kapu/checkers-live/internal/broker"
	"github.com/kapu/checkers-live/internal/checkers"
	appcfg "github.com/kapu/checkers-live/internal/config"
	"github.com/kapu/checkers-live/internal/match"
	"github.com/kapu/checkers-live/internal/msgcat"
	"github.com/kapu/checkers-live/internal/notify"
	"github.com/kapu/checkers-live/internal/obslog"
	"github.com/kapu/checkers-live/internal/presence"
	wstransport "github.com/kapu/checkers-live/internal/transport/ws"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("redis connect error: %v", err)
	}
	cancel()

	manager := match.NewManager(rdb, checkers.Rules{MandatoryCapture: cfg.CaptureMandatory}, cfg.GameTTL)

	if cfg.DatabaseURL != "" {
		repo, err := match.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive repo init error: %v", err)
		}
		defer func() { _ = repo.Close() }()
		manager.AttachRepository(repo)
	}

	if sink := notify.NewClient(cfg.NotifyBaseURL); sink != nil {
		manager.AttachNotifier(&imageNotifier{sink: sink})
	}

	catalog, err := msgcat.New(cfg.MsgTemplateDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	srv := wstransport.NewServer(manager, broker.New(rdb), presence.NewTracker(), catalog)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		obslog.L().Info("server_listen", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obslog.L().Fatal("server_error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = rdb.Close()
	obslog.L().Info("server_stop")
}

// imageNotifier swaps the raw board encoding in a conclusion payload for a
// rendered PNG before forwarding to the sink.
type imageNotifier struct {
	sink *notify.Client
}

func (n *imageNotifier) Notify(ctx context.Context, userID, kind, gameID string, payload map[string]string) {
	if board, ok := payload["board"]; ok {
		enriched := make(map[string]string, len(payload)+1)
		for k, v := range payload {
			enriched[k] = v
		}
		delete(enriched, "board")
		caption := "game over"
		switch payload["winner"] {
		case "draw":
			caption = "draw by agreement"
		case "red", "black":
			caption = payload["winner"] + " wins"
		}
		if img, err := boardimg.RenderBase64(ctx, board, caption); err == nil {
			enriched["board_png"] = img
		}
		payload = enriched
	}
	n.sink.Notify(ctx, userID, kind, gameID, payload)
}
