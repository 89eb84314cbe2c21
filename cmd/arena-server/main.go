package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/valorforge/arena-server/internal/anticheat"
	"github.com/valorforge/arena-server/internal/auth"
	"github.com/valorforge/arena-server/internal/battle"
	appcfg "github.com/valorforge/arena-server/internal/config"
	"github.com/valorforge/arena-server/internal/httpapi"
	"github.com/valorforge/arena-server/internal/msgcat"
	"github.com/valorforge/arena-server/internal/obslog"
	"github.com/valorforge/arena-server/internal/profile"
	"github.com/valorforge/arena-server/internal/push"
	"github.com/valorforge/arena-server/internal/quest"
	"github.com/valorforge/arena-server/internal/rank"
	"github.com/valorforge/arena-server/internal/sink"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("redis connect error: %v", err)
	}
	pingCancel()

	battleMgr := battle.NewManager(rdb, battle.Options{
		TTL:      cfg.BattleTTL,
		RetryMax: cfg.TurnRetryMax,
	})

	// Profile store: Postgres when configured, in-memory otherwise.
	var profiles battle.ProfileStore
	var repo *profile.Repository
	if cfg.DatabaseURL != "" {
		repo, err = profile.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("profile repo init error: %v", err)
		}
		profiles = repo
	} else {
		obslog.L().Warn("profile_store_memory", zap.String("reason", "DATABASE_URL not set"))
		profiles = profile.NewMemStore()
	}
	battleMgr.AttachProfiles(profiles)

	questMgr := quest.NewManager(rdb, profiles)
	board := rank.NewLeaderboard(rdb)

	catalog, err := msgcat.New(cfg.TemplateDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	hub := push.NewHub()
	dispatcher := sink.NewDispatcher(
		sink.NewWebhookNotifier(cfg.NotifyWebhookURL, catalog),
		sink.NewWebhookTracker(cfg.TrackWebhookURL),
		board,
		hub,
	)

	var verifier auth.Verifier
	if cfg.AuthBaseURL != "" {
		verifier = auth.NewHTTPVerifier(cfg.AuthBaseURL)
	} else {
		obslog.L().Warn("auth_verifier_passthrough", zap.String("reason", "AUTH_BASE_URL not set"))
		verifier = auth.Passthrough{}
	}

	var oracle anticheat.Oracle = anticheat.AllowAll{}
	if cfg.AntiCheatBaseURL != "" {
		oracle = anticheat.NewHTTPOracle(cfg.AntiCheatBaseURL)
	}

	api := httpapi.NewServer(battleMgr, questMgr, board, verifier, oracle, dispatcher)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Retention sweeper: archive completed battles past the window.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				n, err := battleMgr.SweepStale(rootCtx, cfg.RetentionWindow, cfg.SweepBatchSize)
				if err != nil {
					obslog.L().Error("sweep_error", zap.Error(err))
					continue
				}
				if n > 0 {
					obslog.L().Info("sweep_done", zap.Int("archived", n))
				}
			}
		}
	}()

	go func() {
		if err := hub.Serve(cfg.PushListenAddr); err != nil {
			obslog.L().Error("push_serve_error", zap.Error(err))
		}
	}()

	go func() {
		if err := api.Serve(cfg.ListenAddr); err != nil {
			obslog.L().Fatal("http_serve_error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	rootCancel()
	_ = api.Shutdown()
	_ = hub.Close()
	_ = rdb.Close()
	if repo != nil {
		_ = repo.Close()
	}
}
