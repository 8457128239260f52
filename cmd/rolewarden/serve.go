package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/rolewarden/internal/api"
	"github.com/alecgard/rolewarden/internal/bot"
	"github.com/alecgard/rolewarden/internal/config"
	"github.com/alecgard/rolewarden/internal/grant"
	"github.com/alecgard/rolewarden/internal/lifecycle"
	"github.com/alecgard/rolewarden/internal/metrics"
	"github.com/alecgard/rolewarden/internal/platform"
	"github.com/alecgard/rolewarden/internal/ratelimit"
	"github.com/alecgard/rolewarden/internal/reconcile"
	"github.com/bwmarrin/discordgo"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bot and the ops API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		stat := pool.Stat()
		return stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns()
	})

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return err
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	store := grant.NewStore(pool)
	discord := platform.NewDiscord(session, cfg.Discord.GuildID)
	controller := lifecycle.NewController(store, discord, cfg.Discord.TrialRoleID, cfg.Discord.TrialDuration, m)
	reconciler := reconcile.New(store, discord, cfg.Discord.TrialRoleID, cfg.Discord.TrialDuration, cfg.Reconcile.Interval, m)

	cooldown := ratelimit.NewCooldown(cfg.Cooldown.Period)
	b := bot.New(session, controller, cfg.Discord.GuildID, cooldown, m)
	if err := b.Start(ctx); err != nil {
		return err
	}

	go reconciler.Start(ctx)

	router := api.NewRouter(api.RouterDeps{
		Controller:   controller,
		Metrics:      m,
		AdminKeyHash: cfg.Auth.AdminKeyHash,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop the reconciler before closing the session so no sweep runs
	// against a dead gateway connection.
	reconciler.Stop()
	if err := b.Stop(); err != nil {
		slog.Error("closing gateway session", "error", err)
	}

	return srv.Shutdown(shutdownCtx)
}
