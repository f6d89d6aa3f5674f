package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"class-meet-service/internal/app"
	"class-meet-service/internal/config"
	"class-meet-service/internal/infra/memory"
	"class-meet-service/internal/infra/postgres"
	redisliveness "class-meet-service/internal/infra/redis"
	"class-meet-service/internal/quizgen"
	transport "class-meet-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the meeting server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log.Level)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	idleTTL := config.TTLDuration(cfg.Room.IdleTTL, 30*time.Minute)
	sweepInterval := config.TTLDuration(cfg.Room.SweepInterval, time.Minute)
	rooms := memory.NewRoomStore(idleTTL, log)

	hub := app.NewHub(log)

	var generator quizgen.Generator
	apiKey := cfg.Quiz.GeminiAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey != "" {
		quizTimeout := config.TTLDuration(cfg.Quiz.Timeout, 15*time.Second)
		generator = quizgen.NewGeminiGenerator(apiKey, cfg.Quiz.Model, quizTimeout, log)
	} else {
		log.Warn().Msg("no Gemini API key configured, quizzes fall back to placeholders")
	}

	service := app.NewRoomService(rooms, hub, generator, log)
	if pool != nil {
		service = service.WithArchiver(postgres.NewMeetingRepository(pool))
	}
	if redisClient != nil {
		liveness := redisliveness.NewRoomLiveness(redisClient, redisTTL)
		service = service.WithLiveness(liveness)
		rooms.OnEvict(func(roomID string) {
			evictCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := liveness.Forget(evictCtx, roomID); err != nil {
				log.Warn().Err(err).Str("room", roomID).Msg("liveness cleanup failed")
			}
		})
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go rooms.Run(janitorCtx, sweepInterval)

	wsHandler := transport.NewWSHandler(service, hub, log)
	apiHandler := transport.NewAPIHandler(service, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.HandleFunc("/api/create-meeting", apiHandler.CreateMeeting)
	mux.HandleFunc("/api/meeting/", apiHandler.GetMeeting)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting meeting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}
