package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"class-meet-service/internal/app"
	"class-meet-service/internal/domain"
	"class-meet-service/internal/infra/memory"
	pgstore "class-meet-service/internal/infra/postgres"
	pgmigrations "class-meet-service/internal/infra/postgres/migrations"
	infraredis "class-meet-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestMeetingWriteThroughEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	applyMigrations(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	hub := app.NewHub(zerolog.Nop())
	rooms := memory.NewRoomStore(time.Hour, zerolog.Nop())
	liveness := infraredis.NewRoomLiveness(redisClient, time.Minute)
	service := app.NewRoomService(rooms, hub, nil, zerolog.Nop()).
		WithArchiver(pgstore.NewMeetingRepository(pool)).
		WithLiveness(liveness)

	meetingID := service.CreateMeeting(ctx)
	hub.Register("c1")
	service.Join("c1", meetingID, "Alice", false)
	service.SubmitSentiment("c1", meetingID, domain.SentimentGood)
	service.TranscriptArrived(meetingID, "we covered testing and api design today", "Testing and APIs", 300, time.Now())

	// Archiving is fire-and-forget; give the write-through a moment.
	waitForRow(t, ctx, pool, `SELECT count(*) FROM meetings WHERE meeting_id = $1`, meetingID, 1)
	waitForRow(t, ctx, pool, `SELECT count(*) FROM transcripts WHERE meeting_id = $1`, meetingID, 1)
	waitForRow(t, ctx, pool, `SELECT count(*) FROM class_summaries WHERE meeting_id = $1`, meetingID, 1)

	var totalTranscripts, goodVotes string
	row := pool.QueryRow(ctx,
		`SELECT data->>'totalTranscripts', data->'sentiment'->>'good' FROM class_summaries WHERE meeting_id = $1`,
		meetingID)
	if err := row.Scan(&totalTranscripts, &goodVotes); err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if totalTranscripts != "1" || goodVotes != "1" {
		t.Fatalf("unexpected summary payload: transcripts=%s good=%s", totalTranscripts, goodVotes)
	}

	waitForKey(t, ctx, redisClient, "room:live:"+meetingID)
}

func applyMigrations(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func waitForRow(t *testing.T, ctx context.Context, pool *pgxpool.Pool, query, meetingID string, want int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var count int
		if err := pool.QueryRow(ctx, query, meetingID).Scan(&count); err == nil && count == want {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("row never appeared for %q", query)
}

func waitForKey(t *testing.T, ctx context.Context, client *goredis.Client, key string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if n, err := client.Exists(ctx, key).Result(); err == nil && n == 1 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("redis key %q never appeared", key)
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "meet", "POSTGRES_PASSWORD": "meetpass", "POSTGRES_DB": "meetdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://meet:meetpass@%s:%s/meetdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
