package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"classroom-session-service/internal/app"
	"classroom-session-service/internal/domain"
	pgstore "classroom-session-service/internal/infra/postgres"
	pgmigrations "classroom-session-service/internal/infra/postgres/migrations"
	infraredis "classroom-session-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun/migrate"
)

func TestSessionFromStoredBankEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedBank(t, ctx, pgURL, sampleBank())

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

	banks := infraredis.NewBankRepository(redisClient, pgstore.NewBankLoader(pool), 5*time.Minute)
	gate := app.NewGate(app.GateOptions{
		RateLimit:   true,
		MaxAttempts: 2,
		Rates:       infraredis.NewRateStore(redisClient, time.Minute),
	})
	tr := &sink{}
	engine := app.NewEngine(tr, gate, banks, app.Options{})
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = engine.Run(runCtx) }()

	for _, id := range []string{"ctrl", "alice", "evil"} {
		if err := engine.Connect(ctx, id, "origin-"+id); err != nil {
			t.Fatalf("connect %s: %v", id, err)
		}
	}

	ack, err := engine.CreateSession(ctx, "ctrl", domain.CreateSessionRequest{
		ControllerSecret: "teach-123",
		PresenterSecret:  "show-456",
		BankID:           "warmup",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := engine.JoinAdminSession(ctx, "ctrl", domain.JoinAdminRequest{SessionCode: ack.SessionCode, Secret: "teach-123", Role: domain.RoleController}); err != nil {
		t.Fatalf("join admin: %v", err)
	}
	if exists, err := redisClient.Exists(ctx, "bank:warmup").Result(); err != nil || exists != 1 {
		t.Fatalf("expected bank cached in redis, got %d, %v", exists, err)
	}

	if _, err := engine.RequestJoin(ctx, "alice", domain.JoinRequest{SessionCode: ack.SessionCode, Name: "Alice", Secret: "pw-alice"}); err != nil {
		t.Fatalf("request join: %v", err)
	}
	if err := engine.ApproveUser(ctx, "ctrl", domain.TargetRequest{SessionCode: ack.SessionCode, TargetID: "alice"}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := engine.SubmitAnswer(ctx, "alice", domain.SubmitAnswerRequest{
		SessionCode: ack.SessionCode,
		QuestionID:  domain.Some(1),
		Answer:      domain.SingleAnswer("b"),
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	result, ok := tr.last("alice", domain.EventAnswerResult).(domain.AnswerResult)
	if !ok || !result.Correct || result.NextQuestion == nil || result.NextQuestion.ID != 2 {
		t.Fatalf("unexpected answer result: %+v", result)
	}

	for i := 0; i < 2; i++ {
		_, err := engine.JoinAdminSession(ctx, "evil", domain.JoinAdminRequest{SessionCode: ack.SessionCode, Secret: "guess", Role: domain.RoleController})
		if !errors.Is(err, domain.ErrWrongPassword) {
			t.Fatalf("attempt %d: expected wrong password, got %v", i, err)
		}
	}
	if _, err := engine.JoinAdminSession(ctx, "evil", domain.JoinAdminRequest{SessionCode: ack.SessionCode, Secret: "teach-123", Role: domain.RoleController}); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected redis-backed rate limit, got %v", err)
	}
	if ttl := redisClient.PTTL(ctx, "ratelimit:origin-evil").Val(); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected rate window ttl, got %s", ttl)
	}
}

func TestBankStoreListsUpsertedBanks(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()

	bank := sampleBank()
	seedBank(t, ctx, pgURL, bank)
	bank.Title = "Warm-up (revised)"
	seedBank(t, ctx, pgURL, bank)

	db := pgstore.OpenDB(pgURL)
	defer db.Close()
	list, err := pgstore.NewBankStore(db).List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Warm-up (revised)" {
		t.Fatalf("expected upsert to replace the bank, got %+v", list)
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	loaded, err := pgstore.NewBankLoader(pool).LoadBank(ctx, "warmup")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Questions) != 2 || loaded.Questions[0].Type != domain.QuestionSingleSelect {
		t.Fatalf("unexpected loaded bank: %+v", loaded)
	}
	if _, err := pgstore.NewBankLoader(pool).LoadBank(ctx, "missing"); !errors.Is(err, domain.ErrBankNotFound) {
		t.Fatalf("expected bank not found, got %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "classroom", "POSTGRES_PASSWORD": "classpass", "POSTGRES_DB": "classroomdb"},
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
	dsn := fmt.Sprintf("postgres://classroom:classpass@%s:%s/classroomdb?sslmode=disable", host, port.Port())
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

// seedBank migrates the schema and upserts bank. Init is retried while the server finishes starting.
func seedBank(t *testing.T, ctx context.Context, dsn string, bank domain.QuestionBank) {
	t.Helper()
	db := pgstore.OpenDB(dsn)
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	var err error
	for i := 0; i < 10; i++ {
		if err = migrator.Init(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := pgstore.NewBankStore(db).Upsert(ctx, bank); err != nil {
		t.Fatalf("upsert bank: %v", err)
	}
}

func sampleBank() domain.QuestionBank {
	return domain.QuestionBank{
		ID:    "warmup",
		Title: "Warm-up",
		Questions: []domain.QuestionDraft{
			{
				Text: "What is 2 + 2?",
				Type: domain.QuestionSingleSelect,
				Options: []domain.Option{
					{ID: "a", Text: "3"},
					{ID: "b", Text: "4"},
				},
				CorrectAnswer: []string{"b"},
			},
			{Text: "Largest planet?", Type: domain.QuestionShortText, CorrectAnswer: []string{"Jupiter"}},
		},
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

// sink is a minimal app.Transport that remembers the last payload per connection and event.
type sink struct {
	mu   sync.Mutex
	seen map[string]any
}

func (s *sink) Join(string, string)  {}
func (s *sink) Leave(string, string) {}
func (s *sink) Disconnect(string)    {}

func (s *sink) Emit(connID, event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[string]any)
	}
	s.seen[connID+"/"+event] = payload
}

func (s *sink) EmitRoom(string, string, any) {}

func (s *sink) last(connID, event string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[connID+"/"+event]
}
