// Package testutil provides Postgres and Redis helpers for integration tests.
// Helpers skip the calling test when the backing service is unreachable, unless
// TEST_REQUIRE_DB, TEST_REQUIRE_REDIS or TEST_REQUIRE_INFRA is set.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/redis/go-redis/v9"

	"github.com/nbu-mindcare/triage-api/internal/migrate"
)

// Tables in delete order: rows that reference others go first.
var triageTables = []string{"jobs", "daily_metrics", "appointments", "cases", "assessments", "staff", "students"}

// testDSN points at the docker-compose test profile database unless TEST_DB_* overrides it.
func testDSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(env("TEST_DB_USER", "mindcare"), env("TEST_DB_PASSWORD", "mindcare")),
		Host:   net.JoinHostPort(env("TEST_DB_HOST", "localhost"), env("TEST_DB_PORT", "55432")),
		Path:   "/" + env("TEST_DB_NAME", "mindcare_test"),
	}
	q := u.Query()
	q.Set("sslmode", env("DB_SSL_MODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

// openTestDB opens dsn and pings it, skipping t when Postgres is unreachable.
func openTestDB(t testing.TB, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		skipOrFail(t, requires("TEST_REQUIRE_DB"), "test database not available: %v", pingErr)
	}
	return db
}

// WithAutoDB hands fn a migrated, empty database. With TEST_DB_EPHEMERAL set it uses a
// throwaway schema, which lets packages run their integration tests in parallel.
func WithAutoDB(t testing.TB, fn func(*sql.DB)) {
	t.Helper()
	if requires("TEST_DB_EPHEMERAL") {
		fn(ephemeralSchemaDB(t))
		return
	}
	db := openTestDB(t, testDSN())
	t.Cleanup(func() {
		truncateAll(t, db)
		_ = db.Close()
	})
	migrateTestDB(t, db)
	truncateAll(t, db)
	fn(db)
}

func ephemeralSchemaDB(t testing.TB) *sql.DB {
	t.Helper()
	admin := openTestDB(t, testDSN())
	schema := "t_" + strings.ReplaceAll(uuid.NewString()[:13], "-", "")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		_ = admin.Close()
		t.Fatalf("create schema %s: %v", schema, err)
	}

	u, err := url.Parse(testDSN())
	if err != nil {
		t.Fatalf("parse test dsn: %v", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	db := openTestDB(t, u.String())

	t.Cleanup(func() {
		_ = db.Close()
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dropCancel()
		if _, dropErr := admin.ExecContext(dropCtx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); dropErr != nil {
			t.Logf("drop schema %s: %v", schema, dropErr)
		}
		_ = admin.Close()
	})

	migrateTestDB(t, db)
	return db
}

func migrateTestDB(t testing.TB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := migrate.Run(ctx, db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
}

func truncateAll(t testing.TB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, table := range triageTables {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("clean table %s: %v", table, err)
		}
	}
}

// SeedStudent inserts a student and returns its id. An empty lineUserID leaves the student unlinked.
func SeedStudent(t testing.TB, db *sql.DB, faculty, lineUserID string) string {
	t.Helper()
	id := uuid.NewString()
	mustExec(t, db, `INSERT INTO students (id, student_code, faculty, line_user_id) VALUES ($1, $2, $3, $4)`,
		id, "S"+id[:8], faculty, nullable(lineUserID))
	return id
}

// SeedStaff inserts an active staff member and returns its id.
func SeedStaff(t testing.TB, db *sql.DB, role, lineUserID string) string {
	t.Helper()
	id := uuid.NewString()
	mustExec(t, db, `INSERT INTO staff (id, name, role, line_user_id) VALUES ($1, $2, $3, $4)`,
		id, role+" "+id[:4], role, nullable(lineUserID))
	return id
}

func mustExec(t testing.TB, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), query, args...); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// SetupTestRedis returns a client on a reserved DB index (TEST_REDIS_DB, default 1), flushed.
func SetupTestRedis(t testing.TB) *redis.Client {
	t.Helper()

	dbIndex := 1
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			t.Fatalf("invalid TEST_REDIS_DB=%q", v)
		}
		dbIndex = n
	}

	client := redis.NewClient(&redis.Options{Addr: env("REDIS_ADDR", "localhost:56379"), DB: dbIndex})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		skipOrFail(t, requires("TEST_REQUIRE_REDIS"), "redis not available: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush test redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func skipOrFail(t testing.TB, required bool, format string, args ...any) {
	t.Helper()
	if required {
		t.Fatalf(format, args...)
	}
	t.Skip(fmt.Sprintf(format, args...))
}

// requires reports whether key, or TEST_REQUIRE_INFRA for TEST_REQUIRE_* keys, is truthy.
func requires(key string) bool {
	truthy := func(k string) bool {
		switch strings.ToLower(os.Getenv(k)) {
		case "1", "true", "yes", "y":
			return true
		}
		return false
	}
	if truthy(key) {
		return true
	}
	return strings.HasPrefix(key, "TEST_REQUIRE_") && truthy("TEST_REQUIRE_INFRA")
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
