// Package testutil starts a disposable Postgres for repository tests.
package testutil

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/Jalalidin/knowledgevault-sub001/internal/config"
	"github.com/Jalalidin/knowledgevault-sub001/internal/migrate"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresPort  = "5432"
	testUser      = "test"
	testPassword  = "test"
	testDatabase  = "knowledgevault_test"
)

var (
	sharedOnce sync.Once
	shared     *TestDB
	sharedErr  error
)

// TestDB holds test database resources
type TestDB struct {
	Config *config.DatabaseConfig
	Pool   *pgxpool.Pool
	DB     *bun.DB

	container testcontainers.Container

	// Transaction support for per-test isolation
	tx    bun.Tx
	hasTx bool
}

// Close releases the pool and terminates the container.
func (t *TestDB) Close() {
	if t.DB != nil {
		_ = t.DB.Close()
	}
	if t.Pool != nil {
		t.Pool.Close()
	}
	if t.container != nil {
		_ = t.container.Terminate(context.Background())
	}
}

// GetDB returns the current transaction when one is active, otherwise the
// base DB.
func (t *TestDB) GetDB() bun.IDB {
	if t.hasTx {
		return t.tx
	}
	return t.DB
}

// BeginTestTx starts a transaction that RollbackTestTx discards.
func (t *TestDB) BeginTestTx(ctx context.Context) error {
	if t.hasTx {
		return fmt.Errorf("transaction already started")
	}
	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	t.tx = tx
	t.hasTx = true
	return nil
}

func (t *TestDB) RollbackTestTx() error {
	if !t.hasTx {
		return nil
	}
	err := t.tx.Rollback()
	t.hasTx = false
	return err
}

// StartPostgres runs a Postgres container and applies all migrations.
func StartPostgres(ctx context.Context) (*TestDB, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{postgresPort + "/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     testUser,
				"POSTGRES_PASSWORD": testPassword,
				"POSTGRES_DB":       testDatabase,
			},
			// The init process restarts the server once before it is usable.
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort(postgresPort+"/tcp"),
			).WithDeadline(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	tdb := &TestDB{container: container}
	if err := tdb.connect(ctx); err != nil {
		tdb.Close()
		return nil, err
	}
	return tdb, nil
}

func (t *TestDB) connect(ctx context.Context) error {
	host, err := t.container.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	mapped, err := t.container.MappedPort(ctx, postgresPort)
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	port, err := strconv.Atoi(mapped.Port())
	if err != nil {
		return fmt.Errorf("parse container port: %w", err)
	}

	t.Config = &config.DatabaseConfig{
		Host:     host,
		Port:     port,
		User:     testUser,
		Password: testPassword,
		Database: testDatabase,
		SSLMode:  "disable",
	}

	poolConfig, err := pgxpool.ParseConfig(t.Config.DSN())
	if err != nil {
		return err
	}
	poolConfig.MaxConns = 5
	t.Pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	sqldb := stdlib.OpenDBFromPool(t.Pool)
	if err := migrate.RunWithDB(ctx, sqldb); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	t.DB = bun.NewDB(sqldb, pgdialect.New())
	return nil
}

// SharedDB returns one migrated database per test binary. Tests are skipped
// when no container runtime is available.
func SharedDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	sharedOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		shared, sharedErr = StartPostgres(ctx)
	})
	if sharedErr != nil {
		t.Skipf("postgres unavailable: %v", sharedErr)
	}
	return shared
}

// TruncateTables empties every table in the kb schema.
func TruncateTables(ctx context.Context, db bun.IDB) error {
	var tables []string
	err := db.NewRaw(`
		SELECT schemaname || '.' || tablename
		FROM pg_tables
		WHERE schemaname = 'kb'
	`).Scan(ctx, &tables)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return nil
	}

	_, err = db.NewRaw(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", strings.Join(tables, ", "))).Exec(ctx)
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
