package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestContainer starts a PostgreSQL container for integration tests.
// Tests are skipped when no container runtime is available.
func setupTestContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	t.Helper()

	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("trunet_test"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		postgresContainer.Terminate(ctx)
		t.Fatalf("failed to get connection string: %v", err)
	}

	return postgresContainer, connStr
}

// setupTestDatabase connects and creates the schema directly, without
// migration files.
func setupTestDatabase(t *testing.T, ctx context.Context, connStr string) *AuditDatabase {
	t.Helper()

	db, err := NewAuditDatabase(ctx, &DatabaseConfig{
		ConnectionString: connStr,
		MaxConnections:   5,
		ConnectTimeout:   30 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if err := createTestTables(ctx, db); err != nil {
		db.Close()
		t.Fatalf("failed to create test tables: %v", err)
	}

	return db
}

func createTestTables(ctx context.Context, db *AuditDatabase) error {
	schema := `CREATE TABLE IF NOT EXISTS verdicts (
		verdict_id VARCHAR(255) PRIMARY KEY,
		submission_id VARCHAR(255) NOT NULL,
		submitter_id VARCHAR(255),
		state VARCHAR(50) NOT NULL,
		recommendation VARCHAR(50),
		moderation_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		text_content TEXT,
		payload JSONB NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT NOW()
	)`

	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create verdicts table: %w", err)
	}
	return nil
}
