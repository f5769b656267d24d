//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/coregx/relq"
)

// DatabaseSetup encapsulates database connection and cleanup.
type DatabaseSetup struct {
	DB        *relq.DB
	Container testcontainers.Container
	Dialect   string
}

// Close cleans up database resources.
func (ds *DatabaseSetup) Close() {
	if ds.DB != nil {
		ds.DB.Close() //nolint:errcheck
	}
	if ds.Container != nil {
		ds.Container.Terminate(context.Background()) //nolint:errcheck
	}
}

// SetupPostgreSQLTestDB creates a PostgreSQL test database.
// Uses testcontainers if available, falls back to env DSN.
func SetupPostgreSQLTestDB(t *testing.T, opts ...relq.Option) *DatabaseSetup {
	ctx := context.Background()

	if dsn := os.Getenv("POSTGRES_TEST_DSN"); dsn != "" {
		db, err := relq.Open("postgres", dsn, opts...)
		require.NoError(t, err)
		return &DatabaseSetup{DB: db, Dialect: "postgres"}
	}

	pgContainer, err := postgres.Run(
		ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skip("Docker not available for PostgreSQL integration tests: " + err.Error())
	}

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := relq.Open("postgres", dsn, opts...)
	require.NoError(t, err)

	return &DatabaseSetup{DB: db, Container: pgContainer, Dialect: "postgres"}
}

// SetupMySQLTestDB creates a MySQL test database.
// Uses testcontainers if available, falls back to env DSN.
func SetupMySQLTestDB(t *testing.T, opts ...relq.Option) *DatabaseSetup {
	ctx := context.Background()

	if dsn := os.Getenv("MYSQL_TEST_DSN"); dsn != "" {
		db, err := relq.Open("mysql", dsn, opts...)
		require.NoError(t, err)
		return &DatabaseSetup{DB: db, Dialect: "mysql"}
	}

	mysqlContainer, err := mysql.Run(
		ctx,
		"mysql:8.0",
		mysql.WithDatabase("testdb"),
		mysql.WithUsername("user"),
		mysql.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("port: 3306  MySQL Community Server").
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skip("Docker not available for MySQL integration tests: " + err.Error())
	}

	dsn, err := mysqlContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := relq.Open("mysql", dsn, opts...)
	require.NoError(t, err)

	return &DatabaseSetup{DB: db, Container: mysqlContainer, Dialect: "mysql"}
}

// SetupSQLiteTestDB creates a file-backed SQLite database.
// Always works, no external dependencies.
func SetupSQLiteTestDB(t *testing.T, opts ...relq.Option) *DatabaseSetup {
	db, err := relq.Open("sqlite", filepath.Join(t.TempDir(), "relq.db"), opts...)
	require.NoError(t, err)
	return &DatabaseSetup{DB: db, Dialect: "sqlite"}
}

// Setups returns a constructor per supported database.
func Setups() map[string]func(*testing.T, ...relq.Option) *DatabaseSetup {
	return map[string]func(*testing.T, ...relq.Option) *DatabaseSetup{
		"postgres": SetupPostgreSQLTestDB,
		"mysql":    SetupMySQLTestDB,
		"sqlite":   SetupSQLiteTestDB,
	}
}

// CreateBlogSchema creates and seeds the blog tables.
func CreateBlogSchema(t *testing.T, ds *DatabaseSetup) {
	t.Helper()

	const serial = "INTEGER PRIMARY KEY"
	boolean := "BOOLEAN"
	if ds.Dialect == "mysql" {
		boolean = "TINYINT(1)"
	}

	stmts := []string{
		"DROP TABLE IF EXISTS taggings",
		"DROP TABLE IF EXISTS tags",
		"DROP TABLE IF EXISTS comments",
		"DROP TABLE IF EXISTS posts",
		"DROP TABLE IF EXISTS users",
		"CREATE TABLE users (id " + serial + ", name VARCHAR(64) NOT NULL)",
		"CREATE TABLE posts (id " + serial + ", author_id INTEGER NOT NULL, title VARCHAR(128) NOT NULL, " +
			"published " + boolean + " NOT NULL, views INTEGER NOT NULL)",
		"CREATE TABLE comments (id " + serial + ", post_id INTEGER NOT NULL, body VARCHAR(255) NOT NULL)",
		"CREATE TABLE tags (id " + serial + ", name VARCHAR(32) NOT NULL)",
		"CREATE TABLE taggings (post_id INTEGER NOT NULL, tag_id INTEGER NOT NULL)",
		"INSERT INTO users (id, name) VALUES (1, 'alice'), (2, 'bob')",
		"INSERT INTO posts (id, author_id, title, published, views) VALUES " +
			"(1, 1, 'Hello', true, 10), (2, 1, 'Second', true, 20), (3, 2, 'Draft', false, 0)",
		"INSERT INTO comments (id, post_id, body) VALUES (1, 1, 'nice'), (2, 1, 'great'), (3, 2, 'meh')",
		"INSERT INTO tags (id, name) VALUES (1, 'go'), (2, 'sql')",
		"INSERT INTO taggings (post_id, tag_id) VALUES (1, 1), (1, 2), (2, 2)",
	}

	ctx := context.Background()
	for _, stmt := range stmts {
		_, err := ds.DB.SQLDB().ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
}

// SeedPosts inserts n unpublished posts with ids starting at 100.
func SeedPosts(t *testing.T, ds *DatabaseSetup, n int) {
	t.Helper()

	var b strings.Builder
	b.WriteString("INSERT INTO posts (id, author_id, title, published, views) VALUES ")
	for i := range n {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(" + strconv.Itoa(100+i) + ", 2, 'bulk', false, 0)")
	}
	_, err := ds.DB.SQLDB().ExecContext(context.Background(), b.String())
	require.NoError(t, err)
}
