package cache

import (
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates a mock database for testing.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := registerMockDriver()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func mustPrepare(t *testing.T, db *sql.DB, query string) *sql.Stmt {
	t.Helper()
	stmt, err := db.Prepare(query)
	require.NoError(t, err)
	return stmt
}

func TestStmtCache_ClosesEvicted(t *testing.T) {
	db := setupTestDB(t)
	c := NewStmtCache(1)

	first, release := c.Put("SELECT 1", mustPrepare(t, db, "SELECT 1"))
	release()
	second, release := c.Put("SELECT 2", mustPrepare(t, db, "SELECT 2"))
	release()

	_, _, ok := c.Acquire("SELECT 1")
	assert.False(t, ok)
	_, err := first.Exec()
	assert.Error(t, err, "evicted statement must be closed")
	_, err = second.Exec()
	assert.NoError(t, err)

	c.Clear()
	_, err = second.Exec()
	assert.Error(t, err, "cleared statement must be closed")
}

func TestStmtCache_InUseSurvivesEviction(t *testing.T) {
	db := setupTestDB(t)
	c := NewStmtCache(1)

	first, releaseFirst := c.Put("SELECT 1", mustPrepare(t, db, "SELECT 1"))
	_, release := c.Put("SELECT 2", mustPrepare(t, db, "SELECT 2"))
	release()
	assert.Equal(t, 1, c.Len())

	_, err := first.Exec()
	require.NoError(t, err, "evicted statement stays open while in use")

	releaseFirst()
	_, err = first.Exec()
	assert.Error(t, err, "closed after the last release")

	assert.NotPanics(t, releaseFirst, "release is idempotent")
}

func TestStmtCache_AcquirePinsStatement(t *testing.T) {
	db := setupTestDB(t)
	c := NewStmtCache(1)

	_, _, ok := c.Acquire("SELECT 1")
	require.False(t, ok)
	_, release := c.Put("SELECT 1", mustPrepare(t, db, "SELECT 1"))
	release()

	stmt, releaseHit, ok := c.Acquire("SELECT 1")
	require.True(t, ok)
	_, release = c.Put("SELECT 2", mustPrepare(t, db, "SELECT 2"))
	release()

	rows, err := stmt.Query()
	require.NoError(t, err)
	require.NoError(t, rows.Close())
	releaseHit()

	_, err = stmt.Exec()
	assert.Error(t, err)
	assert.Equal(t, uint64(1), c.Stats().Hits)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

func TestStmtCache_DuplicatePutKeepsCached(t *testing.T) {
	db := setupTestDB(t)
	c := NewStmtCache(4)

	cached := mustPrepare(t, db, "SELECT 1")
	duplicate := mustPrepare(t, db, "SELECT 1")

	got, releaseA := c.Put("SELECT 1", cached)
	assert.Same(t, cached, got)
	got, releaseB := c.Put("SELECT 1", duplicate)
	assert.Same(t, cached, got, "the first cached statement wins")

	_, err := duplicate.Exec()
	assert.Error(t, err, "the losing duplicate is closed")

	releaseA()
	_, err = cached.Exec()
	require.NoError(t, err, "still held by the second caller")
	releaseB()
	_, err = cached.Exec()
	assert.NoError(t, err, "cached statements stay open when unused")
}

func TestStmtCache_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	c := NewStmtCache(1)

	var wg sync.WaitGroup
	errs := make(chan error, 8*200)
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				query := fmt.Sprintf("SELECT %d", (g+i)%3)
				stmt, release, ok := c.Acquire(query)
				if !ok {
					prepared, err := db.Prepare(query)
					if err != nil {
						errs <- err
						continue
					}
					stmt, release = c.Put(query, prepared)
				}
				if _, err := stmt.Exec(); err != nil {
					errs <- err
				}
				release()
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("statement used after close: %v", err)
	}
}
