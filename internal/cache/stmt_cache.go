package cache

import (
	"database/sql"
	"sync"
)

// StmtCache stores prepared statements keyed by SQL text.
//
// Statements are reference counted. A statement handed out by Acquire or Put
// stays open until its release func runs, even when it is evicted in the
// meantime; an evicted statement is closed once its last user releases it.
type StmtCache struct {
	mu  sync.Mutex // guards refs and evicted; every lru call happens under it
	lru *LRU[string, *cachedStmt]
}

type cachedStmt struct {
	stmt    *sql.Stmt
	refs    int
	evicted bool
}

// NewStmtCache creates a prepared statement cache with the given capacity.
func NewStmtCache(capacity int) *StmtCache {
	c := &StmtCache{}
	c.lru = NewLRU(capacity, func(_ string, cs *cachedStmt) {
		cs.evicted = true
		if cs.refs == 0 {
			_ = cs.stmt.Close() // Best effort close.
		}
	})
	return c
}

// Acquire returns the cached statement for query and marks it in use.
// The caller must call release once it is done with the statement.
func (c *StmtCache) Acquire(query string) (stmt *sql.Stmt, release func(), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs, ok := c.lru.Get(query)
	if !ok {
		return nil, nil, false
	}
	cs.refs++
	return cs.stmt, c.releaser(cs), true
}

// Put caches stmt under query and marks it in use. When another caller cached
// the same query first, stmt is closed and the cached statement is returned
// instead.
func (c *StmtCache) Put(query string, stmt *sql.Stmt) (*sql.Stmt, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cs, ok := c.lru.Peek(query); ok {
		_ = stmt.Close()
		cs.refs++
		return cs.stmt, c.releaser(cs)
	}
	cs := &cachedStmt{stmt: stmt, refs: 1}
	c.lru.Set(query, cs)
	return stmt, c.releaser(cs)
}

func (c *StmtCache) releaser(cs *cachedStmt) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			cs.refs--
			if cs.refs == 0 && cs.evicted {
				_ = cs.stmt.Close()
			}
		})
	}
}

// Clear evicts every statement. Statements still in use close on release.
func (c *StmtCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Clear()
}

// Len returns the number of cached statements.
func (c *StmtCache) Len() int {
	return c.lru.Len()
}

// Stats returns cache statistics.
func (c *StmtCache) Stats() Stats {
	return c.lru.Stats()
}
