package benchmark

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coregx/relq"
	_ "modernc.org/sqlite"
)

type User struct {
	ID    int64
	Name  string
	Email string
	Posts []*Post `rel:"has_many,foreign_key=author_id"`
}

type Post struct {
	ID       int64
	AuthorID int64
	Title    string
	Views    int
	Author   *User      `rel:"belongs_to"`
	Comments []*Comment `rel:"has_many"`
}

type Comment struct {
	ID     int64
	PostID int64
	Body   string
}

// setupBenchDB creates a SQLite database with users posts and comments, each
// user owning postsPerUser posts with two comments each.
func setupBenchDB(b *testing.B, users, postsPerUser int, opts ...relq.Option) *relq.DB {
	b.Helper()

	db, err := relq.Open("sqlite", filepath.Join(b.TempDir(), "bench.db"), opts...)
	if err != nil {
		b.Fatalf("Failed to open database: %v", err)
	}
	b.Cleanup(func() { db.Close() })

	ctx := context.Background()
	_, err = db.SQLDB().ExecContext(ctx, `
		CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT NOT NULL);
		CREATE TABLE posts (id INTEGER PRIMARY KEY, author_id INTEGER NOT NULL, title TEXT NOT NULL, views INTEGER NOT NULL);
		CREATE TABLE comments (id INTEGER PRIMARY KEY, post_id INTEGER NOT NULL, body TEXT NOT NULL);
		CREATE INDEX index_posts_on_author_id ON posts (author_id);
		CREATE INDEX index_comments_on_post_id ON comments (post_id);
	`)
	if err != nil {
		b.Fatalf("Failed to create tables: %v", err)
	}

	tx, err := db.SQLDB().BeginTx(ctx, nil)
	if err != nil {
		b.Fatal(err)
	}
	post, comment := 0, 0
	for u := 1; u <= users; u++ {
		if _, err := tx.Exec("INSERT INTO users (id, name, email) VALUES (?, ?, ?)",
			u, fmt.Sprintf("user%d", u), fmt.Sprintf("user%d@example.com", u)); err != nil {
			b.Fatal(err)
		}
		for range postsPerUser {
			post++
			if _, err := tx.Exec("INSERT INTO posts (id, author_id, title, views) VALUES (?, ?, ?, ?)",
				post, u, strings.Repeat("t", 20), post%100); err != nil {
				b.Fatal(err)
			}
			for range 2 {
				comment++
				if _, err := tx.Exec("INSERT INTO comments (id, post_id, body) VALUES (?, ?, 'body')", comment, post); err != nil {
					b.Fatal(err)
				}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		b.Fatal(err)
	}
	return db
}
