package core

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type User struct {
	ID      int64
	Name    string
	Email   string
	Posts   []*Post  `rel:"has_many,foreign_key=author_id"`
	Profile *Profile `rel:"has_one"`
}

type Profile struct {
	ID     int64
	UserID int64
	Bio    string
}

type Post struct {
	ID        int64
	AuthorID  int64
	Title     string
	Published bool
	Views     int
	Author    *User      `rel:"belongs_to"`
	Comments  []*Comment `rel:"has_many"`
	Tags      []*Tag     `rel:"has_many,through=taggings"`
}

type Comment struct {
	ID     int64
	PostID int64
	Body   string
	Post   *Post `rel:"belongs_to"`
}

type Tag struct {
	ID   int64
	Name string
}

// Article is soft-deleted through its default scope.
type Article struct {
	ID      int64
	Title   string
	Deleted bool
}

func (Article) DefaultScope(v *Values) *Values {
	return v.Where(Eq("deleted", false)).Order(OrderTerm{Column: "id"})
}

// Membership has a composite primary key.
type Membership struct {
	GroupID int64 `db:"group_id,pk"`
	UserID  int64 `db:"user_id,pk"`
	Role    string
}

var postColumns = []string{"id", "author_id", "title", "published", "views"}

func newMockDB(t *testing.T, driver string, opts ...Option) (*DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := WrapDB(sqlDB, driver, opts...)
	require.NoError(t, err)
	return db, mock
}

func postRows() *sqlmock.Rows {
	return sqlmock.NewRows(postColumns).
		AddRow(int64(1), int64(10), "first", true, int64(5)).
		AddRow(int64(2), int64(10), "second", false, int64(7))
}

const schema = `
CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT NOT NULL);
CREATE TABLE profiles (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL, bio TEXT NOT NULL);
CREATE TABLE posts (id INTEGER PRIMARY KEY, author_id INTEGER NOT NULL, title TEXT NOT NULL,
	published BOOLEAN NOT NULL DEFAULT 0, views INTEGER NOT NULL DEFAULT 0);
CREATE TABLE comments (id INTEGER PRIMARY KEY, post_id INTEGER NOT NULL, body TEXT NOT NULL);
CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE taggings (post_id INTEGER NOT NULL, tag_id INTEGER NOT NULL);
CREATE TABLE articles (id INTEGER PRIMARY KEY, title TEXT NOT NULL, deleted BOOLEAN NOT NULL DEFAULT 0);
CREATE TABLE memberships (group_id INTEGER NOT NULL, user_id INTEGER NOT NULL, role TEXT NOT NULL,
	PRIMARY KEY (group_id, user_id));

INSERT INTO users (id, name, email) VALUES (1, 'alice', 'alice@example.com'), (2, 'bob', 'bob@example.com'),
	(3, 'carol', 'carol@example.com');
INSERT INTO profiles (id, user_id, bio) VALUES (1, 1, 'writes a lot'), (2, 2, 'reads a lot');
INSERT INTO posts (id, author_id, title, published, views) VALUES
	(1, 1, 'Hello', 1, 10),
	(2, 1, 'Second', 1, 20),
	(3, 2, 'Draft', 0, 0),
	(4, 3, 'Notes', 1, 5);
INSERT INTO comments (id, post_id, body) VALUES (1, 1, 'nice'), (2, 1, 'great'), (3, 2, 'meh'), (4, 4, 'ok');
INSERT INTO tags (id, name) VALUES (1, 'go'), (2, 'sql'), (3, 'orm');
INSERT INTO taggings (post_id, tag_id) VALUES (1, 1), (1, 2), (2, 2), (4, 3);
INSERT INTO articles (id, title, deleted) VALUES (1, 'kept', 0), (2, 'gone', 1), (3, 'also kept', 0);
INSERT INTO memberships (group_id, user_id, role) VALUES (1, 1, 'owner'), (1, 2, 'member'), (2, 1, 'member'),
	(2, 3, 'owner');
`

// newSQLiteDB opens a seeded SQLite database in a temporary file.
func newSQLiteDB(t *testing.T, opts ...Option) *DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "relq.db")
	db, err := Open("sqlite", dsn, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.SQLDB().ExecContext(context.Background(), schema)
	require.NoError(t, err)
	return db
}

// seedPosts inserts n extra posts with ids starting at 100.
func seedPosts(t *testing.T, sqlDB *sql.DB, n int) {
	t.Helper()

	tx, err := sqlDB.Begin()
	require.NoError(t, err)
	for i := range n {
		_, err := tx.Exec("INSERT INTO posts (id, author_id, title) VALUES (?, 1, 'bulk')", 100+i)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
}
