//go:build integration
// +build integration

package test

type User struct {
	ID    int64
	Name  string
	Posts []*Post `rel:"has_many,foreign_key=author_id"`
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
}

type Tag struct {
	ID   int64
	Name string
}
