package benchmark

import (
	"context"
	"testing"

	"github.com/coregx/relq"
)

// BenchmarkRecords measures loading and materializing 100 posts.
func BenchmarkRecords(b *testing.B) {
	db := setupBenchDB(b, 10, 10)
	ctx := context.Background()

	b.ReportAllocs()
	for b.Loop() {
		if _, err := relq.From[Post](db).Records(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkAssociations compares the ways of loading users with their posts
// and comments.
func BenchmarkAssociations(b *testing.B) {
	db := setupBenchDB(b, 20, 5)
	ctx := context.Background()

	b.Run("NPlusOne", func(b *testing.B) {
		for b.Loop() {
			users, err := relq.From[User](db).Records(ctx)
			if err != nil {
				b.Fatal(err)
			}
			for _, u := range users {
				posts, err := relq.From[Post](db).Where(relq.Eq("author_id", u.ID)).Records(ctx)
				if err != nil {
					b.Fatal(err)
				}
				for _, p := range posts {
					if _, err := relq.From[Comment](db).Where(relq.Eq("post_id", p.ID)).Records(ctx); err != nil {
						b.Fatal(err)
					}
				}
			}
		}
	})

	b.Run("Preload", func(b *testing.B) {
		for b.Loop() {
			if _, err := relq.From[User](db).Preload("posts.comments").Records(ctx); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("EagerLoad", func(b *testing.B) {
		for b.Loop() {
			if _, err := relq.From[User](db).EagerLoad("posts.comments").Records(ctx); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkPreloadConcurrency measures preloading sibling associations in parallel.
func BenchmarkPreloadConcurrency(b *testing.B) {
	ctx := context.Background()
	for _, n := range []int{1, 4} {
		cfg := relq.DefaultConfig()
		cfg.Relation.PreloadConcurrency = n
		cfg.Logging.Level = "error"
		db := setupBenchDB(b, 20, 5, relq.WithConfig(cfg))

		b.Run(map[int]string{1: "Serial", 4: "Concurrent4"}[n], func(b *testing.B) {
			for b.Loop() {
				if _, err := relq.From[Post](db).Preload("author", "comments").Records(ctx); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkStmtCache compares running the same count with and without
// prepared statement caching.
func BenchmarkStmtCache(b *testing.B) {
	ctx := context.Background()
	for name, opts := range map[string][]relq.Option{
		"Uncached": nil,
		"Cached":   {relq.WithStmtCacheCapacity(64)},
	} {
		db := setupBenchDB(b, 10, 10, opts...)
		b.Run(name, func(b *testing.B) {
			for b.Loop() {
				if _, err := relq.From[Post](db).Where(relq.Gt("views", 50)).Count(ctx); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkFindInBatches measures walking 1000 posts in keyset batches.
func BenchmarkFindInBatches(b *testing.B) {
	db := setupBenchDB(b, 50, 20)
	ctx := context.Background()

	for b.Loop() {
		err := relq.From[Post](db).FindInBatches(ctx, func([]*Post) error { return nil }, relq.BatchSize(100))
		if err != nil {
			b.Fatal(err)
		}
	}
}
