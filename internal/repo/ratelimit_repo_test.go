package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/replyloop/go-dm-backend/internal/domain"
)

func newRateLimitDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("ratelimit_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := db.AutoMigrate(&domain.RateLimitWindow{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestGetActiveRateLimitWindow_NotFound(t *testing.T) {
	db := newRateLimitDB(t)
	_, err := GetActiveRateLimitWindow(context.Background(), db, "acct-1", "dm_send", time.Now().UTC())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementRateLimitWindow_CountsWithinWindow(t *testing.T) {
	db := newRateLimitDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if err := IncrementRateLimitWindow(ctx, db, "acct-1", "dm_send", now, 24*time.Hour); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}

	w, err := GetActiveRateLimitWindow(ctx, db, "acct-1", "dm_send", now)
	if err != nil {
		t.Fatalf("GetActiveRateLimitWindow: %v", err)
	}
	if w.Count != 3 {
		t.Fatalf("expected count 3, got %d", w.Count)
	}
}

func TestIncrementRateLimitWindow_RollsOverExpiredWindow(t *testing.T) {
	db := newRateLimitDB(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-48 * time.Hour)

	for i := 0; i < 5; i++ {
		if err := IncrementRateLimitWindow(ctx, db, "acct-1", "dm_send", past, 24*time.Hour); err != nil {
			t.Fatalf("seed increment: %v", err)
		}
	}

	now := time.Now().UTC()
	if err := IncrementRateLimitWindow(ctx, db, "acct-1", "dm_send", now, 24*time.Hour); err != nil {
		t.Fatalf("rollover increment: %v", err)
	}

	w, err := GetActiveRateLimitWindow(ctx, db, "acct-1", "dm_send", now)
	if err != nil {
		t.Fatalf("GetActiveRateLimitWindow: %v", err)
	}
	if w.Count != 1 {
		t.Fatalf("rollover should reset the count to 1, got %d", w.Count)
	}
	if !w.WindowEnd.After(now) {
		t.Fatalf("rolled-over window should extend past now: %v", w.WindowEnd)
	}

	// Exactly one row per (account, action) regardless of rollovers.
	var rows int64
	if err := db.Model(&domain.RateLimitWindow{}).Count(&rows).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected a single window row, got %d", rows)
	}
}

func TestIncrementRateLimitWindow_SeparateActionKinds(t *testing.T) {
	db := newRateLimitDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := IncrementRateLimitWindow(ctx, db, "acct-1", "dm_send", now, time.Hour); err != nil {
		t.Fatalf("increment dm_send: %v", err)
	}
	if err := IncrementRateLimitWindow(ctx, db, "acct-1", "public_reply", now, time.Hour); err != nil {
		t.Fatalf("increment public_reply: %v", err)
	}

	w, err := GetActiveRateLimitWindow(ctx, db, "acct-1", "dm_send", now)
	if err != nil || w.Count != 1 {
		t.Fatalf("dm_send window: %+v, %v", w, err)
	}
}
