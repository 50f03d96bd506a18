package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/replyloop/go-dm-backend/internal/domain"
)

func newJobRepoDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("job_repo_test_%d.db", time.Now().UnixNano()))
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

	if err := db.AutoMigrate(&domain.DispatchJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestClaimDispatchJob_WinnerTakesIt(t *testing.T) {
	db := newJobRepoDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job, err := CreateDispatchJob(ctx, db, "rec-1", now.Add(-time.Second))
	if err != nil {
		t.Fatalf("CreateDispatchJob: %v", err)
	}

	got, err := ClaimDispatchJob(ctx, db, job.ID, now, 2*time.Minute)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if got == nil || got.Attempts != 1 {
		t.Fatalf("expected claimed job with attempts=1, got %+v", got)
	}

	// A second claim within the TTL loses.
	lost, err := ClaimDispatchJob(ctx, db, job.ID, now, 2*time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if lost != nil {
		t.Fatal("second claimer should lose while the claim is fresh")
	}
}

func TestClaimDispatchJob_NotDueYet(t *testing.T) {
	db := newJobRepoDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job, err := CreateDispatchJob(ctx, db, "rec-1", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateDispatchJob: %v", err)
	}
	got, err := ClaimDispatchJob(ctx, db, job.ID, now, 2*time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got != nil {
		t.Fatal("future-dated job must not be claimable")
	}
}

func TestClaimDispatchJob_StaleClaimIsReclaimable(t *testing.T) {
	db := newJobRepoDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job, err := CreateDispatchJob(ctx, db, "rec-1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CreateDispatchJob: %v", err)
	}
	if _, err := ClaimDispatchJob(ctx, db, job.ID, now.Add(-10*time.Minute), 2*time.Minute); err != nil {
		t.Fatalf("initial claim: %v", err)
	}

	got, err := ClaimDispatchJob(ctx, db, job.ID, now, 2*time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if got == nil || got.Attempts != 2 {
		t.Fatalf("stale claim should be reclaimable, got %+v", got)
	}
}

func TestRescheduleDispatchJob_ReleasesClaim(t *testing.T) {
	db := newJobRepoDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job, err := CreateDispatchJob(ctx, db, "rec-1", now.Add(-time.Second))
	if err != nil {
		t.Fatalf("CreateDispatchJob: %v", err)
	}
	if _, err := ClaimDispatchJob(ctx, db, job.ID, now, 2*time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := RescheduleDispatchJob(ctx, db, job.ID, now.Add(-time.Millisecond)); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	got, err := ClaimDispatchJob(ctx, db, job.ID, now, 2*time.Minute)
	if err != nil {
		t.Fatalf("claim after reschedule: %v", err)
	}
	if got == nil {
		t.Fatal("rescheduled job should be claimable once due")
	}
}

func TestCompleteDispatchJob_Terminal(t *testing.T) {
	db := newJobRepoDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job, err := CreateDispatchJob(ctx, db, "rec-1", now.Add(-time.Second))
	if err != nil {
		t.Fatalf("CreateDispatchJob: %v", err)
	}
	if err := CompleteDispatchJob(ctx, db, job.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := ClaimDispatchJob(ctx, db, job.ID, now, 2*time.Minute)
	if err != nil {
		t.Fatalf("claim after completion: %v", err)
	}
	if got != nil {
		t.Fatal("completed job must never be claimed again")
	}
}

func TestListDueDispatchJobs(t *testing.T) {
	db := newJobRepoDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due, err := CreateDispatchJob(ctx, db, "rec-due", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("create due: %v", err)
	}
	if _, err := CreateDispatchJob(ctx, db, "rec-future", now.Add(time.Hour)); err != nil {
		t.Fatalf("create future: %v", err)
	}
	done, err := CreateDispatchJob(ctx, db, "rec-done", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("create done: %v", err)
	}
	if err := CompleteDispatchJob(ctx, db, done.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	jobs, err := ListDueDispatchJobs(ctx, db, now, 2*time.Minute, 10)
	if err != nil {
		t.Fatalf("ListDueDispatchJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != due.ID {
		t.Fatalf("expected only the due job, got %+v", jobs)
	}
}
