package services

import (
	"context"
	"errors"
	"testing"

	"github.com/replyloop/go-dm-backend/internal/domain"
)

func validInput() AutomationInput {
	return AutomationInput{
		Name:        "reel funnel",
		MediaKind:   domain.MediaReel,
		MediaID:     "media-1",
		Keywords:    []string{"link"},
		MessageText: "here you go",
	}
}

func TestAutomationCreate_Valid(t *testing.T) {
	db := newServicesDB(t)
	acct := seedEntitledAccount(t, db)
	svc := NewAutomationService(db)

	a, err := svc.Create(context.Background(), acct.ID, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.Status != domain.AutomationActive || a.MessageKind != domain.MessageText {
		t.Fatalf("unexpected defaults: %+v", a)
	}
}

func TestAutomationCreate_Validation(t *testing.T) {
	db := newServicesDB(t)
	acct := seedEntitledAccount(t, db)
	svc := NewAutomationService(db)
	ctx := context.Background()

	in := validInput()
	in.Keywords = []string{""}
	if _, err := svc.Create(ctx, acct.ID, in); !errors.Is(err, ErrNoKeywords) {
		t.Fatalf("expected ErrNoKeywords, got %v", err)
	}

	in = validInput()
	in.MessageText = "   "
	if _, err := svc.Create(ctx, acct.ID, in); !errors.Is(err, ErrNoMessage) {
		t.Fatalf("expected ErrNoMessage, got %v", err)
	}

	in = validInput()
	in.MediaKind = "carousel"
	if _, err := svc.Create(ctx, acct.ID, in); !errors.Is(err, ErrInvalidMediaKind) {
		t.Fatalf("expected ErrInvalidMediaKind, got %v", err)
	}
}

func TestAutomationCreate_KeywordsStoredVerbatim(t *testing.T) {
	db := newServicesDB(t)
	acct := seedEntitledAccount(t, db)
	svc := NewAutomationService(db)
	ctx := context.Background()

	// Keywords match literal substrings, so whitespace-only and padded
	// entries are legal and must survive untrimmed.
	in := validInput()
	in.Keywords = []string{"  ", " link "}
	a, err := svc.Create(ctx, acct.ID, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(a.Keywords) != 2 || a.Keywords[0] != "  " || a.Keywords[1] != " link " {
		t.Fatalf("keywords mutated on create: %q", a.Keywords)
	}
}

func TestAutomationGet_OwnershipEnforced(t *testing.T) {
	db := newServicesDB(t)
	acct := seedEntitledAccount(t, db)
	svc := NewAutomationService(db)
	ctx := context.Background()

	a, err := svc.Create(ctx, acct.ID, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Get(ctx, "someone-else", a.ID); !errors.Is(err, ErrAutomationNotFound) {
		t.Fatalf("foreign account should see not found, got %v", err)
	}
	if _, err := svc.Get(ctx, acct.ID, a.ID); err != nil {
		t.Fatalf("owner should load it: %v", err)
	}
}

func TestAutomationSetStatus(t *testing.T) {
	db := newServicesDB(t)
	acct := seedEntitledAccount(t, db)
	svc := NewAutomationService(db)
	ctx := context.Background()

	a, err := svc.Create(ctx, acct.ID, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.SetStatus(ctx, acct.ID, a.ID, domain.AutomationPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got, _ := svc.Get(ctx, acct.ID, a.ID)
	if got.Status != domain.AutomationPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}

	// Disabled is reserved for the entitlement sweeps.
	if err := svc.SetStatus(ctx, acct.ID, a.ID, domain.AutomationDisabled); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestAutomationUpdate(t *testing.T) {
	db := newServicesDB(t)
	acct := seedEntitledAccount(t, db)
	svc := NewAutomationService(db)
	ctx := context.Background()

	a, err := svc.Create(ctx, acct.ID, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	in := validInput()
	in.Name = "renamed"
	in.Keywords = []string{"price", "cost"}
	got, err := svc.Update(ctx, acct.ID, a.ID, in)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Name != "renamed" || len(got.Keywords) != 2 {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestAutomationDelete(t *testing.T) {
	db := newServicesDB(t)
	acct := seedEntitledAccount(t, db)
	svc := NewAutomationService(db)
	ctx := context.Background()

	a, err := svc.Create(ctx, acct.ID, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(ctx, acct.ID, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, acct.ID, a.ID); !errors.Is(err, ErrAutomationNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestAutomationDispatchPage(t *testing.T) {
	db := newServicesDB(t)
	acct := seedEntitledAccount(t, db)
	svc := NewAutomationService(db)
	ctx := context.Background()

	a, err := svc.Create(ctx, acct.ID, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	items, total, err := svc.DispatchPage(ctx, acct.ID, a.ID, 1, 10)
	if err != nil {
		t.Fatalf("DispatchPage: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Fatalf("expected empty history, got %d/%d", len(items), total)
	}
}
