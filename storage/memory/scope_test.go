package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keygrant/keygrant/domain"
	"github.com/keygrant/keygrant/storage"
)

func seedAuthorizationCode(t *testing.T, s *Store) *domain.AuthorizationCode {
	t.Helper()
	app := storeApplication(t)
	ac, _, err := app.CreateAuthorizationCode(storePermissions(t, "Invoices.Read"), time.Now(), time.Minute)
	if err != nil {
		t.Fatalf("CreateAuthorizationCode() error = %v", err)
	}
	if err := s.SaveAuthorizationCode(context.Background(), ac); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}
	return ac
}

func TestScopeReadYourWrites(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sc, err := s.BeginScope(ctx)
	if err != nil {
		t.Fatalf("BeginScope() error = %v", err)
	}
	defer sc.Close()

	app := storeApplication(t)
	if err := sc.Applications().SaveApplication(ctx, app); err != nil {
		t.Fatalf("SaveApplication() error = %v", err)
	}

	// Visible inside the scope before Complete
	got, err := sc.Applications().GetApplication(ctx, app.ID)
	if err != nil {
		t.Fatalf("GetApplication() in scope error = %v", err)
	}
	if got.Name != app.Name {
		t.Errorf("GetApplication().Name = %q, want %q", got.Name, app.Name)
	}

	// Invisible outside the scope before Complete
	if _, err := s.GetApplication(ctx, app.ID); !errors.Is(err, storage.ErrApplicationNotFound) {
		t.Errorf("GetApplication() outside scope error = %v, want ErrApplicationNotFound", err)
	}

	if err := sc.Complete(ctx); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if _, err := s.GetApplication(ctx, app.ID); err != nil {
		t.Errorf("GetApplication() after Complete error = %v", err)
	}
}

func TestScopeCloseDiscardsWrites(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ac := seedAuthorizationCode(t, s)

	sc, err := s.BeginScope(ctx)
	if err != nil {
		t.Fatalf("BeginScope() error = %v", err)
	}

	loaded, err := sc.AuthorizationCodes().GetAuthorizationCode(ctx, ac.ID)
	if err != nil {
		t.Fatalf("GetAuthorizationCode() error = %v", err)
	}
	loaded.Used = true
	if err := sc.AuthorizationCodes().UpdateAuthorizationCode(ctx, loaded); err != nil {
		t.Fatalf("UpdateAuthorizationCode() error = %v", err)
	}
	if err := sc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got, err := s.GetAuthorizationCode(ctx, ac.ID)
	if err != nil {
		t.Fatalf("GetAuthorizationCode() error = %v", err)
	}
	if got.Used {
		t.Error("Close() leaked a staged write into the store")
	}
}

func TestScopeConflictOnCodeDoubleSpend(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ac := seedAuthorizationCode(t, s)

	consume := func(sc storage.TransactionScope) error {
		loaded, err := sc.AuthorizationCodes().GetAuthorizationCode(ctx, ac.ID)
		if err != nil {
			return err
		}
		loaded.Used = true
		return sc.AuthorizationCodes().UpdateAuthorizationCode(ctx, loaded)
	}

	first, err := s.BeginScope(ctx)
	if err != nil {
		t.Fatalf("BeginScope() error = %v", err)
	}
	defer first.Close()
	second, err := s.BeginScope(ctx)
	if err != nil {
		t.Fatalf("BeginScope() error = %v", err)
	}
	defer second.Close()

	// Both scopes read the same version, both stage the spend
	if err := consume(first); err != nil {
		t.Fatalf("consume(first) error = %v", err)
	}
	if err := consume(second); err != nil {
		t.Fatalf("consume(second) error = %v", err)
	}

	if err := first.Complete(ctx); err != nil {
		t.Fatalf("first Complete() error = %v", err)
	}
	if err := second.Complete(ctx); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second Complete() error = %v, want ErrConflict", err)
	}

	got, err := s.GetAuthorizationCode(ctx, ac.ID)
	if err != nil {
		t.Fatalf("GetAuthorizationCode() error = %v", err)
	}
	if !got.Used {
		t.Error("winning scope did not persist the spend")
	}
}

func TestScopeConflictOnRefreshRotation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	appID := domain.NewApplicationID()
	old := storeRefreshToken(t, appID, "rotating")
	if err := s.SaveRefreshToken(ctx, old); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	rotate := func(sc storage.TransactionScope, successorID string) error {
		loaded, err := sc.RefreshTokens().GetRefreshToken(ctx, "rotating")
		if err != nil {
			return err
		}
		loaded.Used = true
		if err := sc.RefreshTokens().UpdateRefreshToken(ctx, loaded); err != nil {
			return err
		}
		return sc.RefreshTokens().SaveRefreshToken(ctx, storeRefreshToken(t, appID, successorID))
	}

	first, err := s.BeginScope(ctx)
	if err != nil {
		t.Fatalf("BeginScope() error = %v", err)
	}
	defer first.Close()
	second, err := s.BeginScope(ctx)
	if err != nil {
		t.Fatalf("BeginScope() error = %v", err)
	}
	defer second.Close()

	if err := rotate(first, "successor-a"); err != nil {
		t.Fatalf("rotate(first) error = %v", err)
	}
	if err := rotate(second, "successor-b"); err != nil {
		t.Fatalf("rotate(second) error = %v", err)
	}

	if err := first.Complete(ctx); err != nil {
		t.Fatalf("first Complete() error = %v", err)
	}
	if err := second.Complete(ctx); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second Complete() error = %v, want ErrConflict", err)
	}

	// Only the winner's successor exists
	if _, err := s.GetRefreshToken(ctx, "successor-a"); err != nil {
		t.Errorf("GetRefreshToken(successor-a) error = %v", err)
	}
	if _, err := s.GetRefreshToken(ctx, "successor-b"); !errors.Is(err, storage.ErrRefreshTokenNotFound) {
		t.Errorf("GetRefreshToken(successor-b) error = %v, want ErrRefreshTokenNotFound", err)
	}
}

func TestScopeConflictOnConcurrentCreate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	app := storeApplication(t)

	first, err := s.BeginScope(ctx)
	if err != nil {
		t.Fatalf("BeginScope() error = %v", err)
	}
	defer first.Close()
	second, err := s.BeginScope(ctx)
	if err != nil {
		t.Fatalf("BeginScope() error = %v", err)
	}
	defer second.Close()

	if err := first.Applications().SaveApplication(ctx, app); err != nil {
		t.Fatalf("SaveApplication(first) error = %v", err)
	}
	if err := second.Applications().SaveApplication(ctx, app); err != nil {
		t.Fatalf("SaveApplication(second) error = %v", err)
	}

	if err := first.Complete(ctx); err != nil {
		t.Fatalf("first Complete() error = %v", err)
	}
	if err := second.Complete(ctx); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("second Complete() error = %v, want ErrConflict", err)
	}
}

func TestScopeEmailUniquenessAtCommit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.BeginScope(ctx)
	if err != nil {
		t.Fatalf("BeginScope() error = %v", err)
	}
	defer first.Close()
	second, err := s.BeginScope(ctx)
	if err != nil {
		t.Fatalf("BeginScope() error = %v", err)
	}
	defer second.Close()

	if err := first.Users().SaveUser(ctx, storeUser(t, "taken@example.com")); err != nil {
		t.Fatalf("SaveUser(first) error = %v", err)
	}
	if err := second.Users().SaveUser(ctx, storeUser(t, "taken@example.com")); err != nil {
		t.Fatalf("SaveUser(second) error = %v", err)
	}

	if err := first.Complete(ctx); err != nil {
		t.Fatalf("first Complete() error = %v", err)
	}
	if err := second.Complete(ctx); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("second Complete() error = %v, want ErrConflict", err)
	}

	if _, err := s.GetUserByEmail(ctx, "taken@example.com"); err != nil {
		t.Errorf("GetUserByEmail() after commit error = %v", err)
	}
}

func TestScopeCompleteIsAllOrNothing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.SaveUser(ctx, storeUser(t, "taken@example.com")); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}

	sc, err := s.BeginScope(ctx)
	if err != nil {
		t.Fatalf("BeginScope() error = %v", err)
	}
	defer sc.Close()

	// Stage a valid write before the one that will fail validation
	app := storeApplication(t)
	if err := sc.Applications().SaveApplication(ctx, app); err != nil {
		t.Fatalf("SaveApplication() error = %v", err)
	}
	if err := sc.Users().SaveUser(ctx, storeUser(t, "taken@example.com")); err != nil {
		t.Fatalf("SaveUser() in scope error = %v", err)
	}

	if err := sc.Complete(ctx); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("Complete() error = %v, want ErrConflict", err)
	}

	// The failed commit must not have left the earlier staged write behind
	if _, err := s.GetApplication(ctx, app.ID); !errors.Is(err, storage.ErrApplicationNotFound) {
		t.Errorf("GetApplication() after failed Complete error = %v, want ErrApplicationNotFound", err)
	}
}

func TestScopeClosed(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ac := seedAuthorizationCode(t, s)

	sc, err := s.BeginScope(ctx)
	if err != nil {
		t.Fatalf("BeginScope() error = %v", err)
	}
	if err := sc.Complete(ctx); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if _, err := sc.AuthorizationCodes().GetAuthorizationCode(ctx, ac.ID); !errors.Is(err, storage.ErrScopeClosed) {
		t.Errorf("GetAuthorizationCode() after Complete error = %v, want ErrScopeClosed", err)
	}
	if err := sc.Complete(ctx); !errors.Is(err, storage.ErrScopeClosed) {
		t.Errorf("second Complete() error = %v, want ErrScopeClosed", err)
	}

	closed, err := s.BeginScope(ctx)
	if err != nil {
		t.Fatalf("BeginScope() error = %v", err)
	}
	if err := closed.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := closed.Users().SaveUser(ctx, storeUser(t, "late@example.com")); !errors.Is(err, storage.ErrScopeClosed) {
		t.Errorf("SaveUser() after Close error = %v, want ErrScopeClosed", err)
	}
}
