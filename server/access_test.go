package server

import (
	"context"
	"testing"

	"github.com/keygrant/keygrant/domain"
	"github.com/keygrant/keygrant/internal/testutil"
)

func TestCheckUserAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	direct := testutil.MustPermission(t, "Invoices.Read")
	carried := testutil.MustPermission(t, "Payments.Write")
	absent := testutil.MustPermission(t, "Reports.Read")

	user := f.registerOwner(t, direct)
	role, err := f.server.CreateRole(ctx, "Cashier", "Writes payments", []domain.PermissionID{carried})
	if err != nil {
		t.Fatalf("CreateRole() error = %v", err)
	}
	if err := f.server.AssignUserRole(ctx, user.ID, role.ID); err != nil {
		t.Fatalf("AssignUserRole() error = %v", err)
	}

	tests := []struct {
		name       string
		permission domain.PermissionID
		want       bool
	}{
		{"direct grant", direct, true},
		{"carried by role", carried, true},
		{"not held", absent, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.server.CheckUserAccess(ctx, user.ID, tt.permission)
			if err != nil {
				t.Fatalf("CheckUserAccess() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CheckUserAccess() = %v, want %v", got, tt.want)
			}
		})
	}

	_, err = f.server.CheckUserAccess(ctx, domain.NewUserID(), direct)
	if !domain.IsNotFound(err) || err.Error() != "User not found." {
		t.Errorf("unknown user error = %v, want %q", err, "User not found.")
	}
}

func TestComparePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	direct := testutil.MustPermission(t, "Invoices.Read")
	carried := testutil.MustPermission(t, "Payments.Write")
	absent := testutil.MustPermission(t, "Reports.Read")

	user := f.registerOwner(t, direct)
	role, err := f.server.CreateRole(ctx, "Cashier", "Writes payments", []domain.PermissionID{carried})
	if err != nil {
		t.Fatalf("CreateRole() error = %v", err)
	}
	if err := f.server.AssignUserRole(ctx, user.ID, role.ID); err != nil {
		t.Fatalf("AssignUserRole() error = %v", err)
	}

	tests := []struct {
		name      string
		requested []domain.PermissionID
		want      bool
	}{
		{"empty request", nil, true},
		{"direct only", []domain.PermissionID{direct}, true},
		{"role only", []domain.PermissionID{carried}, true},
		{"direct and role combined", []domain.PermissionID{direct, carried}, true},
		{"one uncovered", []domain.PermissionID{direct, absent}, false},
		{"all uncovered", []domain.PermissionID{absent}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.server.ComparePermissions(ctx, user.ID, tt.requested)
			if err != nil {
				t.Fatalf("ComparePermissions() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ComparePermissions() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := f.server.ComparePermissions(ctx, domain.NewUserID(), []domain.PermissionID{direct}); !domain.IsNotFound(err) {
		t.Errorf("unknown user error = %v, want not found", err)
	}
}
