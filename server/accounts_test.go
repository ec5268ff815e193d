package server

import (
	"context"
	"testing"

	"github.com/keygrant/keygrant/domain"
	"github.com/keygrant/keygrant/events"
	"github.com/keygrant/keygrant/internal/testutil"
)

func hasEventType(sink *testutil.CaptureSink, eventType string) bool {
	for _, typ := range sink.Types() {
		if typ == eventType {
			return true
		}
	}
	return false
}

func TestRegisterUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.server.RegisterUser(ctx, "alice@example.com", testPassword)
	if err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("Email = %q, want %q", user.Email, "alice@example.com")
	}
	if !hasEventType(f.sink, events.TypeUserCreated) {
		t.Errorf("event types = %v, want to include %q", f.sink.Types(), events.TypeUserCreated)
	}

	_, err = f.server.RegisterUser(ctx, "alice@example.com", "another password")
	if !domain.IsInvalidArgument(err) || err.Error() != "Email address is already registered." {
		t.Errorf("duplicate email error = %v, want %q", err, "Email address is already registered.")
	}

	if _, err := f.server.RegisterUser(ctx, "not-an-address", testPassword); !domain.IsInvalidArgument(err) {
		t.Errorf("malformed email error = %v, want invalid argument", err)
	}
}

func TestAuthenticateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.registerOwner(t)

	user, err := f.server.AuthenticateUser(ctx, registered.Email, testPassword)
	if err != nil {
		t.Fatalf("AuthenticateUser() error = %v", err)
	}
	if user.ID != registered.ID {
		t.Errorf("ID = %v, want %v", user.ID, registered.ID)
	}

	// Unknown email and wrong password are indistinguishable
	_, errWrongPassword := f.server.AuthenticateUser(ctx, registered.Email, "wrong password")
	_, errUnknownEmail := f.server.AuthenticateUser(ctx, "nobody@example.com", testPassword)
	for _, err := range []error{errWrongPassword, errUnknownEmail} {
		if !domain.IsInvalidArgument(err) || err.Error() != "Wrong email or password given." {
			t.Errorf("error = %v, want %q", err, "Wrong email or password given.")
		}
	}
}

func TestChangeUserPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.registerOwner(t)

	err := f.server.ChangeUserPassword(ctx, user.ID, "wrong password", "new password")
	if !domain.IsInvalidArgument(err) || err.Error() != "Wrong password given." {
		t.Errorf("wrong current password error = %v, want %q", err, "Wrong password given.")
	}

	if err := f.server.ChangeUserPassword(ctx, user.ID, testPassword, "new password"); err != nil {
		t.Fatalf("ChangeUserPassword() error = %v", err)
	}
	if _, err := f.server.AuthenticateUser(ctx, user.Email, "new password"); err != nil {
		t.Errorf("AuthenticateUser() with new password error = %v", err)
	}
	if _, err := f.server.AuthenticateUser(ctx, user.Email, testPassword); err == nil {
		t.Error("AuthenticateUser() still accepts the old password")
	}
}

func TestRegisterApplication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.registerOwner(t)

	app, secret := f.registerApplication(t, owner.ID)
	if secret == "" {
		t.Fatal("RegisterApplication() returned an empty secret")
	}
	if app.OwnerID != owner.ID {
		t.Errorf("OwnerID = %v, want %v", app.OwnerID, owner.ID)
	}
	if !hasEventType(f.sink, events.TypeApplicationCreated) {
		t.Errorf("event types = %v, want to include %q", f.sink.Types(), events.TypeApplicationCreated)
	}

	if err := f.server.VerifyApplicationSecret(ctx, app.ID, secret); err != nil {
		t.Errorf("VerifyApplicationSecret() error = %v", err)
	}
	err := f.server.VerifyApplicationSecret(ctx, app.ID, "wrong secret")
	if !domain.IsInvalidArgument(err) || err.Error() != "Wrong secret key given." {
		t.Errorf("wrong secret error = %v, want %q", err, "Wrong secret key given.")
	}

	_, _, err = f.server.RegisterApplication(ctx, domain.NewUserID(), "Orphan", "https://orphan.example.com", testCallbackURL)
	if !domain.IsNotFound(err) || err.Error() != "User not found." {
		t.Errorf("unknown owner error = %v, want %q", err, "User not found.")
	}
}

func TestRegenerateSecretKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.registerOwner(t)
	app, oldSecret := f.registerApplication(t, owner.ID)

	newSecret, err := f.server.RegenerateSecretKey(ctx, app.ID)
	if err != nil {
		t.Fatalf("RegenerateSecretKey() error = %v", err)
	}
	if newSecret == oldSecret {
		t.Fatal("RegenerateSecretKey() returned the old secret")
	}

	if err := f.server.VerifyApplicationSecret(ctx, app.ID, newSecret); err != nil {
		t.Errorf("VerifyApplicationSecret(new) error = %v", err)
	}
	if err := f.server.VerifyApplicationSecret(ctx, app.ID, oldSecret); err == nil {
		t.Error("old secret key still verifies")
	}
	if !hasEventType(f.sink, events.TypeSecretKeyRegenerated) {
		t.Errorf("event types = %v, want to include %q", f.sink.Types(), events.TypeSecretKeyRegenerated)
	}

	if _, err := f.server.RegenerateSecretKey(ctx, domain.NewApplicationID()); !domain.IsNotFound(err) {
		t.Errorf("unknown application error = %v, want not found", err)
	}
}

func TestPermissionGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.registerOwner(t)
	permission := testutil.MustPermission(t, "Invoices.Read")

	if err := f.server.GrantUserPermission(ctx, user.ID, permission); err != nil {
		t.Fatalf("GrantUserPermission() error = %v", err)
	}
	err := f.server.GrantUserPermission(ctx, user.ID, permission)
	if !domain.IsInvalidOperation(err) || err.Error() != "User already has this permission." {
		t.Errorf("duplicate grant error = %v, want %q", err, "User already has this permission.")
	}

	if err := f.server.RevokeUserPermission(ctx, user.ID, permission); err != nil {
		t.Fatalf("RevokeUserPermission() error = %v", err)
	}
	err = f.server.RevokeUserPermission(ctx, user.ID, permission)
	if !domain.IsInvalidOperation(err) || err.Error() != "User does not have this permission." {
		t.Errorf("absent revoke error = %v, want %q", err, "User does not have this permission.")
	}

	if !hasEventType(f.sink, events.TypePermissionObtained) || !hasEventType(f.sink, events.TypePermissionRevoked) {
		t.Errorf("event types = %v, want permission grant and revoke events", f.sink.Types())
	}
}

func TestRoleAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.registerOwner(t)

	role, err := f.server.CreateRole(ctx, "Accountant", "Reads and writes invoices",
		testutil.MustPermissions(t, "Invoices.Read", "Invoices.Write"))
	if err != nil {
		t.Fatalf("CreateRole() error = %v", err)
	}
	if !hasEventType(f.sink, events.TypeRoleCreated) {
		t.Errorf("event types = %v, want to include %q", f.sink.Types(), events.TypeRoleCreated)
	}

	err = f.server.AssignUserRole(ctx, user.ID, domain.NewRoleID())
	if !domain.IsNotFound(err) || err.Error() != "Role not found." {
		t.Errorf("unknown role error = %v, want %q", err, "Role not found.")
	}

	if err := f.server.AssignUserRole(ctx, user.ID, role.ID); err != nil {
		t.Fatalf("AssignUserRole() error = %v", err)
	}
	err = f.server.AssignUserRole(ctx, user.ID, role.ID)
	if !domain.IsInvalidOperation(err) || err.Error() != "User already has this role." {
		t.Errorf("duplicate assignment error = %v, want %q", err, "User already has this role.")
	}

	if err := f.server.RemoveUserRole(ctx, user.ID, role.ID); err != nil {
		t.Fatalf("RemoveUserRole() error = %v", err)
	}
	err = f.server.RemoveUserRole(ctx, user.ID, role.ID)
	if !domain.IsInvalidOperation(err) || err.Error() != "User does not have this role." {
		t.Errorf("absent removal error = %v, want %q", err, "User does not have this role.")
	}

	if !hasEventType(f.sink, events.TypeRoleAssigned) || !hasEventType(f.sink, events.TypeRoleRemoved) {
		t.Errorf("event types = %v, want role assignment and removal events", f.sink.Types())
	}
}

func TestEventTimestamps(t *testing.T) {
	f := newFixture(t)
	f.registerOwner(t)

	recorded := f.sink.Events()
	if len(recorded) == 0 {
		t.Fatal("no events recorded")
	}
	for _, event := range recorded {
		if !event.Timestamp.Equal(testEpoch) {
			t.Errorf("Timestamp = %v, want %v", event.Timestamp, testEpoch)
		}
	}
}
