package domain

import (
	"testing"
	"time"
)

func testCodeID(t *testing.T) AuthorizationCodeID {
	t.Helper()
	code, err := NewCode()
	if err != nil {
		t.Fatalf("NewCode() error = %v", err)
	}
	id, err := NewAuthorizationCodeID(code, NewApplicationID())
	if err != nil {
		t.Fatalf("NewAuthorizationCodeID() error = %v", err)
	}
	return id
}

func testPermissions(t *testing.T, values ...string) []PermissionID {
	t.Helper()
	out := make([]PermissionID, len(values))
	for i, v := range values {
		p, err := ParsePermissionID(v)
		if err != nil {
			t.Fatalf("ParsePermissionID(%q) error = %v", v, err)
		}
		out[i] = p
	}
	return out
}

func TestNewAuthorizationCode(t *testing.T) {
	id := testCodeID(t)
	now := time.Now()

	ac, err := NewAuthorizationCode(id, now.Add(time.Minute), testPermissions(t, "Invoices.Read"))
	if err != nil {
		t.Fatalf("NewAuthorizationCode() error = %v", err)
	}
	if ac.Used {
		t.Error("fresh authorization code is already used")
	}

	if _, err := NewAuthorizationCode(id, now.Add(time.Minute), nil); err == nil {
		t.Error("NewAuthorizationCode() accepted an empty permission set")
	}
	if _, err := NewAuthorizationCode(AuthorizationCodeID{}, now.Add(time.Minute), testPermissions(t, "Invoices.Read")); err == nil {
		t.Error("NewAuthorizationCode() accepted a zero id")
	}
}

func TestAuthorizationCodeUse(t *testing.T) {
	now := time.Now()

	t.Run("single use succeeds", func(t *testing.T) {
		ac, err := NewAuthorizationCode(testCodeID(t), now.Add(time.Minute), testPermissions(t, "Invoices.Read"))
		if err != nil {
			t.Fatalf("NewAuthorizationCode() error = %v", err)
		}
		if err := ac.Use(now); err != nil {
			t.Fatalf("Use() error = %v", err)
		}
		if !ac.Used {
			t.Error("Use() did not mark the code used")
		}
	})

	t.Run("second use fails", func(t *testing.T) {
		ac, err := NewAuthorizationCode(testCodeID(t), now.Add(time.Minute), testPermissions(t, "Invoices.Read"))
		if err != nil {
			t.Fatalf("NewAuthorizationCode() error = %v", err)
		}
		if err := ac.Use(now); err != nil {
			t.Fatalf("Use() error = %v", err)
		}
		err = ac.Use(now)
		if err == nil {
			t.Fatal("Use() accepted a second consumption")
		}
		if !IsInvalidOperation(err) {
			t.Errorf("Use() error kind = %v, want invalid operation", err)
		}
		if err.Error() != "Authorization code was used." {
			t.Errorf("Use() error = %q, want %q", err.Error(), "Authorization code was used.")
		}
	})

	t.Run("expired code fails", func(t *testing.T) {
		ac, err := NewAuthorizationCode(testCodeID(t), now.Add(time.Minute), testPermissions(t, "Invoices.Read"))
		if err != nil {
			t.Fatalf("NewAuthorizationCode() error = %v", err)
		}
		err = ac.Use(now.Add(2 * time.Minute))
		if err == nil {
			t.Fatal("Use() accepted an expired code")
		}
		if err.Error() != "Authorization code has expired." {
			t.Errorf("Use() error = %q, want %q", err.Error(), "Authorization code has expired.")
		}
		if ac.Used {
			t.Error("failed Use() marked the code used")
		}
	})

	t.Run("expiry is checked before prior use", func(t *testing.T) {
		ac, err := NewAuthorizationCode(testCodeID(t), now.Add(time.Minute), testPermissions(t, "Invoices.Read"))
		if err != nil {
			t.Fatalf("NewAuthorizationCode() error = %v", err)
		}
		ac.Used = true
		err = ac.Use(now.Add(2 * time.Minute))
		if err == nil {
			t.Fatal("Use() accepted an expired, used code")
		}
		if err.Error() != "Authorization code has expired." {
			t.Errorf("Use() error = %q, want the expiry message", err.Error())
		}
	})

	t.Run("boundary instant is not expired", func(t *testing.T) {
		expiry := now.Add(time.Minute)
		ac, err := NewAuthorizationCode(testCodeID(t), expiry, testPermissions(t, "Invoices.Read"))
		if err != nil {
			t.Fatalf("NewAuthorizationCode() error = %v", err)
		}
		if err := ac.Use(expiry); err != nil {
			t.Errorf("Use() at the expiry instant error = %v", err)
		}
	})
}
