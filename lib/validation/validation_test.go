package validation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRequired(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"alice", false},
		{"", true},
		{"   ", true},
		{"\t\n", true},
	}
	for _, tc := range tests {
		err := Required("identifier", tc.value)
		if (err != nil) != tc.wantErr {
			t.Errorf("Required(%q) error = %v, wantErr %v", tc.value, err, tc.wantErr)
		}
		if err != nil && !errors.Is(err, ErrRequired) {
			t.Errorf("Required(%q) should wrap ErrRequired", tc.value)
		}
	}
}

func TestMaxLengthCountsRunes(t *testing.T) {
	// 4 characters, 8 bytes
	value := "ñöüß"
	if err := MaxLength("identifier", value, 4); err != nil {
		t.Errorf("4 runes should fit a 4-character limit: %v", err)
	}
	if err := MaxLength("identifier", value, 3); !errors.Is(err, ErrTooLong) {
		t.Errorf("expected ErrTooLong, got %v", err)
	}
}

func TestMaxBytesCountsBytes(t *testing.T) {
	if err := MaxBytes("secret", "ñöüß", 4); !errors.Is(err, ErrTooLong) {
		t.Errorf("8 bytes should exceed a 4-byte limit, got %v", err)
	}
	if err := MaxBytes("secret", "abcd", 4); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr error
	}{
		{"plain", "alice@example.com", nil},
		{"empty passes", "", nil},
		{"unicode", "usuário", nil},
		{"too long", strings.Repeat("a", MaxIdentifierLength+1), ErrTooLong},
		{"control char", "alice\x00", ErrInvalidFormat},
		{"newline", "alice\nbob", ErrInvalidFormat},
		{"invalid utf8", "\xff\xfe", ErrInvalidFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Identifier("identifier", tc.value)
			if tc.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSecret(t *testing.T) {
	if err := Secret("secret", strings.Repeat("x", MaxSecretBytes)); err != nil {
		t.Errorf("a %d-byte secret should pass: %v", MaxSecretBytes, err)
	}
	if err := Secret("secret", strings.Repeat("x", MaxSecretBytes+1)); !errors.Is(err, ErrTooLong) {
		t.Errorf("expected ErrTooLong, got %v", err)
	}
	if err := Secret("secret", "with\ttab and \x01 bytes"); err != nil {
		t.Errorf("secret content must not be restricted: %v", err)
	}
}

func TestNumericValidators(t *testing.T) {
	if err := Positive("max_connections", 0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Positive(0) should fail, got %v", err)
	}
	if err := Positive("max_connections", 1); err != nil {
		t.Errorf("Positive(1): %v", err)
	}
	if err := NonNegative("min_idle", -1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("NonNegative(-1) should fail, got %v", err)
	}
	if err := NonNegative("min_idle", 0); err != nil {
		t.Errorf("NonNegative(0): %v", err)
	}
	if err := Port("port", 0); err == nil {
		t.Error("port 0 should fail")
	}
	if err := Port("port", 65536); err == nil {
		t.Error("port 65536 should fail")
	}
	if err := Port("port", 5432); err != nil {
		t.Errorf("port 5432: %v", err)
	}
	if err := PositiveDuration("acquire_timeout", 0); err == nil {
		t.Error("zero duration should fail")
	}
	if err := PositiveDuration("acquire_timeout", time.Second); err != nil {
		t.Errorf("1s: %v", err)
	}
}

func TestHostPort(t *testing.T) {
	valid := []string{"127.0.0.1:8080", ":8080", "localhost:80", "[::1]:443"}
	for _, v := range valid {
		if err := HostPort("listen", v); err != nil {
			t.Errorf("HostPort(%q): %v", v, err)
		}
	}
	invalid := []string{"", "localhost", "127.0.0.1:", "::1"}
	for _, v := range invalid {
		if err := HostPort("listen", v); err == nil {
			t.Errorf("HostPort(%q) should fail", v)
		}
	}
}

func TestOneOf(t *testing.T) {
	if err := OneOf("sslmode", "require", "disable", "require"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := OneOf("sslmode", "sometimes", "disable", "require")
	if !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	if !strings.Contains(err.Error(), "disable, require") {
		t.Errorf("message should list the choices: %s", err)
	}
}

func TestResultError(t *testing.T) {
	r := NewResult("identifier", "is required", ErrRequired)
	if r.Error() != "identifier: is required" {
		t.Errorf("unexpected message %q", r.Error())
	}
	if NewResult("", "bad", nil).Error() != "bad" {
		t.Error("a result without field should print the message only")
	}
}

func TestAll(t *testing.T) {
	calls := 0
	err := All(
		func() error { calls++; return nil },
		func() error { calls++; return ErrTooLong },
		func() error { calls++; return nil },
	)
	if !errors.Is(err, ErrTooLong) {
		t.Errorf("expected first error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("All should stop at the first error, ran %d", calls)
	}
}

func TestErrors(t *testing.T) {
	var errs Errors
	errs.Add(nil)
	if errs.HasErrors() || errs.Err() != nil || errs.First() != nil {
		t.Fatal("empty collection should report no errors")
	}

	errs.Add(Required("identifier", ""))
	if errs.Error() != "identifier: is required" {
		t.Errorf("single error message %q", errs.Error())
	}

	errs.Add(Port("port", 0))
	if !strings.HasPrefix(errs.Error(), "multiple validation errors: ") {
		t.Errorf("unexpected message %q", errs.Error())
	}
	if !errors.Is(errs.First(), ErrRequired) {
		t.Error("First should return the first error")
	}
	if errs.Err() == nil {
		t.Error("Err should be non-nil")
	}
}
