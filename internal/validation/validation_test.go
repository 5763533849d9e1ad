package validation

import "testing"

func TestIsValidCode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"USD", true},
		{"USD_COIN", true},
		{"alice-01", false}, // lowercase not allowed
		{"", false},
		{"has space", false},
	}

	for _, tc := range tests {
		if got := IsValidCode(tc.code); got != tc.valid {
			t.Errorf("IsValidCode(%q) = %v, want %v", tc.code, got, tc.valid)
		}
	}
}

func TestValidate(t *testing.T) {
	errors := Validate(
		Required("name", "alice"),
		ValidCode("equivalent", "USD"),
	)
	if len(errors) != 0 {
		t.Errorf("expected no errors, got %v", errors)
	}

	errors = Validate(
		Required("name", ""),
		ValidCode("equivalent", "usd!"),
	)
	if len(errors) != 2 {
		t.Errorf("expected 2 errors, got %d", len(errors))
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"1.00", true},
		{"0.50", true},
		{"100", true},
		{"0.000001", true},
		{".50", false},
		{"1.", false},
		{"abc", false},
		{"-1.00", false},
		{"1.2.3", false},
	}

	for _, tc := range tests {
		err := ValidAmount("amount", tc.value)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("ValidAmount(%q) valid=%v, want %v", tc.value, valid, tc.valid)
		}
	}
}

func TestMaxLength(t *testing.T) {
	if err := MaxLength("field", "hello", 10)(); err != nil {
		t.Error("expected no error for string under limit")
	}
	if err := MaxLength("field", "hello", 5)(); err != nil {
		t.Error("expected no error for string at limit")
	}
	if err := MaxLength("field", "hello world", 5)(); err == nil {
		t.Error("expected error for string over limit")
	}
}
