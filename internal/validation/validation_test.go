package validation

import (
	"testing"

	"github.com/pkozlov/bankledger/internal/account"
	"github.com/pkozlov/bankledger/internal/currency"
)

func validNumber(t *testing.T) string {
	t.Helper()
	num, err := account.NewNumberGenerator("12", "060").Generate(currency.USD)
	if err != nil {
		t.Fatal(err)
	}
	return num
}

func TestValidate_CollectsErrors(t *testing.T) {
	errs := Validate(
		Required("from_account", ""),
		Required("amount", "10.00"),
		MaxLength("description", "ok", 100),
	)
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != "from_account" {
		t.Errorf("Wrong field: %s", errs[0].Field)
	}
}

func TestValidAccountNumber(t *testing.T) {
	num := validNumber(t)

	if err := ValidAccountNumber("to_account", num)(); err != nil {
		t.Errorf("Valid number rejected: %v", err)
	}
	if err := ValidAccountNumber("to_account", "1234")(); err == nil {
		t.Error("Short number accepted")
	}

	// Flip the check digit.
	bad := num[:15] + string('0'+(num[15]-'0'+1)%10)
	if err := ValidAccountNumber("to_account", bad)(); err == nil {
		t.Error("Bad check digit accepted")
	}

	// Empty is Required's job.
	if err := ValidAccountNumber("to_account", "")(); err != nil {
		t.Errorf("Empty value should pass: %v", err)
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"10.00", true},
		{"0.01", true},
		{"1000000", true},
		{"0", false},
		{"-5.00", false},
		{"1.234", false},
		{"ten", false},
		{"1.2.3", false},
		{"", true}, // Required's job
	}
	for _, tt := range tests {
		err := ValidAmount("amount", tt.value)()
		if tt.ok && err != nil {
			t.Errorf("ValidAmount(%q) = %v, want nil", tt.value, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("ValidAmount(%q) accepted", tt.value)
		}
	}
}

func TestValidOTP(t *testing.T) {
	if err := ValidOTP("otp", "042137")(); err != nil {
		t.Errorf("Valid OTP rejected: %v", err)
	}
	for _, bad := range []string{"12345", "1234567", "12345a"} {
		if err := ValidOTP("otp", bad)(); err == nil {
			t.Errorf("ValidOTP(%q) accepted", bad)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("SanitizeString = %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("SanitizeString truncation = %q", got)
	}
}
