package account

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/pkozlov/bankledger/internal/currency"
)

// currencyDigit encodes the account currency into the number body.
var currencyDigit = map[currency.Code]byte{
	currency.USD: '1',
	currency.EUR: '2',
	currency.GBP: '3',
	currency.KES: '4',
	currency.PLN: '5',
}

// NumberGenerator produces 16-digit account numbers carrying the bank and
// branch identity, the currency, and a Luhn check digit.
type NumberGenerator struct {
	bankCode   string // 2 digits
	branchCode string // 3 digits
}

// NewNumberGenerator creates a generator for the given bank and branch codes.
func NewNumberGenerator(bankCode, branchCode string) *NumberGenerator {
	return &NumberGenerator{bankCode: bankCode, branchCode: branchCode}
}

// Generate returns a fresh 16-digit account number:
// bank(2) + branch(3) + currency(1) + random(9) + check(1).
func (g *NumberGenerator) Generate(cur currency.Code) (string, error) {
	digit, ok := currencyDigit[cur]
	if !ok {
		return "", fmt.Errorf("no account number encoding for currency %s", cur)
	}

	body := make([]byte, 0, 15)
	body = append(body, g.bankCode...)
	body = append(body, g.branchCode...)
	body = append(body, digit)
	for i := 0; i < 9; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate account number: %w", err)
		}
		body = append(body, byte('0'+n.Int64()))
	}

	return string(body) + string(rune('0'+luhnCheckDigit(string(body)))), nil
}

// ValidNumber reports whether number is 16 digits with a correct Luhn check.
func ValidNumber(number string) bool {
	if len(number) != 16 {
		return false
	}
	for _, c := range number {
		if c < '0' || c > '9' {
			return false
		}
	}
	return luhnCheckDigit(number[:15]) == int(number[15]-'0')
}

// luhnCheckDigit computes the check digit for a numeric body.
func luhnCheckDigit(body string) int {
	sum := 0
	// Walk right to left; the check digit position makes every body digit
	// counted from an odd position, so doubling starts at the last one.
	double := true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}
