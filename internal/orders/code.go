package orders

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
)

const codeLen = 5

// GenerateCode draws a delivery code uniformly from [10000, 99999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(90000))
	if err != nil {
		return "", fmt.Errorf("generate delivery code: %w", err)
	}
	return fmt.Sprintf("%05d", n.Int64()+10000), nil
}

// ValidCode reports whether s is exactly five ASCII digits.
func ValidCode(s string) bool {
	if len(s) != codeLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// CodeMatches compares the entered code with the stored one. Surrounding
// whitespace is ignored; anything else must match exactly.
func CodeMatches(stored, entered string) bool {
	entered = strings.TrimSpace(entered)
	if !ValidCode(entered) || !ValidCode(stored) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(entered)) == 1
}
