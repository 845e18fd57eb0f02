package api

import (
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/gin-gonic/gin"
)

var (
	amountPattern       = regexp.MustCompile(`^\d+(\.\d+)?$`)
	addressPattern      = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	totpPattern         = regexp.MustCompile(`^\d{6}$`)
	recoveryCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{8}$`)
)

// validEmail accepts RFC 5322 addresses without display names.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// validPassword demands length 8..128 with at least one lower, one
// upper, one digit and one special character.
func validPassword(s string) bool {
	if len(s) < 8 || len(s) > 128 {
		return false
	}
	var lower, upper, digit, special bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	return lower && upper && digit && special
}

// parseAmount parses a positive decimal amount in canonical form. The
// regexp refuses scientific notation, signs and leading dots before the
// decimal parser ever sees the string.
func parseAmount(s string) (decimal.Decimal, bool) {
	if !amountPattern.MatchString(s) {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

// normalizeAddress validates an EVM address and lowercases it.
func normalizeAddress(s string) (string, bool) {
	if !addressPattern.MatchString(s) {
		return "", false
	}
	return strings.ToLower(s), true
}

func validTOTP(s string) bool { return totpPattern.MatchString(s) }

// validSecondFactor accepts either a 6-digit TOTP code or an
// 8-character recovery code; the auth service decides which it is.
func validSecondFactor(s string) bool {
	return totpPattern.MatchString(s) || recoveryCodePattern.MatchString(s)
}

// pagination reads ?limit and ?offset with bounds 1..100 and >= 0.
func pagination(c *gin.Context) (limit, offset int) {
	limit = 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= 100 {
			limit = n
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
