package api

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidEmail(t *testing.T) {
	for _, ok := range []string{"user@example.com", "a.b+tag@sub.example.org"} {
		assert.True(t, validEmail(ok), ok)
	}
	for _, bad := range []string{"", "user", "user@", "@example.com", "User Name <user@example.com>", "user@example.com "} {
		assert.False(t, validEmail(bad), bad)
	}
}

func TestValidPassword(t *testing.T) {
	for _, ok := range []string{"Passw0rd!", "aB3$aB3$", "Tr0ub4dor&3"} {
		assert.True(t, validPassword(ok), ok)
	}
	for _, bad := range []string{
		"",
		"alllowercase1!",  // no upper
		"ALLUPPERCASE1!",  // no lower
		"NoDigitsHere!",   // no digit
		"NoSpecials123ab", // no special
		"aB1!",            // too short
	} {
		assert.False(t, validPassword(bad), bad)
	}
}

func TestParseAmount(t *testing.T) {
	d, ok := parseAmount("12.5")
	require.True(t, ok)
	assert.Equal(t, "12.5", d.String())

	_, ok = parseAmount("0")
	assert.False(t, ok)
	for _, bad := range []string{"", "-1", "+1", "1e9", ".5", "1.", "12,5", "0x10", " 1"} {
		_, ok := parseAmount(bad)
		assert.False(t, ok, bad)
	}
}

func TestNormalizeAddress(t *testing.T) {
	got, ok := normalizeAddress("0xAbCdEf0123456789aBcDeF0123456789AbCdEf01")
	require.True(t, ok)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", got)

	for _, bad := range []string{"", "0x123", "abcdef0123456789abcdef0123456789abcdef01", "0xZZcdef0123456789abcdef0123456789abcdef01"} {
		_, ok := normalizeAddress(bad)
		assert.False(t, ok, bad)
	}
}

func TestValidTOTP(t *testing.T) {
	assert.True(t, validTOTP("012345"))
	for _, bad := range []string{"", "12345", "1234567", "12345a"} {
		assert.False(t, validTOTP(bad), bad)
	}
}

func TestValidSecondFactor(t *testing.T) {
	for _, ok := range []string{"012345", "ABCD2345", "abcd2345"} {
		assert.True(t, validSecondFactor(ok), ok)
	}
	for _, bad := range []string{"", "12345", "ABC2345", "ABCDE2345", "ABC 2345", "ABCD-234"} {
		assert.False(t, validSecondFactor(bad), bad)
	}
}

func TestPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctxFor := func(query string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", "/x?"+query, nil)
		return c
	}

	limit, offset := pagination(ctxFor(""))
	assert.Equal(t, 20, limit)
	assert.Equal(t, 0, offset)

	limit, offset = pagination(ctxFor("limit=50&offset=100"))
	assert.Equal(t, 50, limit)
	assert.Equal(t, 100, offset)

	// Out-of-range values fall back to the defaults.
	limit, offset = pagination(ctxFor("limit=1000&offset=-5"))
	assert.Equal(t, 20, limit)
	assert.Equal(t, 0, offset)
}
