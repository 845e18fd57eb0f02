package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func init() { gin.SetMode(gin.TestMode) }

func TestRequestIDEchoesAndGenerates(t *testing.T) {
	e := gin.New()
	e.Use(requestID())
	e.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	e.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCORS(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		e := gin.New()
		e.Use(cors([]string{"*"}))
		e.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://anything.example")
		e.ServeHTTP(rec, req)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("allowed origin echoed with Vary", func(t *testing.T) {
		e := gin.New()
		e.Use(cors([]string{"https://app.example.com"}))
		e.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		e.ServeHTTP(rec, req)
		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	})

	t.Run("disallowed origin gets no allow header", func(t *testing.T) {
		e := gin.New()
		e.Use(cors([]string{"https://app.example.com"}))
		e.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		e.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		e := gin.New()
		e.Use(cors([]string{"*"}))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/v1/anything", nil)
		req.Header.Set("Origin", "https://app.example.com")
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestRateLimit(t *testing.T) {
	e := gin.New()
	e.Use(rateLimit(newIPLimiter(rate.Limit(1), 2), time.Second))
	e.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestAccessLogPassesThrough(t *testing.T) {
	log := logrus.New()
	log.SetOutput(httptest.NewRecorder().Body)

	e := gin.New()
	e.Use(requestID(), accessLog(log))
	e.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest("GET", "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
