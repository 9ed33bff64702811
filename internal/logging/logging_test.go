package logging

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func TestFormatterRendersRequestIDAndFields(t *testing.T) {
	f := &Formatter{}
	entry := &log.Entry{
		Logger:  log.StandardLogger(),
		Time:    time.Date(2026, 7, 31, 20, 14, 4, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "hello",
		Data:    log.Fields{"request_id": "a1b2c3d4", "status": 200},
	}
	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	line := string(out)
	if !strings.Contains(line, "2026-07-31 20:14:04") {
		t.Errorf("line = %q, missing timestamp", line)
	}
	if !strings.Contains(line, "a1b2c3d4") {
		t.Errorf("line = %q, missing request id", line)
	}
	if !strings.Contains(line, "status=200") {
		t.Errorf("line = %q, missing field", line)
	}
}

func TestFormatterFallsBackToPlaceholderRequestID(t *testing.T) {
	f := &Formatter{}
	entry := &log.Entry{Logger: log.StandardLogger(), Level: log.InfoLevel, Message: "no id here"}
	out, _ := f.Format(entry)
	if !strings.Contains(string(out), "--------") {
		t.Errorf("line = %q, want placeholder request id", string(out))
	}
}

func TestFormatterNormalizesWarningLevel(t *testing.T) {
	f := &Formatter{}
	entry := &log.Entry{Logger: log.StandardLogger(), Level: log.WarnLevel, Message: "careful"}
	out, _ := f.Format(entry)
	if !strings.Contains(string(out), "[warn ]") {
		t.Errorf("line = %q, want the warning level rendered as warn", string(out))
	}
}

func TestGinLoggerSetsRequestIDAndLogsStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinLogger())
	var captured string
	r.GET("/ping", func(c *gin.Context) {
		captured = RequestIDFromGin(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if captured == "" {
		t.Error("expected GinLogger to set a request id visible to the handler")
	}
}

func TestRequestIDFromGinEmptyWhenUnset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if got := RequestIDFromGin(c); got != "" {
		t.Errorf("RequestIDFromGin = %q, want empty", got)
	}
}

func TestGinRecoveryConvertsPanicToInternalError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinRecovery())
	r.GET("/boom", func(c *gin.Context) {
		panic("kaboom")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "internal error") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestGenerateRequestIDNonEmptyAndVaries(t *testing.T) {
	a := GenerateRequestID()
	time.Sleep(time.Millisecond)
	b := GenerateRequestID()
	if a == "" || b == "" {
		t.Fatal("GenerateRequestID returned an empty id")
	}
	if a == b {
		t.Error("two request ids generated a millisecond apart should differ")
	}
}
