// Package logging provides the gateway's structured logrus setup (with a
// rotating file sink for the file log mode) and Gin
// request-logging/panic-recovery middleware. Prompt/response log files are
// written by the dispatcher, not by this package.
package logging

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/llmgatewaycore/gateway/internal/gwconfig"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const skipGinLogKey = "__gin_skip_request_logging__"

// Formatter renders one log entry as:
// [2026-07-31 20:14:04] [info ] | a1b2c3d4 | message key=val
type Formatter struct{}

func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	reqID := "--------"
	if id, ok := entry.Data["request_id"].(string); ok && id != "" {
		reqID = id
	}
	message := strings.TrimRight(entry.Message, "\r\n")

	var fields []string
	for k, v := range entry.Data {
		if k == "request_id" {
			continue
		}
		fields = append(fields, fmt.Sprintf("%s=%v", k, v))
	}
	var fieldStr string
	if len(fields) > 0 {
		fieldStr = " " + strings.Join(fields, " ")
	}

	return []byte(fmt.Sprintf("[%s] [%-5s] | %s | %s%s\n", timestamp, level, reqID, message, fieldStr)), nil
}

var setupOnce sync.Once

// Setup wires logrus output per the configured LogMode (§6).
func Setup(cfg *gwconfig.Config) {
	setupOnce.Do(func() {
		log.SetFormatter(&Formatter{})
	})
	switch cfg.LogMode {
	case gwconfig.LogModeNone:
		log.SetOutput(io.Discard)
	case gwconfig.LogModeFile:
		if cfg.Paths.LogFile == "" {
			log.SetOutput(os.Stdout)
			return
		}
		_ = os.MkdirAll(filepath.Dir(cfg.Paths.LogFile), 0o755)
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Paths.LogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		})
	default:
		log.SetOutput(os.Stdout)
	}
}

// GinLogger logs each HTTP request with a request id, status, latency, and
// path, mirroring the teacher's compact single-line format.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := GenerateRequestID()
		c.Set("request_id", requestID)
		path := c.Request.URL.Path

		c.Next()

		if skip, _ := c.Get(skipGinLogKey); skip == true {
			return
		}

		latency := time.Since(start).Truncate(time.Millisecond)
		status := c.Writer.Status()
		entry := log.WithField("request_id", requestID)
		line := fmt.Sprintf("%d | %v | %s \"%s\"", status, latency, c.Request.Method, path)

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(line)
		case status >= http.StatusBadRequest:
			entry.Warn(line)
		default:
			entry.Info(line)
		}
	}
}

// GinRecovery recovers from panics in handlers, logging the stack trace
// and returning a typed internal error to the client.
func GinRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.WithField("request_id", RequestIDFromGin(c)).Errorf("panic recovered: %v", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"type": "internal", "message": "internal error"},
		})
	})
}

// RequestIDFromGin returns the per-request id set by GinLogger, if any.
func RequestIDFromGin(c *gin.Context) string {
	if v, ok := c.Get("request_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GenerateRequestID creates a short hex request id for correlating a single
// inbound request across logs and lifecycle events.
func GenerateRequestID() string {
	return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
}
