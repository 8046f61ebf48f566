package log

import (
	"os"
	"strings"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/patrickmn/go-cache"
)

var loggerCache *cache.Cache
var defaultLoggerCacheExpiry = 6 * time.Hour

func init() {
	loggerCache = cache.New(defaultLoggerCacheExpiry, 10*time.Minute)
}

// Log writes a structured logfmt line tagged with a job or worker id. Kept
// separate from LogCtx/clog so call sites that only have a bare id (not a
// context.Context) can still log consistently. The per-id logger is cached
// so repeated lines for the same job or worker don't re-allocate one.
func Log(id string, message string, keyvals ...interface{}) {
	_ = kitlog.With(getLogger(id), "msg", message).Log(redactKeyvals(keyvals...)...)
}

// LogNoRequestID logs a line with no id association. Used sparingly, and
// only when no job or worker id is available at the call site.
func LogNoRequestID(message string, keyvals ...interface{}) {
	_ = kitlog.With(newLogger(), "msg", message).Log(redactKeyvals(keyvals...)...)
}

func LogError(id string, message string, err error, keyvals ...interface{}) {
	msgLogger := kitlog.With(getLogger(id), "msg", message)
	errLogger := kitlog.With(msgLogger, "err", err.Error())
	_ = errLogger.Log(redactKeyvals(keyvals...)...)
}

// getLogger returns the logger cached for id, tagging and caching a fresh
// one on first use.
func getLogger(id string) kitlog.Logger {
	if id == "" {
		return newLogger()
	}
	if cached, found := loggerCache.Get(id); found {
		return cached.(kitlog.Logger)
	}
	logger := kitlog.With(newLogger(), "id", id)
	if err := loggerCache.Add(id, logger, defaultLoggerCacheExpiry); err != nil {
		_ = logger.Log("msg", "error adding logger to cache", "id", id, "err", err.Error())
	}
	return logger
}

func newLogger() kitlog.Logger {
	base := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	return kitlog.With(base, "ts", kitlog.DefaultTimestampUTC)
}

// redactKeyvals runs RedactURL over every value in a logfmt keyval list,
// leaving keys untouched.
func redactKeyvals(keyvals ...interface{}) []interface{} {
	var res []interface{}
	for i := range keyvals {
		if i%2 == 1 {
			k, v := keyvals[i-1], keyvals[i]
			res = append(res, k)
			if s, ok := v.(string); ok {
				res = append(res, RedactURL(s))
			} else {
				res = append(res, v)
			}
		}
	}
	return res
}

func RedactLogs(str, delim string) string {
	if delim == "" {
		return str
	}
	split := strings.Split(str, delim)
	if len(split) == 1 {
		return str
	}
	out := make([]string, len(split))
	for i, v := range split {
		out[i] = RedactURL(v)
	}
	return strings.Join(out, delim)
}

func RedactURL(str string) string {
	lower := strings.ToLower(str)
	if !strings.HasPrefix(lower, "http") && !strings.HasPrefix(lower, "s3") {
		return str
	}
	return "REDACTED"
}
