// Package logger provides the context-aware, logfmt-style logging used
// throughout the bridge: every call site logs through Infof/Warnf/Errorf/
// Debugf/Fatalf(ctx, format, args...), matching the teacher's
// internal/logger convention.
package logger

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

type ctxKey int

const requestIDKey ctxKey = iota

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logfmtFormatter{})
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.DebugLevel)
	return l
}

// logfmtFormatter renders entries as `time="..." level=X msg="..."` to
// mirror the original bridge's "%(asctime)s %(name)s[%(process)d]
// %(levelname)-8s %(message)s" log lines, where %(message)s was itself
// already logfmt (msg="..." key="value" ...).
type logfmtFormatter struct{}

func (f *logfmtFormatter) Format(e *logrus.Entry) ([]byte, error) {
	line := fmt.Sprintf("time=%q level=%s %s\n",
		e.Time.Format("2006-01-02T15:04:05"), e.Level.String(), e.Message)
	return []byte(line), nil
}

// WithRequestID returns a context carrying a request id for later log
// calls to pick up.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func requestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func entry(ctx context.Context) *logrus.Entry {
	if rid := requestID(ctx); rid != "" {
		return logrus.NewEntry(base).WithField("req", rid)
	}
	return logrus.NewEntry(base)
}

func render(e *logrus.Entry, format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	if rid, ok := e.Data["req"]; ok {
		return fmt.Sprintf("msg=%q req=%q", msg, rid)
	}
	return fmt.Sprintf("msg=%q", msg)
}

// Debugf logs at debug level.
func Debugf(ctx context.Context, format string, args ...interface{}) {
	e := entry(ctx)
	e.Logger.Debug(render(e, format, args...))
}

// Infof logs at info level.
func Infof(ctx context.Context, format string, args ...interface{}) {
	e := entry(ctx)
	e.Logger.Info(render(e, format, args...))
}

// Warnf logs at warning level.
func Warnf(ctx context.Context, format string, args ...interface{}) {
	e := entry(ctx)
	e.Logger.Warn(render(e, format, args...))
}

// Errorf logs at error level.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	e := entry(ctx)
	e.Logger.Error(render(e, format, args...))
}

// Fatalf logs at fatal level and terminates the process. Used by main
// when the HTTP server exits with an error.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	e := entry(ctx)
	e.Logger.Fatal(render(e, format, args...))
}
