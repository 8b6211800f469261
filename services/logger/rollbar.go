package logsvc

import (
	"io"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"github.com/sirupsen/logrus"

	"github.com/jakariadev/institude/core"
	"github.com/jakariadev/institude/core/user"
)

// NewStdLogger returns the local logger: text lines on stdout, or in a rotated file when conf.Log.File is set.
func NewStdLogger(name string, conf *core.Config) *logrus.Entry {
	std := logrus.New()

	var out io.Writer = os.Stdout
	if conf.Log.File != "" {
		out = &lumberjack.Logger{
			Filename:   conf.Log.File,
			MaxSize:    conf.Log.MaxSizeMB,
			MaxBackups: conf.Log.MaxBackups,
			MaxAge:     conf.Log.MaxAgeDays,
			Compress:   true,
		}
	}
	std.SetOutput(out)
	std.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	level, err := logrus.ParseLevel(conf.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if conf.Debug {
		level = logrus.DebugLevel
	}
	std.SetLevel(level)

	return std.WithField("app", name)
}

type RollbarLogger struct {
	std *logrus.Entry
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *logrus.Entry, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	if host, err := os.Hostname(); err == nil {
		rollbar.SetServerHost(host)
	}
	rollbar.SetEnabled(conf.RollbarToken != "")
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l RollbarLogger) prepare(msg string, args []interface{}) ([]interface{}, *logrus.Entry) {
	var usrSet bool
	entry := l.std
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			if !usrSet { // only set one User
				rollbar.SetPerson(a.ID, a.Username, a.Email)
				entry = entry.WithField("user", a.Username)
				usrSet = true
			}
			continue
		case map[string]interface{}:
			entry = entry.WithFields(a)
		case error:
			entry = entry.WithError(a)
		}
		newArgs = append(newArgs, arg)
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return newArgs, entry
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rArgs, entry := l.prepare(msg, args)
	rollbar.Debug(rArgs...)
	entry.Debug(msg)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rArgs, entry := l.prepare(msg, args)
	rollbar.Info(rArgs...)
	entry.Info(msg)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rArgs, entry := l.prepare(msg, args)
	rollbar.Warning(rArgs...)
	entry.Warn(msg)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rArgs, entry := l.prepare(msg, args)
	rollbar.Error(rArgs...)
	entry.Error(msg)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rArgs, entry := l.prepare(msg, args)
	rollbar.Critical(rArgs...)
	rollbar.Close()
	entry.Fatal(msg)
}

// Close flushes the pending rollbar items.
func (l RollbarLogger) Close() {
	rollbar.Close()
}
