package scheduler

import (
	"time"

	"go.uber.org/zap"
)

// oneShot is a cron.Schedule that fires once. cron asks for Next once when the
// entry is armed and once after it ran; the second answer is the zero time,
// which cron treats as "never".
type oneShot struct {
	at    time.Time
	armed bool
}

func (s *oneShot) Next(t time.Time) time.Time {
	if s.armed {
		return time.Time{}
	}
	s.armed = true
	if s.at.Before(t) {
		return t // overdue, run now
	}
	return s.at
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
