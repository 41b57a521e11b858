// Package icron wraps robfig/cron with the project's expression dialect and logger.
package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/lingotube/pkg/log"
)

// Expressions take five fields, an optional leading seconds field, or a descriptor such as @hourly.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func Parse(expr string) (cron.Schedule, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// New returns a scheduler that recovers panicking jobs and skips a run while
// the previous one is still going.
func New() *cron.Cron {
	logger := cronLogger{l: log.With("component", "cron")}
	return cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
}

type TriggerInfo struct {
	Expression    string
	Next          time.Time
	TimeUntilNext time.Duration
}

func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	next := schedule.Next(refTime)
	return &TriggerInfo{
		Expression:    cronExpr,
		Next:          next,
		TimeUntilNext: next.Sub(refTime),
	}, nil
}

type cronLogger struct {
	l *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.With(keysAndValues...).Debug("%s", msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.With(keysAndValues...).Error("%s: %v", msg, err)
}
