// Package cleanup removes audio artifacts left behind in the temp directory
// by crashed or interrupted transcriptions.
package cleanup

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/lingotube/pkg/file"
	"github.com/MimeLyc/lingotube/pkg/icron"
	"github.com/MimeLyc/lingotube/pkg/log"
)

type Sweeper struct {
	dir    string
	maxAge time.Duration
	now    func() time.Time
	logger *log.Logger
}

func NewSweeper(dir string, maxAge time.Duration) *Sweeper {
	return &Sweeper{
		dir:    dir,
		maxAge: maxAge,
		now:    time.Now,
		logger: log.With("component", "cleanup", "dir", dir),
	}
}

// Sweep deletes files under the directory not modified within maxAge and
// returns how many were removed.
func (s *Sweeper) Sweep() (int, error) {
	stale, err := file.FindOlderThan(s.dir, s.now().Add(-s.maxAge))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range stale {
		if err := file.RemoveQuietly(path); err != nil {
			s.logger.Warn("Failed to remove %s: %v", path, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("Removed %d stale artifacts", removed)
	}
	return removed, nil
}

// Run implements cron.Job.
func (s *Sweeper) Run() {
	if _, err := s.Sweep(); err != nil {
		s.logger.Error("Sweep failed: %v", err)
	}
}

// Schedule registers the sweeper on c under expr.
func Schedule(c *cron.Cron, expr string, s *Sweeper) (cron.EntryID, error) {
	schedule, err := icron.Parse(expr)
	if err != nil {
		return 0, err
	}
	id := c.Schedule(schedule, s)
	if info, err := icron.GetTriggerInfo(expr, s.now()); err == nil {
		s.logger.Info("Cleanup scheduled (%s), first run in %s", expr, info.TimeUntilNext.Round(time.Second))
	}
	return id, nil
}
