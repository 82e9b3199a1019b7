// Package retention empties the trash on a schedule. Sessions that have been
// in the trash longer than the retention window are optionally archived and
// then purged.
//
// Archiving is fail-safe: if the archive cannot be written, nothing is
// purged in that cycle.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/llmselect/llmselect-chat/pkg/models"
)

// DefaultInterval is how often the janitor checks the trash.
const DefaultInterval = time.Hour

// Trash is the part of the session service the janitor needs.
type Trash interface {
	List(ctx context.Context, view models.SessionView) ([]*models.Session, error)
	Purge(ctx context.Context, ids []string) (int, error)
}

// Archiver stores sessions before they are purged.
type Archiver interface {
	Kind() string
	Archive(ctx context.Context, sessions []*models.Session) (string, error)
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Expired     int
	Archived    int
	Purged      int
	ArchivePath string
	Err         error
}

// Janitor periodically purges expired trash.
type Janitor struct {
	trash     Trash
	retention time.Duration
	interval  time.Duration
	archiver  Archiver
	now       func() time.Time
}

// NewJanitor creates a janitor that purges sessions deleted more than
// retention ago. archiver may be nil.
func NewJanitor(trash Trash, retention, interval time.Duration, archiver Archiver) *Janitor {
	if interval < time.Minute {
		interval = DefaultInterval
	}
	return &Janitor{
		trash:     trash,
		retention: retention,
		interval:  interval,
		archiver:  archiver,
		now:       time.Now,
	}
}

// Start runs a cycle immediately and then on every interval until ctx is
// cancelled.
func (j *Janitor) Start(ctx context.Context) {
	l := log.Info().Dur("retention", j.retention).Dur("interval", j.interval)
	if j.archiver != nil {
		l = l.Str("archiver", j.archiver.Kind())
	}
	l.Msg("🧹 Trash janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Trash janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle purges every session whose deletion is older than the cutoff.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats
	start := j.now()

	trashed, err := j.trash.List(ctx, models.ViewTrash)
	if err != nil {
		log.Warn().Err(err).Msg("Trash janitor: failed to list trash")
		stats.Err = err
		return stats
	}

	cutoff := start.Add(-j.retention)
	var expired []*models.Session
	for _, s := range trashed {
		if s.DeletedAt != nil && s.DeletedAt.Before(cutoff) {
			expired = append(expired, s)
		}
	}
	stats.Expired = len(expired)
	if len(expired) == 0 {
		return stats
	}

	if j.archiver != nil {
		path, err := j.archiver.Archive(ctx, expired)
		if err != nil {
			log.Warn().Err(err).Str("archiver", j.archiver.Kind()).Msg("Archive failed, skipping purge")
			stats.Err = err
			return stats
		}
		stats.Archived = len(expired)
		stats.ArchivePath = path
	}

	ids := make([]string, len(expired))
	for i, s := range expired {
		ids[i] = s.ID
	}
	stats.Purged, stats.Err = j.trash.Purge(ctx, ids)
	if stats.Err != nil {
		log.Warn().Err(stats.Err).Msg("Trash janitor: purge failed")
		return stats
	}

	log.Info().
		Int("purged", stats.Purged).
		Int("archived", stats.Archived).
		Str("archive", stats.ArchivePath).
		Dur("elapsed", j.now().Sub(start)).
		Msg("Trash retention cycle complete")
	return stats
}
