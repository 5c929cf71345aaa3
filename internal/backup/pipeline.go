// Package backup implements spec.md §4.E: the per-disk backup worker and
// the bounded worker pool that fans it out across a domain's disks.
package backup

import (
	"context"

	"github.com/wal-g/tracelog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/virtnbdbackup/virtnbdbackup/internal/backupset"
	"github.com/virtnbdbackup/virtnbdbackup/utility"
)

// Options carries the per-invocation flags spec.md §6's CLI table lists for
// the backup tool, already resolved to their effective values (defaults
// applied, mutually exclusive flags validated) by the cmd/backup layer.
type Options struct {
	Level             backupset.Level
	Raw               bool // --type raw
	Compress          bool
	CompressionMethod string
	Worker            int
	Strict            bool
	Online            bool   // live domain vs. offline disk
	Date              string // ISO-8601 timestamp stamped into every stream's metadata
	RateLimit         int    // --ratelimit, bytes/sec written per disk worker; 0 disables
}

// Run executes the backup pipeline for every job concurrently, bounded to
// max(1, min(Worker, len(jobs))) simultaneous disk workers (spec.md §5).
// A fatal error in any worker cancels the batch: errgroup.WithContext's
// derived context is what every worker's chunked I/O calls select on, and
// jobs not yet started are never launched once it is cancelled.
func Run(ctx context.Context, target backupset.Target, jobs []DiskJob, opts Options) error {
	if opts.Raw && (opts.Level == backupset.LevelInc || opts.Level == backupset.LevelDiff) {
		return NewRawIncrementalError()
	}

	poolSize := utility.Max(1, utility.Min(opts.Worker, len(jobs)))
	sem := semaphore.NewWeighted(int64(poolSize))
	group, groupCtx := errgroup.WithContext(ctx)

	for _, job := range jobs {
		job := job
		if err := sem.Acquire(groupCtx, 1); err != nil {
			break
		}
		group.Go(func() error {
			defer sem.Release(1)
			if err := BackupDisk(groupCtx, target, job, opts); err != nil {
				tracelog.ErrorLogger.Printf("backup: disk %s failed: %v", job.Disk.Target, err)
				return err
			}
			tracelog.InfoLogger.Printf("backup: disk %s finished", job.Disk.Target)
			return nil
		})
	}

	return group.Wait()
}
