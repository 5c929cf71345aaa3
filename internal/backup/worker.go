package backup

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"

	"github.com/virtnbdbackup/virtnbdbackup/internal/backupset"
	"github.com/virtnbdbackup/virtnbdbackup/internal/chunked"
	"github.com/virtnbdbackup/virtnbdbackup/internal/compression"
	"github.com/virtnbdbackup/virtnbdbackup/internal/device"
	"github.com/virtnbdbackup/virtnbdbackup/internal/extent"
	"github.com/virtnbdbackup/virtnbdbackup/internal/hostcontrol"
	"github.com/virtnbdbackup/virtnbdbackup/internal/sparsestream"
)

// warningCount backs spec.md §7's --strict exit-code upgrade: any WARNING
// emitted while a backup runs increments this counter; the CLI layer reads
// it after Run returns to decide between exit 0 and exit 2.
var warningCount int64

// WarningCount returns the number of warnings recorded since the last
// ResetWarningCount call.
func WarningCount() int64 { return atomic.LoadInt64(&warningCount) }

// ResetWarningCount zeroes the counter; called once per CLI invocation.
func ResetWarningCount() { atomic.StoreInt64(&warningCount, 0) }

func warn(format string, args ...interface{}) {
	atomic.AddInt64(&warningCount, 1)
	tracelog.WarningLogger.Printf(format, args...)
}

// DiskJob is one disk's worth of work for the backup pipeline: its open
// NBD device, the disk descriptor from host discovery, and the checkpoint
// name/parent already computed by hostcontrol.PrepareCheckpoint.
type DiskJob struct {
	Disk             hostcontrol.Disk
	Device           device.BlockDevice
	CheckpointName   string
	ParentCheckpoint *string
}

// metaContextFor picks the extent-query context per spec.md §4.C: full and
// copy backups walk the whole allocation map, incremental/differential
// backups walk the dirty bitmap named after the checkpoint the delta is
// computed against.
func metaContextFor(level backupset.Level, bitmapName string) string {
	switch level {
	case backupset.LevelInc, backupset.LevelDiff:
		return "qemu:dirty-bitmap:" + bitmapName
	default:
		return "base:allocation"
	}
}

// BackupDisk implements spec.md §4.E's per-disk algorithm: open (already
// done by the caller, job.Device), query extents, write a partial stream
// or raw image, then finalize it via backupset.FinalizePartial once the
// write and close have succeeded.
func BackupDisk(ctx context.Context, target backupset.Target, job DiskJob, opts Options) error {
	dev := job.Device
	virtualSize := dev.VirtualSize()
	maxRequestSize := dev.MaxRequestSize()

	bitmapName := job.CheckpointName
	if job.ParentCheckpoint != nil {
		bitmapName = *job.ParentCheckpoint
	}
	metaContext := metaContextFor(opts.Level, bitmapName)

	extents, err := extent.Query(ctx, dev, metaContext)
	if err != nil {
		return err
	}

	finalName := backupset.DataFileName(job.Disk.Target, opts.Level, job.CheckpointName)
	if opts.Level == backupset.LevelInc || opts.Level == backupset.LevelDiff {
		if err := backupset.CheckNotPartial(target, finalName); err != nil {
			return err
		}
	}

	partial, err := backupset.CreatePartial(target, finalName)
	if err != nil {
		return err
	}

	var compressor compression.Compressor
	if opts.Compress {
		var ok bool
		compressor, ok = compression.Compressors[opts.CompressionMethod]
		if !ok {
			partial.Close()
			return errors.Errorf("backup: unknown compression method %q", opts.CompressionMethod)
		}
	}

	var writeErr error
	if opts.Raw {
		// Raw output needs Seek/Truncate on the partial file (writeRaw
		// truncates to the full size and seeks past holes), which a rate-limiting wrapper
		// cannot forward, so --ratelimit only throttles the stream format.
		writeErr = writeRaw(ctx, partial, dev, extents, virtualSize, maxRequestSize)
	} else {
		w := newRateLimitedWriter(ctx, partial, opts.RateLimit)
		writeErr = writeStream(ctx, w, dev, extents, virtualSize, maxRequestSize, job, opts, compressor)
	}

	closeErr := partial.Close()
	if writeErr != nil {
		return writeErr
	}
	if closeErr != nil {
		return backupset.NewIoError("backup: close %s failed: %v", finalName+backupset.PartialSuffix, closeErr)
	}

	if len(extents) == 0 {
		warn("backup: disk %s produced an empty extent list", job.Disk.Target)
	}

	return backupset.FinalizePartial(target, finalName)
}

// writeStream implements spec.md §4.E step 5-6 for streamType == "stream".
func writeStream(
	ctx context.Context,
	w io.Writer,
	dev device.BlockDevice,
	extents []device.Extent,
	virtualSize, maxRequestSize uint64,
	job DiskJob,
	opts Options,
	compressor compression.Compressor,
) error {
	incremental := opts.Level == backupset.LevelInc || opts.Level == backupset.LevelDiff

	var dataSize uint64
	for _, e := range extents {
		if e.Data {
			dataSize += e.Length
		}
	}

	compressionMethod := ""
	if opts.Compress {
		compressionMethod = opts.CompressionMethod
	}

	metaPayload, err := sparsestream.DumpMetadata(
		virtualSize, dataSize,
		job.Disk.Target, job.Disk.Format,
		job.CheckpointName, job.ParentCheckpoint,
		incremental, opts.Compress, compressionMethod,
		opts.Date,
	)
	if err != nil {
		return err
	}
	if err := sparsestream.WriteFrame(w, sparsestream.KindMeta, 0, uint64(len(metaPayload))); err != nil {
		return errors.Wrap(err, "backup: write meta frame header failed")
	}
	if _, err := w.Write(metaPayload); err != nil {
		return errors.Wrap(err, "backup: write meta payload failed")
	}
	if err := sparsestream.WriteTerminator(w); err != nil {
		return errors.Wrap(err, "backup: write meta terminator failed")
	}

	var trailer sparsestream.CompressionTrailer

	for _, e := range extents {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if e.Data {
			chunkSizes, err := chunked.WriteDataFrame(ctx, w, dev, e.Offset, e.Length, maxRequestSize, compressor)
			if err != nil {
				return err
			}
			if opts.Compress {
				trailer = append(trailer, chunkSizes)
			}
			continue
		}

		if incremental {
			// spec.md §4.C: "unallocated regions are implicitly skipped
			// rather than emitted as ZERO" for inc/diff streams.
			continue
		}
		if err := sparsestream.WriteFrame(w, sparsestream.KindZero, e.Offset, e.Length); err != nil {
			return errors.Wrap(err, "backup: write zero frame failed")
		}
	}

	if err := sparsestream.WriteFrame(w, sparsestream.KindStop, 0, 0); err != nil {
		return errors.Wrap(err, "backup: write stop frame failed")
	}

	if opts.Compress {
		if err := sparsestream.WriteCompressionTrailer(w, trailer); err != nil {
			return err
		}
	}
	return nil
}

// writeRaw implements spec.md §4.E step 4 for streamType == "raw": always a
// full-size output image, data extents copied verbatim, holes skipped (the
// destination is assumed sparse-allocated, e.g. a freshly created file or
// one already punched).
func writeRaw(
	ctx context.Context,
	w io.Writer,
	dev device.BlockDevice,
	extents []device.Extent,
	virtualSize, maxRequestSize uint64,
) error {
	seeker, ok := w.(io.WriteSeeker)
	if !ok {
		return errors.New("backup: raw output requires a seekable writer")
	}
	truncater, ok := w.(interface{ Truncate(int64) error })
	if ok {
		if err := truncater.Truncate(int64(virtualSize)); err != nil {
			return errors.Wrap(err, "backup: truncate raw target failed")
		}
	}

	for _, e := range extents {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !e.Data {
			continue
		}
		if err := copyExtentRaw(ctx, seeker, dev, e, maxRequestSize); err != nil {
			return err
		}
	}
	return nil
}

func copyExtentRaw(ctx context.Context, w io.WriteSeeker, dev device.BlockDevice, e device.Extent, maxRequestSize uint64) error {
	for _, c := range chunked.Bounds(e.Offset, e.Length, maxRequestSize) {
		raw, err := dev.ReadAt(ctx, c.Offset, c.Length)
		if err != nil {
			return errors.Wrapf(err, "backup: read at offset %d failed", c.Offset)
		}
		if _, err := w.Seek(int64(c.Offset), io.SeekStart); err != nil {
			return errors.Wrapf(err, "backup: seek to offset %d failed", c.Offset)
		}
		if _, err := w.Write(raw); err != nil {
			return errors.Wrapf(err, "backup: write raw at offset %d failed", c.Offset)
		}
	}
	return nil
}
