// Package restore implements spec.md §4.F: replaying an ordered chain of
// sparse stream files through a writer BlockDevice, honoring an optional
// --until checkpoint bound. Creating the destination image and starting
// its writer NBD endpoint are host/tooling concerns spec.md §1 places out
// of the core's scope (the same boundary internal/hostcontrol and
// internal/nbd already draw); ReplayChain is handed an already-open
// destination device.BlockDevice.
package restore

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/virtnbdbackup/virtnbdbackup/internal/backupset"
	"github.com/virtnbdbackup/virtnbdbackup/internal/chunked"
	"github.com/virtnbdbackup/virtnbdbackup/internal/compression"
	"github.com/virtnbdbackup/virtnbdbackup/internal/device"
	"github.com/virtnbdbackup/virtnbdbackup/internal/sparsestream"
)

// ReplayChain replays chainFiles, in order, onto dest. chainFiles[0] must
// be a full or copy stream (spec.md §4.F step 1); every subsequent file's
// diskName and virtualSize are checked against it (step a). Every file in
// chainFiles is replayed; ReplayUntil adds the --until early-stop bound.
func ReplayChain(ctx context.Context, source backupset.Target, chainFiles []string, dest device.BlockDevice) error {
	if len(chainFiles) == 0 {
		return errors.New("restore: empty chain")
	}

	var baseMeta sparsestream.Metadata
	for i, filename := range chainFiles {
		meta, err := replayFile(ctx, source, filename, dest)
		if err != nil {
			return err
		}

		if i == 0 {
			baseMeta = meta
		} else if meta.DiskName != baseMeta.DiskName || meta.VirtualSize != baseMeta.VirtualSize {
			return NewIncompatibleStreamError(
				"restore: %s: diskName/virtualSize %s/%d incompatible with base %s/%d",
				filename, meta.DiskName, meta.VirtualSize, baseMeta.DiskName, baseMeta.VirtualSize,
			)
		}
	}
	return nil
}

// ReplayUntil is ReplayChain with an early-stop bound: replay proceeds in
// chainFiles order and returns as soon as the file matching until has been
// applied, ignoring any files after it.
func ReplayUntil(ctx context.Context, source backupset.Target, chainFiles []string, dest device.BlockDevice, until string) error {
	if until == "" {
		return ReplayChain(ctx, source, chainFiles, dest)
	}

	var baseMeta sparsestream.Metadata
	for i, filename := range chainFiles {
		meta, err := replayFile(ctx, source, filename, dest)
		if err != nil {
			return err
		}

		if i == 0 {
			baseMeta = meta
		} else if meta.DiskName != baseMeta.DiskName || meta.VirtualSize != baseMeta.VirtualSize {
			return NewIncompatibleStreamError(
				"restore: %s: diskName/virtualSize %s/%d incompatible with base %s/%d",
				filename, meta.DiskName, meta.VirtualSize, baseMeta.DiskName, baseMeta.VirtualSize,
			)
		}

		if meta.CheckpointName == until {
			return UntilCheckpointReached{Checkpoint: until}
		}
	}
	return errors.Errorf("restore: checkpoint %s not found in chain", until)
}

// replayFile implements spec.md §4.F step 2's per-file loop: parse META,
// skip entirely if dataSize is 0, read the trailer up front when
// compressed (it lives at end-of-file), then walk DATA/ZERO/STOP frames.
func replayFile(ctx context.Context, source backupset.Target, filename string, dest device.BlockDevice) (sparsestream.Metadata, error) {
	rc, err := source.OpenReadonlyFile(filename)
	if err != nil {
		return sparsestream.Metadata{}, err
	}
	defer rc.Close()

	kind, _, length, err := sparsestream.ReadFrame(rc)
	if err != nil {
		return sparsestream.Metadata{}, errors.Wrapf(err, "restore: %s: read meta frame header failed", filename)
	}
	if kind != sparsestream.KindMeta {
		return sparsestream.Metadata{}, sparsestream.NewStreamFormatError("restore: %s: expected META frame, got %s", filename, kind)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(rc, payload); err != nil {
		return sparsestream.Metadata{}, errors.Wrapf(err, "restore: %s: read meta payload failed", filename)
	}
	if err := sparsestream.ReadTerminator(rc); err != nil {
		return sparsestream.Metadata{}, errors.Wrapf(err, "restore: %s: read meta terminator failed", filename)
	}
	meta, err := sparsestream.LoadMetadata(payload)
	if err != nil {
		return meta, err
	}

	if meta.DataSize == 0 {
		return meta, nil
	}

	var decompressor compression.Decompressor
	var trailer sparsestream.CompressionTrailer
	if meta.Compressed {
		seeker, ok := rc.(io.ReadSeeker)
		if !ok {
			return meta, errors.Errorf("restore: %s: compressed stream requires a seekable source", filename)
		}
		trailer, err = sparsestream.ReadCompressionTrailer(seeker)
		if err != nil {
			return meta, err
		}
		compressor, ok := compression.Compressors[meta.CompressionMethod]
		if !ok {
			return meta, errors.Errorf("restore: %s: unknown compression method %q", filename, meta.CompressionMethod)
		}
		decompressor = compression.GetDecompressorByCompressor(compressor)
	}

	maxRequestSize := dest.MaxRequestSize()
	var dataSum uint64
	dataBlockIndex := 0

	for {
		select {
		case <-ctx.Done():
			return meta, ctx.Err()
		default:
		}

		fkind, start, flen, err := sparsestream.ReadFrame(rc)
		if err != nil {
			return meta, errors.Wrapf(err, "restore: %s: read frame header failed", filename)
		}

		switch fkind {
		case sparsestream.KindData:
			var chunkSizes []uint64
			if meta.Compressed {
				if dataBlockIndex >= len(trailer) {
					return meta, errors.Errorf("restore: %s: compression trailer exhausted at DATA block %d", filename, dataBlockIndex)
				}
				chunkSizes = trailer[dataBlockIndex]
				dataBlockIndex++
			}
			if err := chunked.ReadDataFrame(ctx, rc, dest, start, flen, maxRequestSize, decompressor, chunkSizes); err != nil {
				return meta, err
			}
			dataSum += flen

		case sparsestream.KindZero:
			for _, c := range chunked.Bounds(start, flen, maxRequestSize) {
				if err := dest.ZeroAt(ctx, c.Offset, c.Length); err != nil {
					return meta, errors.Wrapf(err, "restore: %s: zero at offset %d failed", filename, c.Offset)
				}
			}

		case sparsestream.KindStop:
			if dataSum != meta.DataSize {
				return meta, NewRestoreSizeMismatchError(filename, dataSum, meta.DataSize)
			}
			return meta, nil

		default:
			return meta, sparsestream.NewStreamFormatError("restore: %s: unexpected frame kind %s", filename, fkind)
		}
	}
}
