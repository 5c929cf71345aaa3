package backup

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtnbdbackup/virtnbdbackup/internal/backupset"
	"github.com/virtnbdbackup/virtnbdbackup/internal/device"
	"github.com/virtnbdbackup/virtnbdbackup/internal/hostcontrol"
	"github.com/virtnbdbackup/virtnbdbackup/internal/sparsestream"
)

// fakeDevice is a fixed-size in-memory disk with a scripted extent list,
// mirroring internal/extent's own test double.
type fakeDevice struct {
	data    []byte
	extents []device.Extent
}

func (f *fakeDevice) VirtualSize() uint64    { return uint64(len(f.data)) }
func (f *fakeDevice) MaxRequestSize() uint64 { return 1 << 20 }
func (f *fakeDevice) Close() error           { return nil }

func (f *fakeDevice) ReadAt(_ context.Context, offset, length uint64) ([]byte, error) {
	out := make([]byte, length)
	copy(out, f.data[offset:offset+length])
	return out, nil
}

func (f *fakeDevice) WriteAt(_ context.Context, offset uint64, p []byte) error {
	copy(f.data[offset:], p)
	return nil
}

func (f *fakeDevice) ZeroAt(_ context.Context, offset, length uint64) error {
	for i := uint64(0); i < length; i++ {
		f.data[offset+i] = 0
	}
	return nil
}

func (f *fakeDevice) Extents(context.Context, uint64, uint64, string) ([]device.Extent, error) {
	return f.extents, nil
}

func TestBackupDiskStreamFullUncompressed(t *testing.T) {
	dev := &fakeDevice{
		data: append(bytes.Repeat([]byte{0xAB}, 4096), make([]byte, 60*1024)...),
		extents: []device.Extent{
			{Offset: 0, Length: 4096, Data: true},
			{Offset: 4096, Length: 60 * 1024, Data: false},
		},
	}
	target, err := backupset.NewLocalTarget(t.TempDir())
	require.NoError(t, err)

	job := DiskJob{
		Disk:           hostcontrol.Disk{Target: "sda", Format: "raw"},
		Device:         dev,
		CheckpointName: "virtnbdbackup.0",
	}
	opts := Options{Level: backupset.LevelFull, Date: "2026-08-06T00:00:00Z"}

	require.NoError(t, BackupDisk(context.Background(), target, job, opts))

	finalName := backupset.DataFileName("sda", backupset.LevelFull, "")
	assert.True(t, target.FileExists(finalName))
	assert.False(t, target.FileExists(finalName+backupset.PartialSuffix))

	r, err := target.OpenReadonlyFile(finalName)
	require.NoError(t, err)
	defer r.Close()

	kind, _, length, err := sparsestream.ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, sparsestream.KindMeta, kind)
	payload := make([]byte, length)
	_, err = io.ReadFull(r, payload)
	require.NoError(t, err)
	require.NoError(t, sparsestream.ReadTerminator(r))

	meta, err := sparsestream.LoadMetadata(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(65536), meta.VirtualSize)
	assert.Equal(t, uint64(4096), meta.DataSize)
	assert.False(t, meta.Incremental)

	kind, _, dataLen, err := sparsestream.ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, sparsestream.KindData, kind)
	assert.Equal(t, uint64(4096), dataLen)
}

func TestBackupDiskIncrementalSkipsHoles(t *testing.T) {
	dev := &fakeDevice{
		data: make([]byte, 65536),
		extents: []device.Extent{
			{Offset: 0, Length: 65536, Data: false},
		},
	}
	target, err := backupset.NewLocalTarget(t.TempDir())
	require.NoError(t, err)

	parent := "virtnbdbackup.0"
	job := DiskJob{
		Disk:             hostcontrol.Disk{Target: "sda", Format: "raw"},
		Device:           dev,
		CheckpointName:   "virtnbdbackup.1",
		ParentCheckpoint: &parent,
	}
	opts := Options{Level: backupset.LevelInc, Date: "2026-08-06T00:00:00Z"}

	require.NoError(t, BackupDisk(context.Background(), target, job, opts))

	finalName := backupset.DataFileName("sda", backupset.LevelInc, "virtnbdbackup.1")
	r, err := target.OpenReadonlyFile(finalName)
	require.NoError(t, err)
	defer r.Close()

	kind, _, length, err := sparsestream.ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, sparsestream.KindMeta, kind)
	payload := make([]byte, length)
	_, err = io.ReadFull(r, payload)
	require.NoError(t, err)
	require.NoError(t, sparsestream.ReadTerminator(r))

	meta, err := sparsestream.LoadMetadata(payload)
	require.NoError(t, err)
	assert.True(t, meta.Incremental)
	assert.Equal(t, uint64(0), meta.DataSize)

	// no DATA/ZERO frames: next frame must be STOP directly.
	kind, _, _, err = sparsestream.ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, sparsestream.KindStop, kind)
}

func TestBackupDiskIncrementalRefusedWhenPartialPresent(t *testing.T) {
	target, err := backupset.NewLocalTarget(t.TempDir())
	require.NoError(t, err)

	finalName := backupset.DataFileName("sda", backupset.LevelInc, "virtnbdbackup.1")
	w, err := backupset.CreatePartial(target, finalName)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	dev := &fakeDevice{data: make([]byte, 4096), extents: []device.Extent{{Offset: 0, Length: 4096, Data: false}}}
	job := DiskJob{
		Disk:           hostcontrol.Disk{Target: "sda"},
		Device:         dev,
		CheckpointName: "virtnbdbackup.1",
	}
	err = BackupDisk(context.Background(), target, job, Options{Level: backupset.LevelInc})
	require.Error(t, err)
	_, ok := err.(backupset.PartialBackupPresentError)
	assert.True(t, ok)
}

func TestRunRejectsRawIncremental(t *testing.T) {
	target, err := backupset.NewLocalTarget(t.TempDir())
	require.NoError(t, err)
	err = Run(context.Background(), target, nil, Options{Level: backupset.LevelInc, Raw: true})
	require.Error(t, err)
	_, ok := err.(RawIncrementalError)
	assert.True(t, ok)
}

func TestRunFansOutAcrossDisks(t *testing.T) {
	dir := t.TempDir()
	target, err := backupset.NewLocalTarget(dir)
	require.NoError(t, err)

	jobs := make([]DiskJob, 0, 3)
	for _, name := range []string{"sda", "sdb", "sdc"} {
		dev := &fakeDevice{
			data:    bytes.Repeat([]byte{0xCD}, 4096),
			extents: []device.Extent{{Offset: 0, Length: 4096, Data: true}},
		}
		jobs = append(jobs, DiskJob{
			Disk:   hostcontrol.Disk{Target: name, Format: "raw"},
			Device: dev,
		})
	}

	err = Run(context.Background(), target, jobs, Options{Level: backupset.LevelCopy, Worker: 2, Date: "2026-08-06T00:00:00Z"})
	require.NoError(t, err)

	for _, name := range []string{"sda", "sdb", "sdc"} {
		assert.True(t, target.FileExists(backupset.DataFileName(name, backupset.LevelCopy, "")))
	}
}
