package backupset

import (
	"io"
	"os"
	"path/filepath"

	"github.com/virtnbdbackup/virtnbdbackup/internal/splitmerge"
	"github.com/virtnbdbackup/virtnbdbackup/utility"
)

// Target is the destination a backup set is written to and read back from:
// the local directory tree spec.md §6 describes, plus a stubbed stdout mode
// for `--output -` (zip packaging itself is out of scope per spec.md §1, so
// StreamTarget only satisfies the interface enough to reject the
// unsupported operations cleanly rather than implement archiving).
type Target interface {
	OpenWriteOnlyFile(filename string) (io.WriteCloser, error)
	OpenReadonlyFile(filename string) (io.ReadCloser, error)
	FileExists(filename string) bool
	RenameFile(oldFileName, newFileName string) error
	DeleteFile(filename string) error
	ListFilenames() ([]string, error)
}

// LocalTarget is a plain directory on the local filesystem.
type LocalTarget struct {
	path string
}

// NewLocalTarget creates (if needed) and returns a directory-backed Target.
func NewLocalTarget(path string) (*LocalTarget, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, NewIoError("backupset: create target directory %s failed: %v", path, err)
	}
	return &LocalTarget{path: path}, nil
}

func (t *LocalTarget) resolve(filename string) string {
	return filepath.Join(t.path, filename)
}

func (t *LocalTarget) OpenWriteOnlyFile(filename string) (io.WriteCloser, error) {
	full := t.resolve(filename)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, NewIoError("backupset: create parent directory for %s failed: %v", filename, err)
	}
	file, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, NewIoError("backupset: open %s for write failed: %v", filename, err)
	}
	return file, nil
}

func (t *LocalTarget) OpenReadonlyFile(filename string) (io.ReadCloser, error) {
	file, err := os.Open(t.resolve(filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewNoSuchFileError(filename)
		}
		return nil, NewIoError("backupset: open %s for read failed: %v", filename, err)
	}
	return file, nil
}

func (t *LocalTarget) FileExists(filename string) bool {
	_, err := os.Stat(t.resolve(filename))
	return err == nil
}

func (t *LocalTarget) RenameFile(oldFileName, newFileName string) error {
	if err := os.Rename(t.resolve(oldFileName), t.resolve(newFileName)); err != nil {
		return NewIoError("backupset: rename %s -> %s failed: %v", oldFileName, newFileName, err)
	}
	return nil
}

func (t *LocalTarget) DeleteFile(filename string) error {
	if err := os.Remove(t.resolve(filename)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return NewIoError("backupset: delete %s failed: %v", filename, err)
	}
	return nil
}

func (t *LocalTarget) ListFilenames() ([]string, error) {
	entries, err := os.ReadDir(t.path)
	if err != nil {
		return nil, NewIoError("backupset: list %s failed: %v", t.path, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// streamBlockSize is the write granularity StreamTarget buffers into before
// forwarding to the underlying writer, smoothing over the sparse stream
// format's mix of small frame headers and large DATA payloads.
const streamBlockSize = 1 << 20

// StreamTarget wraps a single io.Writer for `--output -`. Only a single
// write-only stream is meaningful on stdout, so every other operation
// fails with ForbiddenActionError; multi-worker and raw output are refused
// upstream in cmd/backup before a StreamTarget is ever constructed.
type StreamTarget struct {
	w io.Writer
}

func NewStreamTarget(w io.Writer) *StreamTarget {
	return &StreamTarget{w: w}
}

func (t *StreamTarget) OpenWriteOnlyFile(filename string) (io.WriteCloser, error) {
	return splitmerge.NewFixedBlockSizeWriter(utility.NopWriteCloser{Writer: t.w}, streamBlockSize), nil
}

func (t *StreamTarget) OpenReadonlyFile(filename string) (io.ReadCloser, error) {
	return nil, utility.NewForbiddenActionError("backupset: StreamTarget does not support reads")
}

func (t *StreamTarget) FileExists(filename string) bool { return false }

func (t *StreamTarget) RenameFile(oldFileName, newFileName string) error {
	return utility.NewForbiddenActionError("backupset: StreamTarget does not support rename")
}

func (t *StreamTarget) DeleteFile(filename string) error {
	return utility.NewForbiddenActionError("backupset: StreamTarget does not support delete")
}

func (t *StreamTarget) ListFilenames() ([]string, error) {
	return nil, utility.NewForbiddenActionError("backupset: StreamTarget does not support listing")
}

// CheckNotPartial fails with PartialBackupPresentError if finalName's
// partial marker is still present, per spec.md §3/§7/§8 (property 9): an
// interrupted run must block the next incremental/differential start.
func CheckNotPartial(target Target, finalName string) error {
	partial := finalName + PartialSuffix
	if target.FileExists(partial) {
		return NewPartialBackupPresentError(partial)
	}
	return nil
}

// CreatePartial opens finalName's .partial file for writing. The caller
// (the worker owning this file, per spec.md §3 "Ownership & lifecycle")
// must call FinalizePartial on success or leave the .partial file in place
// on failure.
func CreatePartial(target Target, finalName string) (io.WriteCloser, error) {
	return target.OpenWriteOnlyFile(finalName + PartialSuffix)
}

// FinalizePartial atomically renames finalName's .partial file to its
// final name; only the worker that created the partial file may call this.
func FinalizePartial(target Target, finalName string) error {
	return target.RenameFile(finalName+PartialSuffix, finalName)
}
