// Package checkpoint persists and validates the ordered chain of named
// checkpoints a domain's incremental/differential backups are built on
// (spec.md §4.H). The chain is an append-only log, written as a JSON array
// of strings and replaced by write-temp-then-rename on every mutation, the
// same pattern every other atomically-replaced file in this module follows
// (backupset.FinalizePartial; spec.md §9 "Checkpoint chain as
// append-only log").
package checkpoint

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/virtnbdbackup/virtnbdbackup/internal/backupset"
)

// Prefix is this tool's checkpoint naming prefix; any host checkpoint not
// carrying it is foreign (spec.md §4.H validateForeign, scenario S5).
const Prefix = "virtnbdbackup"

// Chain is the in-memory, loaded view of one domain's checkpoint list.
type Chain struct {
	target backupset.Target
	domain string
	names  []string
}

// Load reads a domain's checkpoint chain, returning an empty Chain if the
// .cpt file does not exist yet.
func Load(target backupset.Target, domain string) (*Chain, error) {
	filename := backupset.CheckpointListFileName(domain)
	if !target.FileExists(filename) {
		return &Chain{target: target, domain: domain}, nil
	}

	r, err := target.OpenReadonlyFile(filename)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, backupset.NewIoError("checkpoint: read %s failed: %v", filename, err)
	}

	var names []string
	if err := json.Unmarshal(payload, &names); err != nil {
		return nil, NewChainCorruptError(filename, err)
	}
	return &Chain{target: target, domain: domain, names: names}, nil
}

// Names returns the chain in order, oldest first. The returned slice must
// not be mutated by the caller.
func (c *Chain) Names() []string {
	return c.names
}

// Empty reports whether the chain has no recorded checkpoints.
func (c *Chain) Empty() bool {
	return len(c.names) == 0
}

func (c *Chain) persist() error {
	payload, err := json.Marshal(c.names)
	if err != nil {
		return errors.Wrap(err, "checkpoint: marshal chain failed")
	}

	final := backupset.CheckpointListFileName(c.domain)
	tmp := final + ".tmp"

	w, err := c.target.OpenWriteOnlyFile(tmp)
	if err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return backupset.NewIoError("checkpoint: write %s failed: %v", tmp, err)
	}
	if err := w.Close(); err != nil {
		return backupset.NewIoError("checkpoint: close %s failed: %v", tmp, err)
	}
	return c.target.RenameFile(tmp, final)
}

// Append records name as the newest checkpoint, atomically. Callers invoke
// this only on success of a full/inc checkpoint creation (spec.md §4.H).
func (c *Chain) Append(name string) error {
	c.names = append(c.names, name)
	if err := c.persist(); err != nil {
		c.names = c.names[:len(c.names)-1]
		return err
	}
	return nil
}

// RemoveAll wipes the chain before a new full backup starts, returning the
// names that were removed so the caller can drive the corresponding
// host-side checkpoint deletions (spec.md §4.H: "also deletes the
// checkpoint objects from the host" — a HostControl responsibility, not
// this package's).
func (c *Chain) RemoveAll() ([]string, error) {
	removed := c.names
	c.names = nil
	if err := c.persist(); err != nil {
		c.names = removed
		return nil, err
	}
	return removed, nil
}

// ParentFor computes the (name, parent) pair a worker uses to build the
// stream metadata for the requested level, per spec.md §4.H:
//
//   - full: always starts a fresh chain (the caller must have already
//     called RemoveAll); name is prefix.0, parent is nil.
//   - copy: no checkpoint semantics at all; name and parent are both empty.
//   - inc: name is prefix.<len(chain)>, parent is the chain's last entry;
//     fails with NoCheckpointsError if the chain is empty.
//   - diff, offline: reuses the chain's last entry as both the reported
//     checkpoint name and the delta reference point (no new checkpoint is
//     registered on the host); fails if the chain is empty.
//   - diff, online: a fresh uuid is generated for the metadata's
//     checkpointName field, but it is never appended to the chain; the
//     delta reference point is still the chain's last entry.
//
// appends reports whether the caller should call Append(name) after the
// host successfully creates the checkpoint.
func (c *Chain) ParentFor(level backupset.Level, online bool) (name string, parent *string, appends bool, err error) {
	switch level {
	case backupset.LevelCopy:
		return "", nil, false, nil

	case backupset.LevelFull:
		return fmt.Sprintf("%s.0", Prefix), nil, true, nil

	case backupset.LevelInc:
		if c.Empty() {
			return "", nil, false, NewNoCheckpointsError(c.domain)
		}
		last := c.names[len(c.names)-1]
		return fmt.Sprintf("%s.%d", Prefix, len(c.names)), &last, true, nil

	case backupset.LevelDiff:
		if c.Empty() {
			return "", nil, false, NewNoCheckpointsError(c.domain)
		}
		last := c.names[len(c.names)-1]
		if !online {
			return last, &last, false, nil
		}
		return uuid.New().String(), &last, false, nil

	default:
		return "", nil, false, errors.Errorf("checkpoint: unknown level %q", level)
	}
}

// ValidateForeign fails with ForeignCheckpointError if hostCheckpoints
// contains any name that does not carry this tool's naming prefix
// (spec.md §4.H, scenario S5).
func ValidateForeign(hostCheckpoints []string) error {
	for _, name := range hostCheckpoints {
		if !strings.HasPrefix(name, Prefix+".") {
			return NewForeignCheckpointError(name)
		}
	}
	return nil
}
