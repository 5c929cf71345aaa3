package hostcontrol

import (
	"context"

	"github.com/wal-g/tracelog"

	"github.com/virtnbdbackup/virtnbdbackup/internal/backupset"
	"github.com/virtnbdbackup/virtnbdbackup/internal/checkpoint"
)

// PrepareCheckpoint drives the checkpoint half of spec.md §4.E step 1-2 and
// §4.H: validate the host's checkpoint list isn't foreign, wipe the chain
// before a full backup, compute the (name, parent) pair for the requested
// level, and register the new checkpoint on the host when the level calls
// for one. It returns the (name, parent) the caller should put in the
// stream's metadata header.
//
// Copy backups skip validateForeign entirely (spec.md scenario S5: "A copy
// request succeeds (no checkpoint semantics)").
func PrepareCheckpoint(
	ctx context.Context,
	hc HostControl,
	chain *checkpoint.Chain,
	level backupset.Level,
	online bool,
) (name string, parent *string, err error) {
	if level != backupset.LevelCopy {
		hostCheckpoints, err := hc.ListCheckpoints(ctx)
		if err != nil {
			return "", nil, err
		}
		if err := checkpoint.ValidateForeign(hostCheckpoints); err != nil {
			return "", nil, err
		}
	}

	if level == backupset.LevelFull {
		removed, err := chain.RemoveAll()
		if err != nil {
			return "", nil, err
		}
		for _, old := range removed {
			if err := hc.DeleteCheckpoint(ctx, old); err != nil {
				tracelog.WarningLogger.Printf("hostcontrol: delete stale checkpoint %s failed: %v", old, err)
			}
		}
	}

	name, parent, appends, err := chain.ParentFor(level, online)
	if err != nil {
		return "", nil, err
	}
	if !appends {
		return name, parent, nil
	}

	if err := createOrRedefine(ctx, hc, name, parent); err != nil {
		return "", nil, err
	}
	if err := chain.Append(name); err != nil {
		return "", nil, err
	}
	return name, parent, nil
}

// createOrRedefine creates a new checkpoint, falling back to
// RedefineCheckpoint on any CreateCheckpoint error (spec.md §4.H
// "reacting to RedefineCheckpoint"); a failure of the fallback itself is
// fatal.
func createOrRedefine(ctx context.Context, hc HostControl, name string, parent *string) error {
	err := hc.CreateCheckpoint(ctx, name, parent)
	if err == nil {
		return nil
	}
	tracelog.WarningLogger.Printf("hostcontrol: create checkpoint %s failed, attempting redefine: %v", name, err)
	if redefErr := hc.RedefineCheckpoint(ctx, name); redefErr != nil {
		return checkpoint.NewRedefineCheckpointError(name, redefErr)
	}
	return nil
}
