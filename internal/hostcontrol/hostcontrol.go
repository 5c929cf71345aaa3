// Package hostcontrol declares the virtualization host control-plane
// capability spec.md §1 names as an external collaborator ("discovery of
// disks, start/stop of backup jobs, checkpoint create/redefine/delete,
// fsfreeze/fsthaw"), plus the small amount of orchestration logic spec.md
// §4.H says the core itself must drive on top of that capability:
// computing parentFor, deciding when to call validateForeign, and reacting
// to a RedefineCheckpoint refusal.
package hostcontrol

import (
	"context"
)

// Disk describes one domain disk as discovered on the host: the backup
// target name used in file naming (spec.md §6) and enough libvirt-domain
// detail to open an NBD export for it.
type Disk struct {
	Target string // e.g. "sda", used verbatim in <diskTarget>.<level>.data
	Path   string // backing file path on the host
	Format string // "raw", "qcow2", ...
}

// HostControl is the capability spec.md §1 treats as out of scope for the
// core: everything that requires talking to the hypervisor rather than the
// NBD data plane.
type HostControl interface {
	// Domain returns the libvirt domain name this HostControl was opened
	// against.
	Domain() string

	// ListDisks returns the domain's backing disks, filtered by
	// --include/--exclude at the caller.
	ListDisks(ctx context.Context) ([]Disk, error)

	// ListCheckpoints returns every checkpoint name currently registered
	// against the domain on the host, in chain order.
	ListCheckpoints(ctx context.Context) ([]string, error)

	// CreateCheckpoint registers a new checkpoint named name, with parent
	// as its predecessor (nil for the first checkpoint in a chain).
	CreateCheckpoint(ctx context.Context, name string, parent *string) error

	// RedefineCheckpoint re-registers a checkpoint definition already
	// known to the chain file but missing or stale on the host (used when
	// recovering domain state, e.g. after a host-side checkpoint list was
	// rebuilt).
	RedefineCheckpoint(ctx context.Context, name string) error

	// DeleteCheckpoint removes a checkpoint object from the host; used by
	// the pre-full wipe (spec.md §4.H removeAll).
	DeleteCheckpoint(ctx context.Context, name string) error

	// StartBackupJob begins a host-side backup job for the given disks,
	// exposing them over NBD at socketFile.
	StartBackupJob(ctx context.Context, disks []Disk, socketFile string) error

	// StopBackupJob ends the backup job started by StartBackupJob,
	// releasing the NBD export. Called both on success and during signal
	// cleanup (spec.md §5).
	StopBackupJob(ctx context.Context) error

	// FreezeFilesystems/ThawFilesystems issue fsfreeze/fsthaw to the guest
	// agent, when available, around checkpoint creation.
	FreezeFilesystems(ctx context.Context) error
	ThawFilesystems(ctx context.Context) error

	// DumpCheckpointXML and DumpDomainXML retrieve opaque XML blobs the
	// core copies into the backup set verbatim (spec.md §3 "Backup set").
	DumpCheckpointXML(ctx context.Context, name string) ([]byte, error)
	DumpDomainXML(ctx context.Context) ([]byte, error)
}
