// Package extent implements spec.md §4.C: querying a BlockDevice's extent
// map and coalescing it into an ordered, gap-free list.
package extent

import (
	"context"

	"github.com/pkg/errors"
	"github.com/virtnbdbackup/virtnbdbackup/internal/device"
)

// Query returns the full, coalesced extent list for dev under metaContext.
// metaContext is "base:allocation" for a full/copy backup and
// "qemu:dirty-bitmap:<name>" for incremental/differential, per spec.md §4.C;
// callers decide which to pass, this function is context-agnostic about mode.
func Query(ctx context.Context, dev device.BlockDevice, metaContext string) ([]device.Extent, error) {
	virtualSize := dev.VirtualSize()
	if virtualSize == 0 {
		return nil, nil
	}

	raw, err := dev.Extents(ctx, 0, virtualSize, metaContext)
	if err != nil {
		return nil, errors.Wrapf(err, "extent: query of %q failed", metaContext)
	}
	if len(raw) == 0 {
		return nil, NewNoExtentsError("extent: block-status query for %q on a %d-byte disk returned no extents", metaContext, virtualSize)
	}

	return coalesce(raw), nil
}

// coalesce merges consecutive extents that share the same Data flag and
// abut exactly, per spec.md §3's extent-list invariants.
func coalesce(raw []device.Extent) []device.Extent {
	if len(raw) == 0 {
		return nil
	}

	merged := make([]device.Extent, 0, len(raw))
	cur := raw[0]
	for _, e := range raw[1:] {
		if e.Data == cur.Data && cur.Offset+cur.Length == e.Offset {
			cur.Length += e.Length
			continue
		}
		merged = append(merged, cur)
		cur = e
	}
	return append(merged, cur)
}
