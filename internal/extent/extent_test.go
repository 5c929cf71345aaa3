package extent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/virtnbdbackup/virtnbdbackup/internal/device"
)

type fakeDevice struct {
	virtualSize uint64
	extents     []device.Extent
	err         error
}

func (f *fakeDevice) VirtualSize() uint64      { return f.virtualSize }
func (f *fakeDevice) MaxRequestSize() uint64   { return 1 << 20 }
func (f *fakeDevice) Close() error             { return nil }
func (f *fakeDevice) ReadAt(context.Context, uint64, uint64) ([]byte, error)  { return nil, nil }
func (f *fakeDevice) WriteAt(context.Context, uint64, []byte) error           { return nil }
func (f *fakeDevice) ZeroAt(context.Context, uint64, uint64) error            { return nil }

func (f *fakeDevice) Extents(ctx context.Context, offset, length uint64, metaContext string) ([]device.Extent, error) {
	return f.extents, f.err
}

func TestQueryCoalescesAdjacentSameKindExtents(t *testing.T) {
	dev := &fakeDevice{
		virtualSize: 12288,
		extents: []device.Extent{
			{Offset: 0, Length: 4096, Data: true},
			{Offset: 4096, Length: 4096, Data: true},
			{Offset: 8192, Length: 4096, Data: false},
		},
	}

	got, err := Query(context.Background(), dev, "base:allocation")
	assert.NoError(t, err)
	assert.Equal(t, []device.Extent{
		{Offset: 0, Length: 8192, Data: true},
		{Offset: 8192, Length: 4096, Data: false},
	}, got)
}

func TestQueryDoesNotCoalesceNonAdjacentOrDifferentKind(t *testing.T) {
	dev := &fakeDevice{
		virtualSize: 8192,
		extents: []device.Extent{
			{Offset: 0, Length: 4096, Data: true},
			{Offset: 4096, Length: 4096, Data: false},
		},
	}

	got, err := Query(context.Background(), dev, "base:allocation")
	assert.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestQueryEmptyDiskReturnsNoExtents(t *testing.T) {
	dev := &fakeDevice{virtualSize: 0}
	got, err := Query(context.Background(), dev, "base:allocation")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueryEmptyResultOnNonEmptyDiskFails(t *testing.T) {
	dev := &fakeDevice{virtualSize: 4096}
	_, err := Query(context.Background(), dev, "qemu:dirty-bitmap:virtnbdbackup.1")
	assert.Error(t, err)
	_, ok := err.(NoExtentsError)
	assert.True(t, ok)
}
