package hostcontrol

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtnbdbackup/virtnbdbackup/internal/backupset"
	"github.com/virtnbdbackup/virtnbdbackup/internal/checkpoint"
)

type fakeHostControl struct {
	domain           string
	checkpoints      []string
	deleted          []string
	created          []string
	redefined        []string
	createShouldFail map[string]bool
	redefineFails    bool
}

func (f *fakeHostControl) Domain() string { return f.domain }
func (f *fakeHostControl) ListDisks(ctx context.Context) ([]Disk, error) { return nil, nil }
func (f *fakeHostControl) ListCheckpoints(ctx context.Context) ([]string, error) {
	return f.checkpoints, nil
}
func (f *fakeHostControl) CreateCheckpoint(ctx context.Context, name string, parent *string) error {
	if f.createShouldFail[name] {
		return errors.New("checkpoint already defined")
	}
	f.created = append(f.created, name)
	return nil
}
func (f *fakeHostControl) RedefineCheckpoint(ctx context.Context, name string) error {
	if f.redefineFails {
		return errors.New("redefine refused")
	}
	f.redefined = append(f.redefined, name)
	return nil
}
func (f *fakeHostControl) DeleteCheckpoint(ctx context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}
func (f *fakeHostControl) StartBackupJob(ctx context.Context, disks []Disk, socketFile string) error {
	return nil
}
func (f *fakeHostControl) StopBackupJob(ctx context.Context) error       { return nil }
func (f *fakeHostControl) FreezeFilesystems(ctx context.Context) error  { return nil }
func (f *fakeHostControl) ThawFilesystems(ctx context.Context) error    { return nil }
func (f *fakeHostControl) DumpCheckpointXML(ctx context.Context, name string) ([]byte, error) {
	return nil, nil
}
func (f *fakeHostControl) DumpDomainXML(ctx context.Context) ([]byte, error) { return nil, nil }

func newChain(t *testing.T) *checkpoint.Chain {
	t.Helper()
	target, err := backupset.NewLocalTarget(t.TempDir())
	require.NoError(t, err)
	chain, err := checkpoint.Load(target, "testdomain")
	require.NoError(t, err)
	return chain
}

func TestPrepareCheckpointFullWipesAndCreates(t *testing.T) {
	chain := newChain(t)
	require.NoError(t, chain.Append("virtnbdbackup.0"))
	require.NoError(t, chain.Append("virtnbdbackup.1"))

	hc := &fakeHostControl{domain: "testdomain", checkpoints: []string{"virtnbdbackup.0", "virtnbdbackup.1"}}
	name, parent, err := PrepareCheckpoint(context.Background(), hc, chain, backupset.LevelFull, false)
	require.NoError(t, err)
	assert.Equal(t, "virtnbdbackup.0", name)
	assert.Nil(t, parent)
	assert.ElementsMatch(t, []string{"virtnbdbackup.0", "virtnbdbackup.1"}, hc.deleted)
	assert.Equal(t, []string{"virtnbdbackup.0"}, hc.created)
	assert.Equal(t, []string{"virtnbdbackup.0"}, chain.Names())
}

func TestPrepareCheckpointForeignRejected(t *testing.T) {
	chain := newChain(t)
	hc := &fakeHostControl{domain: "testdomain", checkpoints: []string{"someoneElse"}}
	_, _, err := PrepareCheckpoint(context.Background(), hc, chain, backupset.LevelFull, false)
	require.Error(t, err)
	_, ok := err.(checkpoint.ForeignCheckpointError)
	assert.True(t, ok)
}

func TestPrepareCheckpointCopySkipsForeignCheck(t *testing.T) {
	chain := newChain(t)
	hc := &fakeHostControl{domain: "testdomain", checkpoints: []string{"someoneElse"}}
	name, parent, err := PrepareCheckpoint(context.Background(), hc, chain, backupset.LevelCopy, false)
	require.NoError(t, err)
	assert.Empty(t, name)
	assert.Nil(t, parent)
}

func TestPrepareCheckpointIncAppendsOnSuccess(t *testing.T) {
	chain := newChain(t)
	require.NoError(t, chain.Append("virtnbdbackup.0"))
	hc := &fakeHostControl{domain: "testdomain", checkpoints: []string{"virtnbdbackup.0"}}

	name, parent, err := PrepareCheckpoint(context.Background(), hc, chain, backupset.LevelInc, false)
	require.NoError(t, err)
	assert.Equal(t, "virtnbdbackup.1", name)
	require.NotNil(t, parent)
	assert.Equal(t, "virtnbdbackup.0", *parent)
	assert.Equal(t, []string{"virtnbdbackup.0", "virtnbdbackup.1"}, chain.Names())
}

func TestPrepareCheckpointFallsBackToRedefine(t *testing.T) {
	chain := newChain(t)
	require.NoError(t, chain.Append("virtnbdbackup.0"))
	hc := &fakeHostControl{
		domain:           "testdomain",
		checkpoints:      []string{"virtnbdbackup.0"},
		createShouldFail: map[string]bool{"virtnbdbackup.1": true},
	}

	name, _, err := PrepareCheckpoint(context.Background(), hc, chain, backupset.LevelInc, false)
	require.NoError(t, err)
	assert.Equal(t, "virtnbdbackup.1", name)
	assert.Equal(t, []string{"virtnbdbackup.1"}, hc.redefined)
}

func TestPrepareCheckpointRedefineFailureIsFatal(t *testing.T) {
	chain := newChain(t)
	require.NoError(t, chain.Append("virtnbdbackup.0"))
	hc := &fakeHostControl{
		domain:           "testdomain",
		checkpoints:      []string{"virtnbdbackup.0"},
		createShouldFail: map[string]bool{"virtnbdbackup.1": true},
		redefineFails:    true,
	}

	_, _, err := PrepareCheckpoint(context.Background(), hc, chain, backupset.LevelInc, false)
	require.Error(t, err)
	_, ok := err.(checkpoint.RedefineCheckpointError)
	assert.True(t, ok)
}
