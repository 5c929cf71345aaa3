package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtnbdbackup/virtnbdbackup/internal/backupset"
)

func newTestTarget(t *testing.T) backupset.Target {
	t.Helper()
	target, err := backupset.NewLocalTarget(t.TempDir())
	require.NoError(t, err)
	return target
}

func TestLoadEmptyChain(t *testing.T) {
	target := newTestTarget(t)
	chain, err := Load(target, "testdomain")
	require.NoError(t, err)
	assert.True(t, chain.Empty())
	assert.Empty(t, chain.Names())
}

func TestAppendPersistsAndReloads(t *testing.T) {
	target := newTestTarget(t)
	chain, err := Load(target, "testdomain")
	require.NoError(t, err)

	require.NoError(t, chain.Append("virtnbdbackup.0"))
	require.NoError(t, chain.Append("virtnbdbackup.1"))

	reloaded, err := Load(target, "testdomain")
	require.NoError(t, err)
	assert.Equal(t, []string{"virtnbdbackup.0", "virtnbdbackup.1"}, reloaded.Names())
}

func TestRemoveAllWipesAndReturnsRemoved(t *testing.T) {
	target := newTestTarget(t)
	chain, err := Load(target, "testdomain")
	require.NoError(t, err)
	require.NoError(t, chain.Append("virtnbdbackup.0"))
	require.NoError(t, chain.Append("virtnbdbackup.1"))

	removed, err := chain.RemoveAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"virtnbdbackup.0", "virtnbdbackup.1"}, removed)
	assert.True(t, chain.Empty())

	reloaded, err := Load(target, "testdomain")
	require.NoError(t, err)
	assert.True(t, reloaded.Empty())
}

func TestParentForFull(t *testing.T) {
	target := newTestTarget(t)
	chain, err := Load(target, "testdomain")
	require.NoError(t, err)

	name, parent, appends, err := chain.ParentFor(backupset.LevelFull, false)
	require.NoError(t, err)
	assert.Equal(t, "virtnbdbackup.0", name)
	assert.Nil(t, parent)
	assert.True(t, appends)
}

func TestParentForCopyHasNoCheckpointSemantics(t *testing.T) {
	target := newTestTarget(t)
	chain, err := Load(target, "testdomain")
	require.NoError(t, err)

	name, parent, appends, err := chain.ParentFor(backupset.LevelCopy, false)
	require.NoError(t, err)
	assert.Empty(t, name)
	assert.Nil(t, parent)
	assert.False(t, appends)
}

func TestParentForIncRequiresChain(t *testing.T) {
	target := newTestTarget(t)
	chain, err := Load(target, "testdomain")
	require.NoError(t, err)

	_, _, _, err = chain.ParentFor(backupset.LevelInc, false)
	require.Error(t, err)
	_, ok := err.(NoCheckpointsError)
	assert.True(t, ok)

	require.NoError(t, chain.Append("virtnbdbackup.0"))
	name, parent, appends, err := chain.ParentFor(backupset.LevelInc, false)
	require.NoError(t, err)
	assert.Equal(t, "virtnbdbackup.1", name)
	require.NotNil(t, parent)
	assert.Equal(t, "virtnbdbackup.0", *parent)
	assert.True(t, appends)
}

func TestParentForDiffOfflineReusesLastCheckpoint(t *testing.T) {
	target := newTestTarget(t)
	chain, err := Load(target, "testdomain")
	require.NoError(t, err)
	require.NoError(t, chain.Append("virtnbdbackup.0"))

	name, parent, appends, err := chain.ParentFor(backupset.LevelDiff, false)
	require.NoError(t, err)
	assert.Equal(t, "virtnbdbackup.0", name)
	require.NotNil(t, parent)
	assert.Equal(t, "virtnbdbackup.0", *parent)
	assert.False(t, appends)

	// diff never grows the chain
	reloaded, err := Load(target, "testdomain")
	require.NoError(t, err)
	assert.Len(t, reloaded.Names(), 1)
}

func TestParentForDiffOnlineGeneratesFreshNameWithoutAppending(t *testing.T) {
	target := newTestTarget(t)
	chain, err := Load(target, "testdomain")
	require.NoError(t, err)
	require.NoError(t, chain.Append("virtnbdbackup.0"))

	name, parent, appends, err := chain.ParentFor(backupset.LevelDiff, true)
	require.NoError(t, err)
	assert.NotEqual(t, "virtnbdbackup.0", name)
	require.NotNil(t, parent)
	assert.Equal(t, "virtnbdbackup.0", *parent)
	assert.False(t, appends)
}

func TestValidateForeignRejectsUnknownPrefix(t *testing.T) {
	err := ValidateForeign([]string{"virtnbdbackup.0", "virtnbdbackup.1", "someoneElse"})
	require.Error(t, err)
	_, ok := err.(ForeignCheckpointError)
	assert.True(t, ok)

	err = ValidateForeign([]string{"virtnbdbackup.0", "virtnbdbackup.1"})
	assert.NoError(t, err)
}
