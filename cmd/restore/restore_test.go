package restore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtnbdbackup/virtnbdbackup/internal/backupset"
	"github.com/virtnbdbackup/virtnbdbackup/internal/checkpoint"
)

func writeFile(t *testing.T, target backupset.Target, name string, data []byte) {
	t.Helper()
	w, err := target.OpenWriteOnlyFile(name)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestResolveChainSequenceFlagWins(t *testing.T) {
	old := sequenceFlag
	sequenceFlag = []string{"a.data", "b.data"}
	defer func() { sequenceFlag = old }()

	files, err := resolveChain(nil, "sda")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.data", "b.data"}, files)
}

func TestResolveChainFallsBackToCopyWhenNoFullExists(t *testing.T) {
	sequenceFlag = nil
	dir := t.TempDir()
	target, err := backupset.NewLocalTarget(dir)
	require.NoError(t, err)

	writeFile(t, target, backupset.DataFileName("sda", backupset.LevelCopy, ""), []byte("x"))

	files, err := resolveChain(target, "sda")
	require.NoError(t, err)
	assert.Equal(t, []string{backupset.DataFileName("sda", backupset.LevelCopy, "")}, files)
}

func TestResolveChainErrorsWhenNothingFound(t *testing.T) {
	sequenceFlag = nil
	dir := t.TempDir()
	target, err := backupset.NewLocalTarget(dir)
	require.NoError(t, err)

	_, err = resolveChain(target, "sda")
	assert.Error(t, err)
}

func TestResolveChainDiscoversIncrementalsFromCheckpointFile(t *testing.T) {
	sequenceFlag = nil
	dir := t.TempDir()
	target, err := backupset.NewLocalTarget(dir)
	require.NoError(t, err)

	writeFile(t, target, backupset.DataFileName("sda", backupset.LevelFull, ""), []byte("full"))

	chain, err := checkpoint.Load(target, "mydomain")
	require.NoError(t, err)
	require.NoError(t, chain.Append("virtnbdbackup.0"))
	require.NoError(t, chain.Append("virtnbdbackup.1"))

	writeFile(t, target, backupset.DataFileName("sda", backupset.LevelInc, "virtnbdbackup.1"), []byte("inc1"))

	files, err := resolveChain(target, "sda")
	require.NoError(t, err)
	assert.Equal(t, []string{
		backupset.DataFileName("sda", backupset.LevelFull, ""),
		backupset.DataFileName("sda", backupset.LevelInc, "virtnbdbackup.1"),
	}, files)
}

func TestDomainFromChainFileFindsCptSuffix(t *testing.T) {
	dir := t.TempDir()
	target, err := backupset.NewLocalTarget(dir)
	require.NoError(t, err)

	chain, err := checkpoint.Load(target, "mydomain")
	require.NoError(t, err)
	require.NoError(t, chain.Append("virtnbdbackup.0"))

	assert.Equal(t, "mydomain", domainFromChainFile(target))
}

func TestDomainFromChainFileEmptyWhenNoneFound(t *testing.T) {
	dir := t.TempDir()
	target, err := backupset.NewLocalTarget(dir)
	require.NoError(t, err)

	assert.Equal(t, "", domainFromChainFile(target))
}
