package checksum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestChangedFirstSeenIsChanged(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, dir, "a.conf", "hello")

	s := NewStore(filepath.Join(dir, "store.json"))
	changed, err := s.Changed("sid-1", target)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestChangedSameContentNotChanged(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, dir, "a.conf", "hello")

	s := NewStore(filepath.Join(dir, "store.json"))
	_, err := s.Changed("sid-1", target)
	require.NoError(t, err)

	changed, err := s.Changed("sid-1", target)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestChangedDifferentContentChanged(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, dir, "a.conf", "hello")

	s := NewStore(filepath.Join(dir, "store.json"))
	_, err := s.Changed("sid-1", target)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(target, []byte("hello, world"), 0644))
	changed, err := s.Changed("sid-1", target)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, dir, "a.conf", "hello")
	storePath := filepath.Join(dir, "store.json")

	s := NewStore(storePath)
	_, err := s.Changed("sid-1", target)
	require.NoError(t, err)
	require.NoError(t, s.Save())

	s2 := NewStore(storePath)
	require.NoError(t, s2.Load())
	changed, err := s2.Changed("sid-1", target)
	require.NoError(t, err)
	assert.False(t, changed, "digest recorded before restart must survive reload")
}

func TestLoadMissingFileIsEmptyStore(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "does-not-exist.json"))
	require.NoError(t, s.Load())
}

func TestObserveDistinguishesBaselineFromTriggered(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, dir, "a.conf", "hello")
	s := NewStore(filepath.Join(dir, "store.json"))

	status, err := s.Observe("sid-1", target)
	require.NoError(t, err)
	assert.Equal(t, StatusBaseline, status, "first sighting must be baseline, not triggered")

	status, err = s.Observe("sid-1", target)
	require.NoError(t, err)
	assert.Equal(t, StatusUnchanged, status)

	require.NoError(t, os.WriteFile(target, []byte("changed"), 0644))
	status, err = s.Observe("sid-1", target)
	require.NoError(t, err)
	assert.Equal(t, StatusTriggered, status)
}

func TestLoadCorruptedStore(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "store.json")
	require.NoError(t, os.WriteFile(storePath, []byte("{not json"), 0644))

	s := NewStore(storePath)
	err := s.Load()
	assert.ErrorIs(t, err, ErrCorruptedStore)
}
