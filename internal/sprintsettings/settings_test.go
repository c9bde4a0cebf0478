package sprintsettings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreGetLazyLoadsDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "settings.json"), nil)
	got := store.Get()
	require.Equal(t, Defaults(), got)
}

func TestStoreGetFallsBackOnCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewStore(path, nil)
	got := store.Get()
	require.Equal(t, Defaults(), got)
}

func TestStoreUpdateRejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "settings.json"), nil)

	_, err := store.Update(map[string]int{"nonsense_field": 1})
	require.Error(t, err)
}

func TestStoreUpdateValidatesServerPortRange(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "settings.json"), nil)

	_, err := store.Update(map[string]int{"server_port": 70000})
	require.Error(t, err)

	_, err = store.Update(map[string]int{"server_port": 0})
	require.Error(t, err)

	got, err := store.Update(map[string]int{"server_port": 9090})
	require.NoError(t, err)
	require.Equal(t, 9090, got.ServerPort)
}

func TestStoreUpdatePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	first := NewStore(path, nil)
	_, err := first.Update(map[string]int{"default_max_cycles": 7})
	require.NoError(t, err)

	second := NewStore(path, nil)
	got := second.Get()
	require.Equal(t, 7, got.DefaultMaxCycles)
}

func TestStoreUpdateIsAtomicOnValidationFailure(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "settings.json"), nil)

	before := store.Get()
	_, err := store.Update(map[string]int{
		"default_max_cycles": 3,
		"server_port":        -1,
	})
	require.Error(t, err)

	after := store.Get()
	require.Equal(t, before, after)
}

func TestStoreReset(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "settings.json"), nil)
	_, err := store.Update(map[string]int{"default_max_cycles": 99})
	require.NoError(t, err)

	got, err := store.Reset()
	require.NoError(t, err)
	require.Equal(t, Defaults(), got)
}

func TestFromMapIgnoresUnknownKeys(t *testing.T) {
	s := FromMap(map[string]any{
		"default_max_cycles": float64(5),
		"totally_unknown":    "ignored",
	})
	require.Equal(t, 5, s.DefaultMaxCycles)
	require.Equal(t, Defaults().ServerPort, s.ServerPort)
}
