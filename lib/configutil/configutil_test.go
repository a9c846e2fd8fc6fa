package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Port    int      `json:"port"`
	Name    string   `json:"name"`
	Domains []string `json:"domains"`
}

func TestReadConfigLocalOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{
		// comments are allowed
		port: 8000,
		name: "default",
	}`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
		name: "local",
	}`), 0600))

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, 8000, cfg.Port)
	require.Equal(t, "local", cfg.Name)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "config.json5"))
	require.True(t, os.IsNotExist(err))
}

func TestReadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{ port: `), 0600))

	_, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.Error(t, err)
	require.False(t, os.IsNotExist(err))
}

func TestOpenDBMemory(t *testing.T) {
	db, err := Database{File: ":memory:"}.OpenDB(`create table if not exists kv (k text primary key, v text);`)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("insert into kv(k, v) values ('a', 'b')")
	require.NoError(t, err)

	var v string
	require.NoError(t, db.QueryRow("select v from kv where k = 'a'").Scan(&v))
	require.Equal(t, "b", v)
}

func TestOpenDBNoTarget(t *testing.T) {
	_, err := Database{}.OpenDB("")
	require.Error(t, err)
}
