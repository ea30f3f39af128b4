package helper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCfgPath(t *testing.T) {
	// panic on empty
	assert.Panics(t, func() { GetCfgPath("") })

	// absolute path returns as-is
	abs := "/tmp/test.yaml"
	assert.Equal(t, abs, GetCfgPath(abs))

	// use temp dir
	old, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(old) })

	tmp := t.TempDir()
	_ = os.Chdir(tmp)

	// file in current directory
	f1 := "a.yaml"
	assert.NoError(t, os.WriteFile(f1, []byte("x"), 0o644))
	got := GetCfgPath(f1)
	exp, _ := filepath.EvalSymlinks(filepath.Join(tmp, f1))
	realGot, _ := filepath.EvalSymlinks(got)
	assert.Equal(t, exp, realGot)

	// prefer ./configs second
	_ = os.Remove(filepath.Join(tmp, f1))
	_ = os.MkdirAll("configs", 0o755)
	assert.NoError(t, os.WriteFile(filepath.Join("configs", f1), []byte("x"), 0o644))
	got = GetCfgPath(f1)
	exp, _ = filepath.EvalSymlinks(filepath.Join(tmp, "configs", f1))
	realGot, _ = filepath.EvalSymlinks(got)
	assert.Equal(t, exp, realGot)

	// fallback when not found
	_ = os.Remove(filepath.Join(tmp, "configs", f1))
	got = GetCfgPath(f1)
	assert.Equal(t, filepath.Join("/etc/botgate", f1), got)
}

func TestGetCfgPath_ConfigDirEnv(t *testing.T) {
	old, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(old) })
	work := t.TempDir()
	_ = os.Chdir(work)

	dir := t.TempDir()
	t.Setenv(ConfigDirEnv, dir)
	name := "gateway.yaml"

	// a file in the working directory loses to the env dir
	assert.NoError(t, os.WriteFile(filepath.Join(work, name), []byte("x"), 0o644))
	assert.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	exp, _ := filepath.EvalSymlinks(filepath.Join(dir, name))
	got, _ := filepath.EvalSymlinks(GetCfgPath(name))
	assert.Equal(t, exp, got)

	// directories are not config files
	assert.NoError(t, os.Remove(filepath.Join(dir, name)))
	assert.NoError(t, os.Mkdir(filepath.Join(dir, name), 0o755))
	exp, _ = filepath.EvalSymlinks(filepath.Join(work, name))
	got, _ = filepath.EvalSymlinks(GetCfgPath(name))
	assert.Equal(t, exp, got)
}
