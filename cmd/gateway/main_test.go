package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/amoylab/botgate/internal/common/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func captureOutput(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()

	f()
	_ = w.Close()
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, port int) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "gateway.yaml")
	yaml := fmt.Sprintf(`server:
  port: %d
  mode: test
  shutdown_timeout: 2s
provider:
  type: mock
artifact:
  dir: %s
scan_store:
  type: sqlite
  dbname: %s
metrics:
  enabled: true
`, port, filepath.Join(dir, "qr"), filepath.Join(dir, "scans.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0644))
	return cfgPath
}

func TestRootCmd_Version(t *testing.T) {
	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	rootCmd.SetArgs([]string{"version"})
	out := captureOutput(func() { _ = rootCmd.Execute() })
	assert.True(t, strings.HasPrefix(out, "botgate version "), out)
}

func TestRootCmd_Help(t *testing.T) {
	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	rootCmd.SetArgs([]string{"--help"})
	assert.NoError(t, rootCmd.Execute())
}

func TestTestCommand(t *testing.T) {
	cfgPath := writeConfig(t, 3001)

	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	rootCmd.SetArgs([]string{"test", "--conf", cfgPath})
	out := captureOutput(func() {
		assert.NoError(t, rootCmd.Execute())
	})
	assert.Contains(t, out, "test is successful")

	rootCmd.SetArgs([]string{"test", "--conf", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, rootCmd.Execute())
}

func TestServe_StartsAndStops(t *testing.T) {
	port := freePort(t)
	cfg, _, err := config.LoadConfig(writeConfig(t, port))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, zap.NewNop(), cfg) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health_check")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+"/generate-qr", "application/json", strings.NewReader(`{"userId":"u1"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
