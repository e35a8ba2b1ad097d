package lib

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))

func TestParseDuration(t *testing.T) {
	testCases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "5", want: 5 * time.Second},
		{in: "0.5", want: 500 * time.Millisecond},
		{in: "1500ms", want: 1500 * time.Millisecond},
		{in: "2m", want: 2 * time.Minute},
		{in: "-1", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseDuration(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLoadAgentConfig(t *testing.T) {
	t.Run("should apply defaults and parse values", func(t *testing.T) {
		cfg, err := LoadAgentConfig(MapProvider{
			"client.server_ip":          "10.0.0.5",
			"client.client_name":        "laptop",
			"security.key":              testKey,
			"sleep.connection_error":    "3",
			"sleep.between_one_file":    "100ms",
			"sleep.between_synchronize": "30",
		})
		require.NoError(t, err)

		assert.Equal(t, "10.0.0.5:8000", cfg.ServerAddr())
		assert.Equal(t, "laptop", cfg.ClientID)
		assert.Len(t, cfg.Key, 32)
		assert.Equal(t, DefaultRootListPath, cfg.RootListPath)
		assert.Equal(t, DefaultStatePath, cfg.StatePath)
		assert.Equal(t, Timing{RetryDelay: 3 * time.Second, ItemDelay: 100 * time.Millisecond, CycleDelay: 30 * time.Second}, cfg.Timing)
		assert.Equal(t, defaultAckTimeout, cfg.AckTimeout)
	})

	t.Run("should require the server address and key", func(t *testing.T) {
		_, err := LoadAgentConfig(MapProvider{"client.client_name": "laptop", "security.key": testKey})
		assert.ErrorIs(t, err, ErrMissingConfig)

		_, err = LoadAgentConfig(MapProvider{"client.client_name": "laptop", "client.server_ip": "h"})
		assert.ErrorIs(t, err, ErrMissingConfig)
	})

	t.Run("should reject keys that are not 32 bytes", func(t *testing.T) {
		_, err := LoadAgentConfig(MapProvider{
			"client.server_ip":   "h",
			"client.client_name": "laptop",
			"security.key":       base64.StdEncoding.EncodeToString([]byte("short")),
		})
		assert.Error(t, err)
	})

	t.Run("should accept url-safe base64 keys", func(t *testing.T) {
		raw := make([]byte, 32)
		for i := range raw {
			raw[i] = 0xfb
		}
		cfg, err := LoadAgentConfig(MapProvider{
			"client.server_ip":   "h",
			"client.client_name": "laptop",
			"security.key":       base64.URLEncoding.EncodeToString(raw),
		})
		require.NoError(t, err)
		assert.Equal(t, raw, cfg.Key)
	})
}

func TestLoadCollectorConfig(t *testing.T) {
	cfg, err := LoadCollectorConfig(MapProvider{
		"server.backup_folder_path": "/srv/backup",
		"server.port":               "9100",
		"server.max_connections":    "4",
		"security.key":              testKey,
	})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9100", cfg.ListenAddr())
	assert.Equal(t, 4, cfg.MaxConnections)
	assert.Equal(t, int64(defaultMaxFrameMB)*1024*1024, cfg.MaxFrameSize)

	_, err = LoadCollectorConfig(MapProvider{
		"server.backup_folder_path": "/srv/backup",
		"server.max_connections":    "0",
		"security.key":              testKey,
	})
	assert.Error(t, err)
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `[client]
server_ip = "192.168.1.10"
server_port = 9000
client_name = "office"

[sleep]
connection_error = 5

[security]
key = "` + testKey + `"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10", p.Get("client", "server_ip"))
	assert.Equal(t, "9000", p.Get("client", "server_port"))
	assert.Equal(t, "5", p.Get("sleep", "connection_error"))
	assert.Equal(t, "", p.Get("client", "missing"))

	t.Run("should only pick up file edits on Reload", func(t *testing.T) {
		updated := strings.Replace(content, "connection_error = 5", "connection_error = 9", 1)
		require.NoError(t, os.WriteFile(path, []byte(updated), 0644))
		assert.Equal(t, "5", p.Get("sleep", "connection_error"))

		require.NoError(t, p.Reload())
		timing, err := LoadTiming(p)
		require.NoError(t, err)
		assert.Equal(t, 9*time.Second, timing.RetryDelay)
	})

	t.Run("should let the environment override the file", func(t *testing.T) {
		t.Setenv("BSYNC_CLIENT_SERVER_IP", "10.9.9.9")
		assert.Equal(t, "10.9.9.9", p.Get("client", "server_ip"))
	})

	t.Run("should tolerate a missing file", func(t *testing.T) {
		p, err := NewFileProvider(filepath.Join(dir, "absent.toml"))
		require.NoError(t, err)
		assert.Equal(t, "", p.Get("client", "server_ip"))
	})
}

func TestIgnoreMatcher(t *testing.T) {
	// Test case table
	testCases := []struct {
		name            string
		ignoreContent   string
		pathToCheck     string
		isDir           bool
		shouldBeIgnored bool
	}{
		{name: "Default ignore file", pathToCheck: IgnoreFilename, shouldBeIgnored: true},
		{name: "Default editor swap file", pathToCheck: "notes/.a.txt.swp", shouldBeIgnored: true},
		{name: "Specific file match", ignoreContent: "secret.txt", pathToCheck: "secret.txt", shouldBeIgnored: true},
		{name: "Glob pattern match", ignoreContent: "*.log", pathToCheck: "system.log", shouldBeIgnored: true},
		{name: "Glob pattern in subdir", ignoreContent: "*.log", pathToCheck: "logs/system.log", shouldBeIgnored: true},
		{name: "Directory pattern match", ignoreContent: "build/", pathToCheck: "build", isDir: true, shouldBeIgnored: true},
		{name: "Directory pattern content", ignoreContent: "build/", pathToCheck: "build/asset.js", shouldBeIgnored: true},
		{name: "Comments are skipped", ignoreContent: "# *.txt\n", pathToCheck: "notes.txt", shouldBeIgnored: false},
		{name: "No match", ignoreContent: "*.log", pathToCheck: "main.go", shouldBeIgnored: false},
		{name: "Root is never ignored", ignoreContent: "*", pathToCheck: ".", isDir: true, shouldBeIgnored: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			if tc.ignoreContent != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, IgnoreFilename), []byte(tc.ignoreContent), 0644))
			}
			m := LoadIgnoreMatcher(dir)
			assert.Equal(t, tc.shouldBeIgnored, m.Ignored(tc.pathToCheck, tc.isDir))
		})
	}
}
