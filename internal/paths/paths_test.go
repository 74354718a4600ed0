package paths

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDirs_Linux(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux-only test")
	}
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name   string
		xdgVar string
		xdgVal string
		fn     func() (string, error)
		want   string
	}{
		{name: "config uses XDG_CONFIG_HOME", xdgVar: "XDG_CONFIG_HOME", xdgVal: "/tmp/xdg-config", fn: DefaultConfigDir, want: "/tmp/xdg-config/receipts"},
		{name: "config falls back to ~/.config", xdgVar: "XDG_CONFIG_HOME", fn: DefaultConfigDir, want: filepath.Join(home, ".config", "receipts")},
		{name: "data uses XDG_DATA_HOME", xdgVar: "XDG_DATA_HOME", xdgVal: "/tmp/xdg-data", fn: DefaultDataDir, want: "/tmp/xdg-data/receipts"},
		{name: "data falls back to ~/.local/share", xdgVar: "XDG_DATA_HOME", fn: DefaultDataDir, want: filepath.Join(home, ".local", "share", "receipts")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.xdgVar, tt.xdgVal)
			got, err := tt.fn()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultConfigDir_HomeError(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux-only test")
	}
	t.Setenv("XDG_CONFIG_HOME", "")
	orig := platformDir.homeDir
	platformDir.homeDir = func() (string, error) { return "", errors.New("no home") }
	t.Cleanup(func() { platformDir.homeDir = orig })

	_, err := DefaultConfigDir()
	assert.Error(t, err)
}

func TestResolveConfigDir(t *testing.T) {
	tests := []struct {
		name    string
		flag    string
		envVal  string
		wantSub string
	}{
		{name: "flag wins over env", flag: "/explicit/config", envVal: "/env/config", wantSub: "/explicit/config"},
		{name: "env wins when flag empty", envVal: "/env/config", wantSub: "/env/config"},
		{name: "platform default when both empty", wantSub: AppName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvConfigDir, tt.envVal)
			got, err := ResolveConfigDir(tt.flag)
			require.NoError(t, err)
			assert.Contains(t, got, tt.wantSub)
			assert.True(t, filepath.IsAbs(got), "expected absolute path, got %s", got)
		})
	}
}

func TestResolveDataDir(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		name     string
		flag     string
		cfgValue string
		envVal   string
		want     string
	}{
		{name: "flag wins over all", flag: "/flag/data", cfgValue: "/config/data", envVal: "/env/data", want: "/flag/data"},
		{name: "config wins over env", cfgValue: "/config/data", envVal: "/env/data", want: "/config/data"},
		{name: "env wins when flag and config empty", envVal: "/env/data", want: "/env/data"},
		{name: "CWD default when all empty", want: filepath.Join(cwd, DefaultDataDirName)},
		{name: "relative flag becomes absolute", flag: "rel/data", want: filepath.Join(cwd, "rel", "data")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvDataDir, tt.envVal)
			got, err := ResolveDataDir(tt.flag, tt.cfgValue)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigAndEnvFiles(t *testing.T) {
	assert.Equal(t, filepath.Join("/etc/r", "config.yaml"), ConfigFile("/etc/r"))
	assert.Equal(t, filepath.Join("/etc/r", ".env"), EnvFile("/etc/r"))
}
