package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orderflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimal = `
auth_token: secret
router_address: "0x0000000000000000000000000000000000000501"
trampoline: "0x0000000000000000000000000000000000000502"
settlement:
  chain_id: 100
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)
	require.Equal(t, ":7085", cfg.ListenAddress)
	require.Equal(t, "dev", cfg.Environment)
	require.Equal(t, 5*time.Minute, cfg.Validity.Duration)
	require.Equal(t, "v2", cfg.Settlement.DomainVersion)
	require.Equal(t, 4, cfg.Settlement.SubmitBurst)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, 100, cfg.Log.MaxSizeMB)
}

func TestLoadParsesDurations(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal+"validity: 90s\n"))
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, cfg.Validity.Duration)
}

func TestLoadRejectsMissingToken(t *testing.T) {
	body := strings.Replace(minimal, "auth_token: secret\n", "", 1)
	_, err := Load(writeConfig(t, body))
	require.ErrorContains(t, err, "auth_token")
}

func TestLoadRejectsBadAddress(t *testing.T) {
	body := strings.Replace(minimal, "0x0000000000000000000000000000000000000502", "not-an-address", 1)
	_, err := Load(writeConfig(t, body))
	require.ErrorContains(t, err, "trampoline")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimal+"validity: soon\n"))
	require.ErrorContains(t, err, "parse duration")
}
