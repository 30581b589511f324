// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adrg/xdg"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/inconnu/pkg/broker/keys"
	"github.com/stacklok/inconnu/pkg/versions"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestKeygen(t *testing.T) { //nolint:paralleltest // root command initializes the global logger
	t.Run("hmac secret", func(t *testing.T) {
		out, err := execute(t, "keygen")
		require.NoError(t, err)
		secret := strings.TrimSpace(out)
		assert.GreaterOrEqual(t, len(secret), keys.MinSecretLength)

		_, err = keys.NewHMACProvider([]byte(secret))
		require.NoError(t, err)
	})

	for _, alg := range []jose.SignatureAlgorithm{jose.ES256, jose.EdDSA} {
		t.Run(string(alg), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "key.pem")
			_, err := execute(t, "keygen", "--algorithm", string(alg), "--output", path)
			require.NoError(t, err)

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			provider, err := keys.NewFileProvider(path)
			require.NoError(t, err)
			assert.Equal(t, alg, provider.SigningKey().Algorithm)
		})
	}

	t.Run("unsupported algorithm", func(t *testing.T) {
		_, err := execute(t, "keygen", "--algorithm", "none")
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) { //nolint:paralleltest // root command initializes the global logger
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.yaml")
	require.NoError(t, os.WriteFile(valid, []byte(`
listen: 127.0.0.1:8080
hub:
  url: https://hub.example/okta
`), 0o600))

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte(`
storage:
  type: etcd
receivers:
  allowed:
    - ftp://files.example
`), 0o600))

	out, err := execute(t, "validate", "--config", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "satellite of https://hub.example/okta")
	assert.Contains(t, out, "127.0.0.1:8080")

	_, err = execute(t, "validate", "--config", invalid)
	require.ErrorContains(t, err, "storage.type")
	require.ErrorContains(t, err, "receivers.allowed")

	_, err = execute(t, "validate", "--config", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestValidate_XDGConfigFile(t *testing.T) { //nolint:paralleltest // modifies environment
	t.Cleanup(xdg.Reload)
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("XDG_CONFIG_DIRS", t.TempDir())
	xdg.Reload()

	require.NoError(t, os.MkdirAll(filepath.Join(home, "inconnu"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(home, "inconnu", "config.yaml"), []byte(`
listen: 127.0.0.1:9090
hub:
  url: https://hub.example/corp
`), 0o600))

	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "satellite of https://hub.example/corp")
	assert.Contains(t, out, "127.0.0.1:9090")
}

func TestVersion(t *testing.T) { //nolint:paralleltest // root command initializes the global logger
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var info versions.VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, versions.GetVersionInfo(), info)

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Go Version: ")
}
