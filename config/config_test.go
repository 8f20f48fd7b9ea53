package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// isolate points HOME at a temp dir and clears every JULIUS_ variable.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, name := range []string{"JULIUS_API_KEY", "JULIUS_BASE_URL", "JULIUS_MODEL", "JULIUS_DATA_DIR", "JULIUS_DEBUG", "JULIUS_SSH_PASSPHRASE"} {
		t.Setenv(name, "")
	}
	return home
}

func TestLoad_CreatesDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".local", "share", "julius"), cfg.DataDir())
	assert.FileExists(t, filepath.Join(home, ".config", "julius", "settings.toml"))
	assert.FileExists(t, filepath.Join(cfg.DataDir(), "config.toml"))

	assert.Equal(t, "https://api.julius.ai", cfg.BaseURL)
	assert.Equal(t, "https://julius.ai", cfg.Origin)
	assert.Equal(t, "default", cfg.DefaultModel)
	assert.Equal(t, "CPU", cfg.ServerType)
	assert.Equal(t, 1, cfg.AttachmentConcurrency)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
	assert.Equal(t, SecurityPlainText, cfg.CredentialStorage)
	assert.Empty(t, cfg.APIKey)

	info, err := os.Stat(cfg.DataDir())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestLoad_TemplateMatchesDefaults(t *testing.T) {
	isolate(t)

	// The first Load writes the template; the second parses it.
	_, err := Load()
	require.NoError(t, err)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultKnownModels(), cfg.KnownModels)
	assert.Equal(t, 8*1024*1024, cfg.MaxFragmentBytes)
	assert.Equal(t, "20240130", cfg.ClientVersion)
}

func TestLoad_UserConfigAndEnv(t *testing.T) {
	isolate(t)
	dataDir := filepath.Join(t.TempDir(), "data")
	t.Setenv("JULIUS_DATA_DIR", dataDir)

	require.NoError(t, os.MkdirAll(dataDir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.toml"), []byte(`
[api]
base_url = "http://localhost:9000"

[chat]
default_model = "gpt-4o"

[pipeline]
attachment_concurrency = 3
strict_truncation = true
request_timeout = "45s"
`), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, dataDir, cfg.DataDir())
	assert.Equal(t, "http://localhost:9000", cfg.BaseURL)
	assert.Equal(t, "https://julius.ai", cfg.Origin, "keys missing from the file keep defaults")
	assert.Equal(t, "gpt-4o", cfg.DefaultModel)
	assert.Equal(t, 3, cfg.AttachmentConcurrency)
	assert.True(t, cfg.StrictTruncation)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)

	t.Setenv("JULIUS_API_KEY", "env-key")
	t.Setenv("JULIUS_MODEL", "o1-mini")
	t.Setenv("JULIUS_BASE_URL", "http://override")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, "o1-mini", cfg.DefaultModel)
	assert.Equal(t, "http://override", cfg.BaseURL)
}

func TestLoad_InvalidTimeout(t *testing.T) {
	isolate(t)
	dataDir := t.TempDir()
	t.Setenv("JULIUS_DATA_DIR", dataDir)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.toml"), []byte("[pipeline]\nrequest_timeout = \"soon\"\n"), 0600))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_timeout")
}

func TestSaveUserConfig_RoundTrip(t *testing.T) {
	isolate(t)
	dataDir := t.TempDir()

	in := DefaultUserConfig()
	in.Chat.DefaultModel = "o1"
	in.Pipeline.AttachmentConcurrency = 5
	require.NoError(t, SaveUserConfig(in, dataDir))

	out, err := LoadUserConfig(dataDir)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestExpandPath(t *testing.T) {
	home := isolate(t)
	t.Setenv("JULIUS_TEST_DIR", "/srv/data")

	assert.Equal(t, filepath.Join(home, "x"), ExpandPath("~/x"))
	assert.Equal(t, "/srv/data/julius", ExpandPath("$JULIUS_TEST_DIR/julius"))
	assert.Equal(t, "", ExpandPath(""))
}

func TestInitDebugLog(t *testing.T) {
	isolate(t)
	dataDir := t.TempDir()

	logger, err := InitDebugLog(dataDir, false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1), "debug disabled by default")
	assert.NoFileExists(t, filepath.Join(dataDir, "debug.log"))

	t.Setenv("JULIUS_DEBUG", "1")
	logger, err = InitDebugLog(dataDir, false)
	require.NoError(t, err)
	t.Cleanup(func() { Debug = false })
	assert.True(t, logger.Core().Enabled(-1))
	assert.Same(t, logger, DebugLog)

	info, err := os.Stat(filepath.Join(dataDir, "debug.log"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestResolveModel(t *testing.T) {
	known := DefaultKnownModels()

	tests := []struct {
		hint    string
		want    string
		matched bool
	}{
		{"", "", false},
		{"GPT-4o", "gpt-4o", true},
		{"gpt4", "gpt-4o", true},
		{"sonnet", "claude-3-5-sonnet", true},
		{"o1", "o1", true},
		{"brand-new-model-xyz", "brand-new-model-xyz", false},
	}

	for _, tt := range tests {
		t.Run(tt.hint, func(t *testing.T) {
			got, matched := ResolveModel(tt.hint, known)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.matched, matched)
		})
	}

	got, matched := ResolveModel("gpt4", nil)
	assert.Equal(t, "gpt4", got)
	assert.False(t, matched)
}

func TestCredentialStore_PlainText(t *testing.T) {
	dataDir := t.TempDir()

	store := NewCredentialStore(SecurityPlainText, "")
	require.NoError(t, store.Load(dataDir))
	assert.Empty(t, store.Get(CredentialAPIKey))

	store.Set(CredentialAPIKey, "secret-1")
	require.NoError(t, store.Save(dataDir))

	info, err := os.Stat(filepath.Join(dataDir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reloaded := NewCredentialStore(SecurityPlainText, "")
	require.NoError(t, reloaded.Load(dataDir))
	assert.Equal(t, "secret-1", reloaded.Get(CredentialAPIKey))

	reloaded.Delete(CredentialAPIKey)
	require.NoError(t, reloaded.Save(dataDir))
	require.NoError(t, store.Load(dataDir))
	assert.Empty(t, store.Get(CredentialAPIKey))
}

func writeTestSSHKey(t *testing.T, dir string, passphrase string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "test")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	}
	require.NoError(t, err)

	path := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path
}

func TestCredentialStore_SSHKey(t *testing.T) {
	dataDir := t.TempDir()
	keyPath := writeTestSSHKey(t, t.TempDir(), "")

	store := NewCredentialStore(SecuritySSHKey, keyPath)
	store.Set(CredentialAPIKey, "encrypted-secret")
	require.NoError(t, store.Save(dataDir))

	raw, err := os.ReadFile(filepath.Join(dataDir, "credentials.enc"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "encrypted-secret")

	reloaded := NewCredentialStore(SecuritySSHKey, keyPath)
	require.NoError(t, reloaded.Load(dataDir))
	assert.Equal(t, "encrypted-secret", reloaded.Get(CredentialAPIKey))

	otherKey := writeTestSSHKey(t, t.TempDir(), "")
	wrong := NewCredentialStore(SecuritySSHKey, otherKey)
	assert.Error(t, wrong.Load(dataDir), "a different key cannot decrypt")
}

func TestCredentialStore_EncryptedSSHKey(t *testing.T) {
	dataDir := t.TempDir()
	keyPath := writeTestSSHKey(t, t.TempDir(), "hunter2")

	encrypted, err := IsSSHKeyEncrypted(keyPath)
	require.NoError(t, err)
	assert.True(t, encrypted)

	store := NewCredentialStore(SecuritySSHKey, keyPath)
	store.Set(CredentialAPIKey, "k")
	err = store.Save(dataDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JULIUS_SSH_PASSPHRASE")

	store = NewCredentialStore(SecuritySSHKey, keyPath)
	store.SetPassphrase("hunter2")
	store.Set(CredentialAPIKey, "k")
	require.NoError(t, store.Save(dataDir))
}

func TestResolveAPIKey(t *testing.T) {
	isolate(t)
	dataDir := t.TempDir()
	cfg := &Config{DataDirectory: dataDir, CredentialStorage: SecurityPlainText}

	_, err := ResolveAPIKey(cfg, "")
	assert.ErrorIs(t, err, ErrNoAPIKey)

	store := NewCredentialStore(SecurityPlainText, "")
	store.Set(CredentialAPIKey, "stored")
	require.NoError(t, store.Save(dataDir))

	key, err := ResolveAPIKey(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "stored", key)

	cfg.APIKey = "from-env"
	key, _ = ResolveAPIKey(cfg, "")
	assert.Equal(t, "from-env", key)

	key, _ = ResolveAPIKey(cfg, "from-flag")
	assert.Equal(t, "from-flag", key)
}

func TestFindSSHKeys(t *testing.T) {
	home := isolate(t)

	keys, err := FindSSHKeys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	sshDir := filepath.Join(home, ".ssh")
	require.NoError(t, os.MkdirAll(sshDir, 0700))
	writeTestSSHKey(t, sshDir, "")
	require.NoError(t, os.WriteFile(filepath.Join(sshDir, "id_rsa"), []byte("not a key"), 0600))

	keys, err = FindSSHKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(sshDir, "id_ed25519")}, keys)
}
