package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// SecurityMethod defines the credential storage method
type SecurityMethod string

const (
	SecurityPlainText SecurityMethod = "plaintext"
	SecuritySSHKey    SecurityMethod = "ssh_key"
)

// CredentialAPIKey is the store entry holding the service bearer secret.
const CredentialAPIKey = "julius_api_key"

// ErrNoAPIKey is returned when no source provides an API key.
var ErrNoAPIKey = errors.New("no API key: set JULIUS_API_KEY, pass --api-key, or run 'julius config set-key'")

// CredentialStore manages encrypted or plain-text credentials
type CredentialStore struct {
	method      SecurityMethod
	credentials map[string]string
	sshKeyPath  string
	passphrase  string
	encManager  *EncryptionManager
}

// NewCredentialStore creates a new credential store
func NewCredentialStore(method SecurityMethod, sshKeyPath string) *CredentialStore {
	return &CredentialStore{
		method:      method,
		credentials: make(map[string]string),
		sshKeyPath:  sshKeyPath,
	}
}

// OpenCredentialStore builds the store described by cfg and loads it.
// For ssh_key storage without a configured key, the first key found in
// ~/.ssh is used; JULIUS_SSH_PASSPHRASE unlocks an encrypted key.
func OpenCredentialStore(cfg *Config) (*CredentialStore, error) {
	keyPath := cfg.SSHKeyPath
	if cfg.CredentialStorage == SecuritySSHKey && keyPath == "" {
		keys, err := FindSSHKeys()
		if err != nil {
			return nil, fmt.Errorf("failed to scan for SSH keys: %w", err)
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("ssh_key credential storage needs an SSH key: set security.ssh_key_path")
		}
		keyPath = keys[0]
	}

	store := NewCredentialStore(cfg.CredentialStorage, keyPath)
	store.SetPassphrase(os.Getenv("JULIUS_SSH_PASSPHRASE"))
	if err := store.Load(cfg.DataDir()); err != nil {
		return nil, err
	}
	return store, nil
}

// ResolveAPIKey picks the API key from the flag, then the environment (already
// merged into cfg.APIKey), then the credential store.
func ResolveAPIKey(cfg *Config, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if cfg.APIKey != "" {
		return cfg.APIKey, nil
	}

	store, err := OpenCredentialStore(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to open credential store: %w", err)
	}
	if key := store.Get(CredentialAPIKey); key != "" {
		DebugLog.Debug("API key loaded from credential store", zap.String("method", string(store.Method())))
		return key, nil
	}
	return "", ErrNoAPIKey
}

// SetPassphrase sets the passphrase for decrypting the SSH key
func (c *CredentialStore) SetPassphrase(passphrase string) {
	c.passphrase = passphrase
	if c.encManager != nil {
		c.encManager.SetPassphrase(passphrase)
	}
}

// Load loads credentials from disk based on the configured security method
func (c *CredentialStore) Load(dataDir string) error {
	var (
		creds map[string]string
		err   error
	)
	switch c.method {
	case SecurityPlainText:
		creds, err = loadPlainText(dataDir)
	case SecuritySSHKey:
		creds, err = c.loadSSHEncrypted(dataDir)
	default:
		return fmt.Errorf("unknown security method: %s", c.method)
	}
	if err != nil {
		return err
	}
	if creds == nil {
		creds = make(map[string]string)
	}
	c.credentials = creds
	return nil
}

// Save saves credentials to disk based on the configured security method
func (c *CredentialStore) Save(dataDir string) error {
	switch c.method {
	case SecurityPlainText:
		return savePlainText(dataDir, c.credentials)
	case SecuritySSHKey:
		return c.saveSSHEncrypted(dataDir)
	default:
		return fmt.Errorf("unknown security method: %s", c.method)
	}
}

func (c *CredentialStore) Get(name string) string {
	return c.credentials[name]
}

func (c *CredentialStore) Set(name, value string) {
	c.credentials[name] = value
}

func (c *CredentialStore) Delete(name string) {
	delete(c.credentials, name)
}

func (c *CredentialStore) Method() SecurityMethod {
	return c.method
}

func credentialsPath(dataDir string) string {
	return filepath.Join(dataDir, "credentials.toml")
}

func encryptedCredentialsPath(dataDir string) string {
	return filepath.Join(dataDir, "credentials.enc")
}

type credentialsFile struct {
	Credentials map[string]string `toml:"credentials"`
}

func loadPlainText(dataDir string) (map[string]string, error) {
	path := credentialsPath(dataDir)
	if !FileExists(path) {
		return nil, nil
	}

	var cf credentialsFile
	if _, err := toml.DecodeFile(path, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return cf.Credentials, nil
}

func savePlainText(dataDir string, creds map[string]string) error {
	if err := EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := writeTOML(credentialsPath(dataDir), credentialsFile{Credentials: creds}); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

func (c *CredentialStore) encryption() (*EncryptionManager, error) {
	if c.encManager != nil {
		return c.encManager, nil
	}
	em := NewEncryptionManager(EncryptionSSHKey, c.sshKeyPath)
	em.SetPassphrase(c.passphrase)
	if err := em.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}
	c.encManager = em
	return em, nil
}

func (c *CredentialStore) loadSSHEncrypted(dataDir string) (map[string]string, error) {
	path := encryptedCredentialsPath(dataDir)
	if !FileExists(path) {
		return nil, nil
	}

	em, err := c.encryption()
	if err != nil {
		return nil, err
	}

	encryptedData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read encrypted credentials: %w", err)
	}

	decryptedData, err := em.Decrypt(encryptedData)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var creds map[string]string
	if err := json.Unmarshal(decryptedData, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted credentials: %w", err)
	}
	return creds, nil
}

func (c *CredentialStore) saveSSHEncrypted(dataDir string) error {
	em, err := c.encryption()
	if err != nil {
		return err
	}

	jsonData, err := json.Marshal(c.credentials)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	encryptedData, err := em.Encrypt(jsonData)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	if err := EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(encryptedCredentialsPath(dataDir), encryptedData, 0600); err != nil {
		return fmt.Errorf("failed to write encrypted credentials: %w", err)
	}
	return nil
}
