package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize         = 32
	keySize          = 32
	kdfIterations    = 100000
	vaultVersion     = 1
	passphraseEnvVar = "IMGHARVEST_PASSPHRASE"
)

// vault is the on-disk envelope of the encrypted credential file
type vault struct {
	Version  int       `json:"version"`
	Salt     string    `json:"salt"`
	Sealed   string    `json:"sealed"`
	Modified time.Time `json:"modified"`
}

// EncryptedFileStore keeps credentials in an AES-GCM sealed JSON file. The
// key is derived from a passphrase taken from IMGHARVEST_PASSPHRASE or a
// generated file next to the other config.
type EncryptedFileStore struct {
	path       string
	passphrase []byte
	mu         sync.RWMutex
}

// NewEncryptedFileStore opens the store at path, creating its directory
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	passphrase, err := loadPassphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return &EncryptedFileStore{path: path, passphrase: []byte(passphrase)}, nil
}

func (e *EncryptedFileStore) Store(cred *Credential) error {
	if cred == nil || cred.Provider == "" {
		return ErrInvalidCredentials
	}
	return e.update(func(creds map[string]Credential) error {
		creds[cred.Provider] = *cred
		return nil
	})
}

func (e *EncryptedFileStore) Retrieve(provider string) (*Credential, error) {
	if provider == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	creds, _, err := e.read()
	if err != nil {
		return nil, err
	}
	cred, ok := creds[provider]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &cred, nil
}

// List returns the stored credentials ordered by provider
func (e *EncryptedFileStore) List() ([]*Credential, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	creds, _, err := e.read()
	if err != nil {
		if errors.Is(err, ErrCredentialsNotFound) {
			return []*Credential{}, nil
		}
		return nil, err
	}

	out := make([]*Credential, 0, len(creds))
	for _, cred := range creds {
		out = append(out, &cred)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

// Delete removes provider. The file is removed with its last credential.
func (e *EncryptedFileStore) Delete(provider string) error {
	if provider == "" {
		return ErrInvalidCredentials
	}
	return e.update(func(creds map[string]Credential) error {
		if _, ok := creds[provider]; !ok {
			return ErrCredentialsNotFound
		}
		delete(creds, provider)
		return nil
	})
}

func (e *EncryptedFileStore) Exists(provider string) bool {
	cred, err := e.Retrieve(provider)
	return err == nil && cred != nil
}

// update applies fn to the decrypted credentials and writes the result back
func (e *EncryptedFileStore) update(fn func(map[string]Credential) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	creds, salt, err := e.read()
	switch {
	case errors.Is(err, ErrCredentialsNotFound):
		creds = make(map[string]Credential)
	case err != nil:
		return err
	}

	if err := fn(creds); err != nil {
		return err
	}
	if len(creds) == 0 {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credential file: %w", err)
		}
		return nil
	}
	return e.write(creds, salt)
}

// read returns the decrypted credentials and the salt they were sealed with.
// A missing file reports ErrCredentialsNotFound.
func (e *EncryptedFileStore) read() (map[string]Credential, []byte, error) {
	content, err := os.ReadFile(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrCredentialsNotFound
		}
		return nil, nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var v vault
	if err := json.Unmarshal(content, &v); err != nil {
		return nil, nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	if v.Version > vaultVersion {
		return nil, nil, fmt.Errorf("credential file version %d is not supported", v.Version)
	}
	salt, err := base64.StdEncoding.DecodeString(v.Salt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(v.Sealed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode credentials: %w", err)
	}

	plaintext, err := newSealer(e.passphrase, salt).open(sealed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	creds := make(map[string]Credential)
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return creds, salt, nil
}

// write seals creds with salt, or a fresh salt when none is given, and
// replaces the file atomically
func (e *EncryptedFileStore) write(creds map[string]Credential, salt []byte) error {
	if len(salt) == 0 {
		salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	sealed, err := newSealer(e.passphrase, salt).seal(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	content, err := json.MarshalIndent(vault{
		Version:  vaultVersion,
		Salt:     base64.StdEncoding.EncodeToString(salt),
		Sealed:   base64.StdEncoding.EncodeToString(sealed),
		Modified: time.Now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential file: %w", err)
	}

	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := os.Rename(tmp, e.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

// loadPassphrase prefers the environment, then a passphrase file in the
// config directory, generating one on first use
func loadPassphrase() (string, error) {
	if pass := os.Getenv(passphraseEnvVar); pass != "" {
		return pass, nil
	}

	configDir, err := getConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(configDir, ".passphrase")

	if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
		return string(content), nil
	}

	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	passphrase := base64.URLEncoding.EncodeToString(b)
	if err := os.WriteFile(path, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return passphrase, nil
}

// sealer is AES-GCM under a PBKDF2-derived key. Sealed output is the nonce
// followed by the ciphertext.
type sealer struct {
	key []byte
}

func newSealer(passphrase, salt []byte) sealer {
	return sealer{key: pbkdf2.Key(passphrase, salt, kdfIterations, keySize, sha256.New)}
}

func (s sealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (s sealer) seal(plaintext []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s sealer) open(sealed []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("ciphertext too short")
	}
	return gcm.Open(nil, sealed[:n], sealed[n:], nil)
}
