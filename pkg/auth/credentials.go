package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"imgharvest/pkg/search"
)

// Credential holds API access for one search provider
type Credential struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	// EngineID is the Programmable Search Engine ID (cx) for Google
	EngineID     string    `json:"engine_id,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves the credential for its provider
	Store(cred *Credential) error

	// Retrieve gets the credential of a provider
	Retrieve(provider string) (*Credential, error)

	// List returns all stored credentials
	List() ([]*Credential, error)

	// Delete removes the credential of a provider
	Delete(provider string) error

	// Exists checks if a credential exists for a provider
	Exists(provider string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager over the keyring, an encrypted
// file and the environment, in that order.
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a Manager over the given stores
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// NormalizeProvider maps engine names and aliases to a provider key
func NormalizeProvider(name string) (string, error) {
	engine, err := search.ParseEngine(name)
	if err != nil {
		return "", err
	}
	return engine.String(), nil
}

// Validate checks that cred carries what its provider needs
func Validate(cred *Credential) error {
	if cred == nil || cred.Provider == "" {
		return errors.New("provider is required")
	}
	if cred.APIKey == "" {
		return errors.New("API key is required")
	}
	if cred.Provider == search.Google.String() && cred.EngineID == "" {
		return errors.New("search engine ID (cx) is required for google")
	}
	return nil
}

// Store saves the credential using the first store that accepts it
func (m *Manager) Store(cred *Credential) error {
	if err := Validate(cred); err != nil {
		return err
	}
	cred.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(cred)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets the credential from the first store that has it
func (m *Manager) Retrieve(provider string) (*Credential, error) {
	for _, store := range m.stores {
		if cred, err := store.Retrieve(provider); err == nil && cred != nil {
			return cred, nil
		}
	}
	return nil, fmt.Errorf("%w for provider: %s", ErrCredentialsNotFound, provider)
}

// SearchCredentials returns the search API access for engine. Missing
// credentials yield an empty value; the engine reports the auth error.
func (m *Manager) SearchCredentials(engine search.Engine) search.Credentials {
	cred, err := m.Retrieve(engine.String())
	if err != nil {
		return search.Credentials{}
	}
	return search.Credentials{APIKey: cred.APIKey, EngineID: cred.EngineID}
}

// List returns the most recent credential of every provider, sorted by provider
func (m *Manager) List() ([]*Credential, error) {
	byProvider := make(map[string]*Credential)

	for _, store := range m.stores {
		creds, err := store.List()
		if err != nil {
			continue
		}
		for _, cred := range creds {
			if existing, ok := byProvider[cred.Provider]; !ok || cred.LastModified.After(existing.LastModified) {
				byProvider[cred.Provider] = cred
			}
		}
	}

	result := make([]*Credential, 0, len(byProvider))
	for _, cred := range byProvider {
		result = append(result, cred)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Provider < result[j].Provider })
	return result, nil
}

// Delete removes the credential from all stores
func (m *Manager) Delete(provider string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(provider); err == nil {
			deleted = true
		} else if !errors.Is(err, ErrCredentialsNotFound) && !errors.Is(err, ErrStoreUnavailable) {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for provider: %s", ErrCredentialsNotFound, provider)
	}
	return nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "imgharvest")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "imgharvest")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "imgharvest")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "imgharvest")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// Sanitize returns a copy of cred with the secret masked
func Sanitize(cred *Credential) *Credential {
	if cred == nil {
		return nil
	}
	return &Credential{
		Provider:     cred.Provider,
		APIKey:       maskString(cred.APIKey),
		EngineID:     cred.EngineID,
		LastModified: cred.LastModified,
	}
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", 8)
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
