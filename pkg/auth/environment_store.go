package auth

import (
	"os"
	"strings"

	"imgharvest/pkg/search"
)

// knownProviders are the providers probed by stores that cannot enumerate
var knownProviders = []string{search.Bing.String(), search.Google.String()}

// EnvironmentStore reads credentials from IMGHARVEST_<PROVIDER>_API_KEY and
// IMGHARVEST_<PROVIDER>_CX. It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func envName(provider, suffix string) string {
	return "IMGHARVEST_" + strings.ToUpper(provider) + "_" + suffix
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

// Retrieve gets the credential of provider from the environment
func (e *EnvironmentStore) Retrieve(provider string) (*Credential, error) {
	if provider == "" {
		return nil, ErrInvalidCredentials
	}

	apiKey := os.Getenv(envName(provider, "API_KEY"))
	if apiKey == "" {
		return nil, ErrCredentialsNotFound
	}

	return &Credential{
		Provider: provider,
		APIKey:   apiKey,
		EngineID: os.Getenv(envName(provider, "CX")),
	}, nil
}

// List returns the credentials set in the environment
func (e *EnvironmentStore) List() ([]*Credential, error) {
	var creds []*Credential
	for _, provider := range knownProviders {
		if cred, err := e.Retrieve(provider); err == nil {
			creds = append(creds, cred)
		}
	}
	return creds, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(provider string) error {
	return ErrStoreUnavailable
}

// Exists checks if the environment holds a credential for provider
func (e *EnvironmentStore) Exists(provider string) bool {
	return provider != "" && os.Getenv(envName(provider, "API_KEY")) != ""
}
