package secrets

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/llm"
)

const keyringService = "sportsync"

// Store resolves vendor API keys. Environment variables win so deployments
// and CI can inject keys without touching the OS keychain; the keychain is
// the fallback for developer workstations.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// envName maps a vendor to its conventional environment variable.
func envName(vendor llm.Vendor) string {
	return strings.ToUpper(string(vendor)) + "_API_KEY"
}

// APIKey returns the key for a vendor, or an error if none is configured.
func (s *Store) APIKey(vendor llm.Vendor) (string, error) {
	if v := os.Getenv(envName(vendor)); v != "" {
		return v, nil
	}
	if v, err := keyring.Get(keyringService, string(vendor)); err == nil && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no API key for %s: set %s or store one in the keychain", vendor, envName(vendor))
}

// SetAPIKey stores a key in the OS keychain.
func (s *Store) SetAPIKey(vendor llm.Vendor, key string) error {
	return keyring.Set(keyringService, string(vendor), key)
}

// DeleteAPIKey removes a key from the OS keychain.
func (s *Store) DeleteAPIKey(vendor llm.Vendor) error {
	return keyring.Delete(keyringService, string(vendor))
}

// MaskKey returns a masked version of an API key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "..." + key[len(key)-4:]
}
