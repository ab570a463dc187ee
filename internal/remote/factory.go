package remote

import "fmt"

// Factory builds a Client for a project's credential handle. Each sync
// operation constructs a fresh client through the factory rather than
// sharing one ambient client, which keeps the dependency explicit and lets
// tests inject fakes.
type Factory interface {
	ClientFor(installationID string) (Client, error)
}

// TokenFactory maps installation handles to access tokens.
type TokenFactory struct {
	// Tokens holds per-installation tokens.
	Tokens map[string]string
	// DefaultToken is used when no per-installation token is configured.
	DefaultToken string
	// BaseURL overrides the API endpoint, for tests.
	BaseURL string
}

// ClientFor returns a client authenticated for the given installation.
func (f *TokenFactory) ClientFor(installationID string) (Client, error) {
	token := f.DefaultToken
	if t, ok := f.Tokens[installationID]; ok {
		token = t
	}
	if token == "" {
		return nil, fmt.Errorf("no credential configured for installation %q", installationID)
	}
	if f.BaseURL != "" {
		return NewClientWithBaseURL(token, f.BaseURL)
	}
	return NewClient(token), nil
}
