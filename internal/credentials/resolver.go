package credentials

import (
	"errors"
	"fmt"
	"net/url"
)

// Source indicates where the token was found
type Source string

const (
	SourceKeyring Source = "keyring"
	SourceEnv     Source = "env"
	SourceConfig  Source = "config"
	SourceNone    Source = "none"
)

// Token is a resolved API token
type Token struct {
	Value  string
	Host   string
	Source Source
}

// Resolver finds the API token with priority keyring > environment > config file
type Resolver struct {
	useKeyring bool
}

// NewResolver creates a new token resolver
func NewResolver() *Resolver {
	return &Resolver{useKeyring: true}
}

// WithoutKeyring returns a resolver that skips the OS keyring
func (r *Resolver) WithoutKeyring() *Resolver {
	return &Resolver{useKeyring: false}
}

// Resolve returns the token for riderID on the server at baseURL.
// A missing token is not an error; the returned Source is SourceNone.
func (r *Resolver) Resolve(baseURL, riderID, configToken string) (*Token, error) {
	host := ""
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid server URL: %w", err)
		}
		host = u.Host
	}

	if r.useKeyring && host != "" && riderID != "" && IsAvailable() {
		token, err := Get(host, riderID)
		if err == nil {
			return &Token{Value: token, Host: host, Source: SourceKeyring}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	if token := GetToken(); token != "" {
		return &Token{Value: token, Host: host, Source: SourceEnv}, nil
	}

	if configToken != "" {
		return &Token{Value: configToken, Host: host, Source: SourceConfig}, nil
	}

	return &Token{Host: host, Source: SourceNone}, nil
}

// ServerHost extracts the keyring key from a server URL
func ServerHost(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server URL %q has no host", baseURL)
	}
	return u.Host, nil
}
