package auth

import (
	"sync/atomic"

	"github.com/utafrali/storefront-session/internal/domain"
)

// Credentials is the process-wide holder of the current access credential.
// Readers never block; replacement is atomic.
type Credentials struct {
	current atomic.Pointer[domain.Credential]
}

// NewCredentials returns an empty holder.
func NewCredentials() *Credentials {
	return &Credentials{}
}

// Current returns the credential in use, or nil.
func (c *Credentials) Current() *domain.Credential {
	return c.current.Load()
}

// Set replaces the credential.
func (c *Credentials) Set(cred *domain.Credential) {
	c.current.Store(cred)
}

// Clear drops the credential.
func (c *Credentials) Clear() {
	c.current.Store(nil)
}
