package auth

import (
	"context"

	"github.com/mmynk/splitledger/internal/models"
)

// Authenticator registers users and verifies their credentials.
// Implementations can be swapped without touching the service layer.
type Authenticator interface {
	// Register creates an account. The credential format depends on the
	// implementation.
	Register(ctx context.Context, req Registration) (*models.User, error)

	// Authenticate returns the user the credential belongs to.
	Authenticate(ctx context.Context, email, credential string) (*models.User, error)

	// ValidateCredential checks the credential meets the implementation's rules.
	ValidateCredential(credential string) error
}

// Registration is the data needed to open an account.
type Registration struct {
	Email      string
	Name       string
	Timezone   string
	Credential string
}
