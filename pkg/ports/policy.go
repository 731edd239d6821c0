package ports

import (
	"context"

	"github.com/aretw0/warden/pkg/domain"
)

// PolicyLoader retrieves policy definitions from a backing source (file, repository).
type PolicyLoader interface {
	LoadPolicies(ctx context.Context) ([]domain.Policy, error)
}
