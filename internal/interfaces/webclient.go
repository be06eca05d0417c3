package interfaces

import (
	"context"

	"github.com/opphound/opphound/internal/model"
)

// WebClient abstracts page retrieval so portal scanning can switch between
// a plain HTTP backend and a headless-browser backend per portal.
type WebClient interface {
	Do(ctx context.Context, req *model.Request) (*model.Response, error)

	// Get is a convenience method for simple GET requests
	Get(ctx context.Context, url string) (*model.Response, error)

	Close() error
}
