package agent

import (
	"context"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// Driver is the browser surface the dispatcher executes actions against.
// Coordinates are normalized (0-1000); the implementation maps them onto the
// actual viewport.
type Driver interface {
	OpenStartPage(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	ClickAt(ctx context.Context, x, y int) error
	TypeTextAt(ctx context.Context, p *schemas.TypeTextParams) error
	PressKeys(ctx context.Context, data schemas.KeyEventData) error
	Scroll(ctx context.Context, p *schemas.ScrollParams) error
	Screenshot(ctx context.Context) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
}

// Confirmer decides whether a confirmation-required action may run.
type Confirmer interface {
	Confirm(ctx context.Context, action schemas.Action) (bool, error)
}
