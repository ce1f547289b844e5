package headless

import (
	"context"

	"github.com/JakeFAU/adsnap/internal/ads"
)

// Noop implements ads.Renderer for deployments without a browser. Every fill run
// fails to open a session, so slots simply stay unfilled.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Open always returns ads.ErrRendererDisabled.
func (Noop) Open(context.Context) (ads.BrowserSession, error) {
	return nil, ads.ErrRendererDisabled
}
