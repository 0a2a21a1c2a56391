package pdf

import (
	"context"

	"go.uber.org/fx"
)

// Renderer turns a receipt into a PDF document.
type Renderer interface {
	RenderReceipt(ctx context.Context, receipt Receipt) ([]byte, error)
}

var Module = fx.Module("pdf",
	fx.Provide(New),
)
