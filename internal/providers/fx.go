package providers

import (
	"github.com/smallbiznis/simstore/internal/providers/email"
	"github.com/smallbiznis/simstore/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
