package services

import (
	"time"

	"go.uber.org/zap"

	"github.com/cabofitpass/backend/internal/audit"
	"github.com/cabofitpass/backend/internal/metrics"
)

// Deps are the ambient collaborators every service takes. Zero values are
// replaced with no-op implementations.
type Deps struct {
	Logger  *zap.Logger
	Audit   *audit.Logger
	Metrics *metrics.Metrics
	Retrier *Retrier
	Clock   func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}
