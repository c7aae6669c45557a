package services

import (
	"context"
	"time"

	"github.com/cabofitpass/backend/internal/config"
	"github.com/cabofitpass/backend/internal/models"
)

// CostService prices class bookings in credits. It never writes.
type CostService struct {
	catalog ClassCatalog
	cfg     config.CreditsConfig
}

func NewCostService(catalog ClassCatalog, cfg config.CreditsConfig) *CostService {
	return &CostService{catalog: catalog, cfg: cfg}
}

// IsPeak reports whether at falls in a configured peak band, in studio time.
func (s *CostService) IsPeak(at time.Time) bool {
	for _, band := range s.cfg.PeakBands {
		if band.Contains(at, s.cfg.Location) {
			return true
		}
	}
	return false
}

// CostFor is the pricing policy: class base credits (or the configured
// base cost), raised to the class peak price or by the configured
// surcharge inside a peak band. Peak never costs less than off-peak.
func (s *CostService) CostFor(class *models.Class, at time.Time) (cost int64, peak bool) {
	base := class.CostMetadata.BaseCredits
	if base <= 0 {
		base = s.cfg.BaseCost
	}
	if base < 1 {
		base = 1
	}

	if !s.IsPeak(at) {
		return base, false
	}

	cost = base + s.cfg.PeakSurcharge
	if class.CostMetadata.PeakCredits > 0 {
		cost = class.CostMetadata.PeakCredits
	}
	if cost < base {
		cost = base
	}
	return cost, true
}

// Cost prices one class at the given time.
func (s *CostService) Cost(ctx context.Context, classID string, at time.Time) (int64, error) {
	class, err := s.catalog.GetClass(ctx, classID)
	if err != nil {
		return 0, err
	}
	cost, _ := s.CostFor(class, at)
	return cost, nil
}

// PreviewCosts prices a batch of classes with their open spots. Unknown
// class ids are left out; the result follows the request order.
func (s *CostService) PreviewCosts(ctx context.Context, classIDs []string, at time.Time) ([]models.ClassCost, error) {
	classes, err := s.catalog.GetClasses(ctx, classIDs)
	if err != nil {
		return nil, err
	}

	counts, err := s.catalog.ActiveBookingCounts(ctx, classIDs)
	if err != nil {
		return nil, err
	}

	previews := make([]models.ClassCost, 0, len(classes))
	seen := make(map[string]bool, len(classIDs))
	for _, id := range classIDs {
		class, ok := classes[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true

		cost, peak := s.CostFor(class, at)
		spots := class.Capacity - counts[id]
		if spots < 0 {
			spots = 0
		}
		previews = append(previews, models.ClassCost{
			Class:          class,
			CreditCost:     cost,
			Peak:           peak,
			SpotsRemaining: spots,
			IsAvailable:    spots > 0 && class.Schedule.After(at),
		})
	}
	return previews, nil
}
