package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/cabofitpass/backend/internal/models"
)

// ClassCatalog reads the upstream class catalog and its live occupancy.
type ClassCatalog interface {
	GetClass(ctx context.Context, classID string) (*models.Class, error)
	GetClasses(ctx context.Context, classIDs []string) (map[string]*models.Class, error)
	ActiveBookingCounts(ctx context.Context, classIDs []string) (map[string]int, error)
}

const classColumns = `id, title, schedule, capacity, price_cents, venue_id, cost_metadata`

// PostgresClassCatalog reads classes from Postgres with an optional Redis
// read-through cache. Occupancy is never cached.
type PostgresClassCatalog struct {
	db     *sql.DB
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewPostgresClassCatalog(db *sql.DB, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *PostgresClassCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresClassCatalog{db: db, redis: rdb, ttl: ttl, logger: logger}
}

func classCacheKey(classID string) string {
	return fmt.Sprintf("class:%s", classID)
}

func (c *PostgresClassCatalog) cacheEnabled() bool {
	return c.redis != nil && c.ttl > 0
}

func (c *PostgresClassCatalog) GetClass(ctx context.Context, classID string) (*models.Class, error) {
	if c.cacheEnabled() {
		data, err := c.redis.Get(ctx, classCacheKey(classID)).Bytes()
		switch {
		case err == nil:
			var class models.Class
			if jsonErr := json.Unmarshal(data, &class); jsonErr == nil {
				return &class, nil
			}
		case err != redis.Nil:
			c.logger.Warn("class cache read failed", zap.String("class_id", classID), zap.Error(err))
		}
	}

	class, err := scanClass(c.db.QueryRowContext(ctx,
		`SELECT `+classColumns+` FROM classes WHERE id = $1`, classID))
	if isNoRows(err) {
		return nil, ErrClassNotFound
	}
	if err != nil {
		return nil, err
	}

	c.cache(ctx, class)
	return class, nil
}

// GetClasses returns the classes that exist, keyed by id. Missing ids are absent.
func (c *PostgresClassCatalog) GetClasses(ctx context.Context, classIDs []string) (map[string]*models.Class, error) {
	found := make(map[string]*models.Class, len(classIDs))
	if len(classIDs) == 0 {
		return found, nil
	}

	missing := classIDs
	if c.cacheEnabled() {
		keys := make([]string, len(classIDs))
		for i, id := range classIDs {
			keys[i] = classCacheKey(id)
		}

		vals, err := c.redis.MGet(ctx, keys...).Result()
		if err != nil {
			c.logger.Warn("class cache batch read failed", zap.Error(err))
		} else {
			missing = nil
			for i, val := range vals {
				raw, ok := val.(string)
				if !ok {
					missing = append(missing, classIDs[i])
					continue
				}
				var class models.Class
				if err := json.Unmarshal([]byte(raw), &class); err != nil {
					missing = append(missing, classIDs[i])
					continue
				}
				found[class.ID] = &class
			}
		}
	}
	if len(missing) == 0 {
		return found, nil
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT `+classColumns+` FROM classes WHERE id = ANY($1)`, pq.Array(missing))
	if err != nil {
		return nil, fmt.Errorf("query classes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		class, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		found[class.ID] = class
		c.cache(ctx, class)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query classes: %w", err)
	}
	return found, nil
}

// ActiveBookingCounts counts pending and completed bookings per class.
func (c *PostgresClassCatalog) ActiveBookingCounts(ctx context.Context, classIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(classIDs))
	if len(classIDs) == 0 {
		return counts, nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT class_id, COUNT(*)
		FROM bookings
		WHERE class_id = ANY($1) AND status IN ('pending', 'completed')
		GROUP BY class_id`, pq.Array(classIDs))
	if err != nil {
		return nil, fmt.Errorf("count bookings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			classID string
			count   int
		)
		if err := rows.Scan(&classID, &count); err != nil {
			return nil, fmt.Errorf("count bookings: %w", err)
		}
		counts[classID] = count
	}
	return counts, rows.Err()
}

func (c *PostgresClassCatalog) cache(ctx context.Context, class *models.Class) {
	if !c.cacheEnabled() {
		return
	}
	data, err := json.Marshal(class)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, classCacheKey(class.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("class cache write failed", zap.String("class_id", class.ID), zap.Error(err))
	}
}

// scanClass validates a classes row at the store boundary.
func scanClass(row rowScanner) (*models.Class, error) {
	var (
		class    models.Class
		metadata []byte
	)
	if err := row.Scan(&class.ID, &class.Title, &class.Schedule, &class.Capacity, &class.PriceCents, &class.VenueID, &metadata); err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("scan class: %w", err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &class.CostMetadata); err != nil {
			return nil, fmt.Errorf("%w: class %s cost_metadata: %v", ErrMalformedRecord, class.ID, err)
		}
	}
	if class.Capacity <= 0 || class.Schedule.IsZero() {
		return nil, fmt.Errorf("%w: class %s", ErrMalformedRecord, class.ID)
	}
	if class.CostMetadata.BaseCredits < 0 || class.CostMetadata.PeakCredits < 0 {
		return nil, fmt.Errorf("%w: class %s has negative credit cost", ErrMalformedRecord, class.ID)
	}
	return &class, nil
}
