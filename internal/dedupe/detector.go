package dedupe

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/regwatch/backend/internal/resolver"
	"github.com/regwatch/backend/internal/storage/models"
	"github.com/regwatch/backend/pkg/logger"
)

const (
	ResourceOffenders = "offenders"
	ResourceCases     = "cases"
	ResourceNotices   = "notices"
)

// Store is the read surface the detector needs from sqlite.
type Store interface {
	ListOffendersWithRegNumber(ctx context.Context) ([]models.Offender, error)
	ListRecordsByKind(ctx context.Context, kind string) ([]models.Record, error)
}

type Config struct {
	// DescriptionThreshold is the minimum trigram similarity between two
	// record descriptions for them to group.
	DescriptionThreshold float64
	// DateWindow is the maximum gap between event dates within a group.
	DateWindow time.Duration
}

// Detector finds likely duplicates in batch: offenders sharing a
// registration number, and records of the same offender and agency that
// cluster by date and description. Read-only; merging stays with a human.
type Detector struct {
	store Store
	cfg   Config
}

func NewDetector(store Store, cfg Config) *Detector {
	if cfg.DescriptionThreshold == 0 {
		cfg.DescriptionThreshold = 0.7
	}
	if cfg.DateWindow == 0 {
		cfg.DateWindow = 30 * 24 * time.Hour
	}
	return &Detector{store: store, cfg: cfg}
}

// FindDuplicates returns groups of suspected duplicates for the given
// resource type. Each group has at least two members; singletons are
// dropped.
func (d *Detector) FindDuplicates(ctx context.Context, resourceType string) ([][]models.RecordRef, error) {
	switch resourceType {
	case ResourceOffenders:
		return d.offenderGroups(ctx)
	case ResourceCases:
		return d.recordGroups(ctx, models.RecordKindCase)
	case ResourceNotices:
		return d.recordGroups(ctx, models.RecordKindNotice)
	default:
		return nil, fmt.Errorf("unknown resource type: %s", resourceType)
	}
}

func (d *Detector) offenderGroups(ctx context.Context) ([][]models.RecordRef, error) {
	offenders, err := d.store.ListOffendersWithRegNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load offenders: %w", err)
	}

	var groups [][]models.RecordRef
	// Rows arrive ordered by registration number, so collisions are adjacent.
	for i := 0; i < len(offenders); {
		j := i + 1
		for j < len(offenders) && offenders[j].RegistrationNumber == offenders[i].RegistrationNumber {
			j++
		}
		if j-i > 1 {
			group := make([]models.RecordRef, 0, j-i)
			for _, o := range offenders[i:j] {
				group = append(group, models.RecordRef{ID: o.ID, Name: o.Name})
			}
			groups = append(groups, group)
		}
		i = j
	}

	logger.Info("Offender duplicate scan finished",
		zap.Int("offenders", len(offenders)),
		zap.Int("groups", len(groups)),
	)
	return groups, nil
}

func (d *Detector) recordGroups(ctx context.Context, kind string) ([][]models.RecordRef, error) {
	records, err := d.store.ListRecordsByKind(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s records: %w", kind, err)
	}

	var groups [][]models.RecordRef
	used := make(map[int64]bool, len(records))

	// Rows arrive ordered by (offender_id, event_date); a group grows while
	// each next record stays within the date window of the group's seed and
	// its description is close enough.
	for i, seed := range records {
		if used[seed.ID] {
			continue
		}
		group := []models.RecordRef{{ID: seed.ID, Name: seed.Title}}
		for _, cand := range records[i+1:] {
			if used[cand.ID] {
				continue
			}
			if cand.OffenderID != seed.OffenderID {
				break
			}
			if cand.AgencyCode != seed.AgencyCode {
				continue
			}
			if !withinWindow(seed.EventDate, cand.EventDate, d.cfg.DateWindow) {
				continue
			}
			if resolver.TextSimilarity(seed.Description, cand.Description) < d.cfg.DescriptionThreshold {
				continue
			}
			group = append(group, models.RecordRef{ID: cand.ID, Name: cand.Title})
			used[cand.ID] = true
		}
		if len(group) > 1 {
			used[seed.ID] = true
			groups = append(groups, group)
		}
	}

	logger.Info("Record duplicate scan finished",
		zap.String("kind", kind),
		zap.Int("records", len(records)),
		zap.Int("groups", len(groups)),
	)
	return groups, nil
}

func withinWindow(a, b *time.Time, window time.Duration) bool {
	if a == nil || b == nil {
		return false
	}
	gap := a.Sub(*b)
	if gap < 0 {
		gap = -gap
	}
	return gap <= window
}
