package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/backendai/manager/pkg/domain"
)

type imageRow struct {
	Canonical    string `db:"canonical"`
	Architecture string `db:"architecture"`
	Registry     string `db:"registry"`
	Digest       string `db:"digest"`
	Labels       []byte `db:"labels"`
	MinSlots     []byte `db:"min_slots"`
	MaxSlots     []byte `db:"max_slots"`
}

func (r *imageRow) toDomain() (*domain.Image, error) {
	img := &domain.Image{
		Canonical:    r.Canonical,
		Architecture: r.Architecture,
		Registry:     r.Registry,
		Digest:       r.Digest,
	}
	if len(r.Labels) > 0 {
		if err := json.Unmarshal(r.Labels, &img.Labels); err != nil {
			return nil, fmt.Errorf("decode labels: %w", err)
		}
	}
	if len(r.MinSlots) > 0 {
		if err := json.Unmarshal(r.MinSlots, &img.MinSlots); err != nil {
			return nil, fmt.Errorf("decode min_slots: %w", err)
		}
	}
	if len(r.MaxSlots) > 0 {
		if err := json.Unmarshal(r.MaxSlots, &img.MaxSlots); err != nil {
			return nil, fmt.Errorf("decode max_slots: %w", err)
		}
	}
	return img, nil
}

// GetImage resolves an image by its canonical name and architecture, the
// lookup key create_session's image-resolution step (spec §4.5) uses before
// validating the requested resource slots against it.
func (s *Store) GetImage(ctx context.Context, canonical, architecture string) (*domain.Image, error) {
	q := `SELECT canonical, architecture, registry, digest, labels, min_slots, max_slots
		FROM images WHERE canonical = $1 AND architecture = $2`
	var r imageRow
	row := s.Querier(ctx).QueryRowContext(ctx, q, canonical, architecture)
	if err := row.Scan(&r.Canonical, &r.Architecture, &r.Registry, &r.Digest, &r.Labels, &r.MinSlots, &r.MaxSlots); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage: image %s/%s: %w", canonical, architecture, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get image: %w", err)
	}
	return r.toDomain()
}

// UpsertImage inserts or replaces an image's scheduling metadata, used when
// an agent's heartbeat reports an image it has newly pulled.
func (s *Store) UpsertImage(ctx context.Context, img *domain.Image) error {
	labels, err := json.Marshal(img.Labels)
	if err != nil {
		return fmt.Errorf("storage: marshal labels: %w", err)
	}
	minSlots, err := json.Marshal(img.MinSlots)
	if err != nil {
		return fmt.Errorf("storage: marshal min_slots: %w", err)
	}
	maxSlots, err := json.Marshal(img.MaxSlots)
	if err != nil {
		return fmt.Errorf("storage: marshal max_slots: %w", err)
	}
	q := `INSERT INTO images (canonical, architecture, registry, digest, labels, min_slots, max_slots)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (canonical, architecture) DO UPDATE SET
			registry = EXCLUDED.registry,
			digest = EXCLUDED.digest,
			labels = EXCLUDED.labels,
			min_slots = EXCLUDED.min_slots,
			max_slots = EXCLUDED.max_slots`
	_, err = s.Querier(ctx).ExecContext(ctx, q, img.Canonical, img.Architecture, img.Registry, img.Digest, labels, minSlots, maxSlots)
	if err != nil {
		return fmt.Errorf("storage: upsert image: %w", err)
	}
	return nil
}
