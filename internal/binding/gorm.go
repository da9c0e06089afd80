package binding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giongaysau-stack/minizflash/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// resolve retries cover an admin unbind landing between the insert attempt
// and the conditional update.
const maxResolveAttempts = 3

type gormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGorm builds a store on an already migrated database handle.
func NewGorm(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm binding store requires database handle")
	}
	return &gormStore{db: db, now: time.Now}, nil
}

func (s *gormStore) ResolveOrBind(ctx context.Context, keyDigest, device string) (Result, error) {
	for i := 0; i < maxResolveAttempts; i++ {
		res, done, err := s.tryResolve(ctx, keyDigest, device)
		if err != nil {
			return Result{}, err
		}
		if done {
			return res, nil
		}
	}
	return Result{}, unavailable(fmt.Errorf("binding for %s kept changing", keyDigest))
}

func (s *gormStore) tryResolve(ctx context.Context, keyDigest, device string) (Result, bool, error) {
	now := s.now().UTC()
	rec := model.Binding{
		KeyDigest:    keyDigest,
		BoundDevice:  device,
		FirstBoundAt: now,
		LastUsedAt:   now,
		UseCount:     1,
	}

	// INSERT ... ON CONFLICT DO NOTHING is the create-if-absent primitive:
	// the primary key guarantees a single winner.
	ins := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if ins.Error != nil {
		return Result{}, false, unavailable(ins.Error)
	}
	if ins.RowsAffected == 1 {
		return Result{Status: FirstUse, Binding: fromModel(rec)}, true, nil
	}

	var (
		existing model.Binding
		updated  int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&model.Binding{}).
			Where("key_digest = ? AND bound_device = ?", keyDigest, device).
			Updates(map[string]interface{}{
				"use_count":    gorm.Expr("use_count + 1"),
				"last_used_at": now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		updated = upd.RowsAffected
		return tx.Where("key_digest = ?", keyDigest).Take(&existing).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, unavailable(err)
	}

	if updated == 1 {
		return Result{Status: Bound, Binding: fromModel(existing)}, true, nil
	}
	if existing.BoundDevice != device {
		return Result{}, true, mismatch(fromModel(existing))
	}
	return Result{}, false, nil
}

func (s *gormStore) Get(ctx context.Context, keyDigest string) (Binding, error) {
	var rec model.Binding
	err := s.db.WithContext(ctx).Where("key_digest = ?", keyDigest).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Binding{}, ErrNotFound
	}
	if err != nil {
		return Binding{}, unavailable(err)
	}
	return fromModel(rec), nil
}

func (s *gormStore) Unbind(ctx context.Context, keyDigest string) error {
	res := s.db.WithContext(ctx).Where("key_digest = ?", keyDigest).Delete(&model.Binding{})
	if res.Error != nil {
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) List(ctx context.Context) ([]Binding, error) {
	var recs []model.Binding
	if err := s.db.WithContext(ctx).Order("first_bound_at asc").Find(&recs).Error; err != nil {
		return nil, unavailable(err)
	}
	out := make([]Binding, 0, len(recs))
	for _, r := range recs {
		out = append(out, fromModel(r))
	}
	return out, nil
}

func (s *gormStore) Stats(ctx context.Context) (Stats, error) {
	var row struct {
		Bound     int64
		TotalUses int64
	}
	err := s.db.WithContext(ctx).Model(&model.Binding{}).
		Select("COUNT(*) AS bound, COALESCE(SUM(use_count), 0) AS total_uses").
		Scan(&row).Error
	if err != nil {
		return Stats{}, unavailable(err)
	}
	return Stats{Bound: row.Bound, TotalUses: row.TotalUses}, nil
}

// Close is a no-op: the database handle is shared with the audit tables and
// owned by the caller.
func (s *gormStore) Close(context.Context) error {
	return nil
}

func fromModel(r model.Binding) Binding {
	return Binding{
		KeyDigest:    r.KeyDigest,
		BoundDevice:  r.BoundDevice,
		FirstBoundAt: r.FirstBoundAt,
		LastUsedAt:   r.LastUsedAt,
		UseCount:     r.UseCount,
	}
}
