package components

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"CREDIT-backend/internal/component_mgmt/location"
	"CREDIT-backend/internal/platform/db"
)

type Service struct {
	db    *sql.DB
	store *Store
	log   *zap.Logger
}

func NewService(conn *sql.DB, log *zap.Logger) *Service {
	return &Service{db: conn, store: NewStore(conn), log: log}
}

// resolveSpec はコンテナの所属キャビネットを解決してから正規化する。
func (s *Service) resolveSpec(ctx context.Context, spec location.Spec) (location.Location, error) {
	if spec.ContainerID != nil {
		cab, err := s.store.ContainerCabinet(ctx, *spec.ContainerID)
		if err != nil {
			return location.Location{}, err
		}
		spec.ContainerCabinetNumber = &cab
	}
	loc, violations := spec.Normalize()
	if len(violations) > 0 {
		return location.Location{}, ErrInvalidLocation(violations)
	}
	return loc, nil
}

// ValidateLocation は違反一覧を返す（空なら妥当）。保存はしない。
func (s *Service) ValidateLocation(ctx context.Context, spec location.Spec) ([]string, error) {
	if spec.ContainerID != nil {
		cab, err := s.store.ContainerCabinet(ctx, *spec.ContainerID)
		if err != nil {
			return nil, err
		}
		spec.ContainerCabinetNumber = &cab
	}
	return spec.Validate(), nil
}

func (s *Service) Create(ctx context.Context, req CreateComponentRequest) (ComponentResponse, error) {
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Category) == "" {
		return ComponentResponse{}, ErrInvalid("name and category are required")
	}
	if req.Quantity < 0 {
		return ComponentResponse{}, ErrInvalid("quantity must be >= 0")
	}

	loc, err := s.resolveSpec(ctx, req.Location)
	if err != nil {
		return ComponentResponse{}, err
	}

	c := &Component{
		Name:     strings.TrimSpace(req.Name),
		Category: strings.TrimSpace(req.Category),
		Quantity: req.Quantity,
	}
	if req.Remarks != nil && strings.TrimSpace(*req.Remarks) != "" {
		c.Remarks = sql.NullString{String: *req.Remarks, Valid: true}
	}
	c.applyLocation(loc)

	if err := s.store.Insert(ctx, c); err != nil {
		return ComponentResponse{}, err
	}
	s.log.Info("部品を登録", zap.Int64("component_id", c.ID), zap.String("name", c.Name))

	out, err := s.store.GetByID(ctx, c.ID)
	if err != nil {
		return ComponentResponse{}, err
	}
	return buildComponentResponse(out, out.Quantity), nil
}

func (s *Service) Get(ctx context.Context, id int64) (ComponentResponse, error) {
	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		return ComponentResponse{}, err
	}
	outstanding, err := s.store.Outstanding(ctx, s.db, id)
	if err != nil {
		return ComponentResponse{}, err
	}
	return buildComponentResponse(c, c.Quantity-outstanding), nil
}

// Available: 総数 - 未返却残。カウンタとしては保存しない。
func (s *Service) Available(ctx context.Context, id int64) (int, error) {
	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	outstanding, err := s.store.Outstanding(ctx, s.db, id)
	if err != nil {
		return 0, err
	}
	return c.Quantity - outstanding, nil
}

func (s *Service) List(ctx context.Context) ([]ComponentResponse, error) {
	return s.list(ctx, false)
}

// 削除済み部品の履歴一覧
func (s *Service) ListDeleted(ctx context.Context) ([]ComponentResponse, error) {
	return s.list(ctx, true)
}

func (s *Service) list(ctx context.Context, deleted bool) ([]ComponentResponse, error) {
	items, err := s.store.List(ctx, deleted)
	if err != nil {
		return nil, err
	}
	out := make([]ComponentResponse, 0, len(items))
	for i := range items {
		outstanding, err := s.store.Outstanding(ctx, s.db, items[i].ID)
		if err != nil {
			return nil, err
		}
		out = append(out, buildComponentResponse(&items[i], items[i].Quantity-outstanding))
	}
	return out, nil
}

// Update は数量・保管場所の変更を未返却残でガードする。
// 数量: 新数量 >= 未返却残。保管場所: 未返却残が0のときのみ変更可。
func (s *Service) Update(ctx context.Context, id int64, req UpdateComponentRequest) (ComponentResponse, error) {
	if req.Quantity != nil && *req.Quantity < 0 {
		return ComponentResponse{}, ErrInvalid("quantity must be >= 0")
	}

	err := db.RunInTxRetry(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		c, err := s.store.LockRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if c.IsDeleted {
			return ErrConflict("component is deleted")
		}

		outstanding, err := s.store.Outstanding(ctx, tx, id)
		if err != nil {
			return err
		}

		if req.Quantity != nil {
			if *req.Quantity < outstanding {
				return ErrConflict(fmt.Sprintf("quantity %d is less than outstanding borrowed %d", *req.Quantity, outstanding))
			}
			c.Quantity = *req.Quantity
		}
		if req.Location != nil {
			if outstanding > 0 {
				return ErrConflict("component has outstanding borrowed items, location cannot be changed")
			}
			loc, err := s.resolveSpec(ctx, *req.Location)
			if err != nil {
				return err
			}
			c.applyLocation(loc)
		}
		if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
			c.Name = strings.TrimSpace(*req.Name)
		}
		if req.Category != nil && strings.TrimSpace(*req.Category) != "" {
			c.Category = strings.TrimSpace(*req.Category)
		}
		if req.Remarks != nil {
			c.Remarks = sql.NullString{String: *req.Remarks, Valid: strings.TrimSpace(*req.Remarks) != ""}
		}

		return s.store.Update(ctx, tx, c)
	})
	if err != nil {
		if db.IsLockConflict(err) {
			return ComponentResponse{}, ErrConflict("component row is locked, retry later")
		}
		return ComponentResponse{}, err
	}

	return s.Get(ctx, id)
}

// Delete は論理削除。未返却残がある間は削除できない。
func (s *Service) Delete(ctx context.Context, id int64, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrInvalid("reason is required")
	}

	err := db.RunInTxRetry(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		c, err := s.store.LockRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if c.IsDeleted {
			return ErrConflict("component already deleted")
		}
		outstanding, err := s.store.Outstanding(ctx, tx, id)
		if err != nil {
			return err
		}
		if outstanding > 0 {
			return ErrConflict("component is currently borrowed")
		}
		return s.store.SoftDelete(ctx, tx, id, reason)
	})
	if err != nil {
		if db.IsLockConflict(err) {
			return ErrConflict("component row is locked, retry later")
		}
		return err
	}
	s.log.Info("部品を論理削除", zap.Int64("component_id", id), zap.String("reason", reason))
	return nil
}
