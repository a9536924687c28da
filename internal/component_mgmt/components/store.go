package components

import (
	"context"
	"database/sql"

	"CREDIT-backend/internal/platform/db"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const componentColumns = `
	id, name, category, quantity, remarks,
	storage_type, cabinet_number, shelf_number, container_id,
	drawer_index, storage_box_index, location_type, location_index,
	is_deleted, deleted_reason, deleted_at, created_at, updated_at`

func scanComponent(row interface{ Scan(dest ...any) error }) (*Component, error) {
	var c Component
	err := row.Scan(
		&c.ID, &c.Name, &c.Category, &c.Quantity, &c.Remarks,
		&c.StorageType, &c.CabinetNumber, &c.ShelfNumber, &c.ContainerID,
		&c.DrawerIndex, &c.StorageBoxIndex, &c.LocationType, &c.LocationIndex,
		&c.IsDeleted, &c.DeletedReason, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) Insert(ctx context.Context, c *Component) error {
	const q = `
	INSERT INTO components
	(name, category, quantity, remarks,
	 storage_type, cabinet_number, shelf_number, container_id,
	 drawer_index, storage_box_index, location_type, location_index,
	 is_deleted, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`

	res, err := s.db.ExecContext(ctx, q,
		c.Name, c.Category, c.Quantity, c.Remarks,
		c.StorageType, c.CabinetNumber, c.ShelfNumber, c.ContainerID,
		c.DrawerIndex, c.StorageBoxIndex, c.LocationType, c.LocationIndex,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	c.ID = id
	return nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*Component, error) {
	q := `SELECT ` + componentColumns + ` FROM components WHERE id = ?`
	c, err := scanComponent(s.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound("component not found")
	}
	return c, err
}

// 行ロック付き取得。在庫チェックや保管場所変更のcheck-then-actで使う。
func (s *Store) LockRow(ctx context.Context, tx db.DBTX, id int64) (*Component, error) {
	q := `SELECT ` + componentColumns + ` FROM components WHERE id = ? FOR UPDATE`
	c, err := scanComponent(tx.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound("component not found")
	}
	return c, err
}

func (s *Store) List(ctx context.Context, deleted bool) ([]Component, error) {
	q := `SELECT ` + componentColumns + ` FROM components WHERE is_deleted = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, deleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Component
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Outstanding は未返却残（Σ borrowed-returned）を返す。
// 完了済みアイテムは borrowed==returned なのでWHERE句で自然に落ちる。
func (s *Store) Outstanding(ctx context.Context, q db.DBTX, componentID int64) (int, error) {
	const query = `
	SELECT COALESCE(SUM(quantity_borrowed - quantity_returned), 0)
	FROM borrow_items
	WHERE component_id = ? AND quantity_borrowed > quantity_returned`
	var sum int
	if err := q.QueryRowContext(ctx, query, componentID).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

func (s *Store) Update(ctx context.Context, tx db.DBTX, c *Component) error {
	const q = `
	UPDATE components SET
		name = ?, category = ?, quantity = ?, remarks = ?,
		storage_type = ?, cabinet_number = ?, shelf_number = ?, container_id = ?,
		drawer_index = ?, storage_box_index = ?, location_type = ?, location_index = ?,
		updated_at = CURRENT_TIMESTAMP
	WHERE id = ? AND is_deleted = 0`
	res, err := tx.ExecContext(ctx, q,
		c.Name, c.Category, c.Quantity, c.Remarks,
		c.StorageType, c.CabinetNumber, c.ShelfNumber, c.ContainerID,
		c.DrawerIndex, c.StorageBoxIndex, c.LocationType, c.LocationIndex,
		c.ID,
	)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff != 1 {
		return ErrInternal("failed to update component")
	}
	return nil
}

func (s *Store) SoftDelete(ctx context.Context, tx db.DBTX, id int64, reason string) error {
	const q = `
	UPDATE components
	SET is_deleted = 1, deleted_reason = ?, deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
	WHERE id = ? AND is_deleted = 0`
	res, err := tx.ExecContext(ctx, q, reason, id)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff != 1 {
		return ErrConflict("component already deleted")
	}
	return nil
}

// ContainerCabinet はコンテナの所属キャビネット番号を解決する。
func (s *Store) ContainerCabinet(ctx context.Context, containerID int64) (int, error) {
	const q = `SELECT cabinet_number FROM containers WHERE id = ?`
	var n int
	if err := s.db.QueryRowContext(ctx, q, containerID).Scan(&n); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound("container not found")
		}
		return 0, err
	}
	return n, nil
}
