package borrows

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"CREDIT-backend/internal/platform/db"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// ===== PIC / 借用者 =====

// ResolveUser はPIC名でusersをupsertしてIDを返す。名前は正規化済み前提。
func (s *Store) ResolveUser(ctx context.Context, tx db.DBTX, name string) (int64, error) {
	const sel = `SELECT id FROM users WHERE name = ?`
	var id int64
	err := tx.QueryRowContext(ctx, sel, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO users (name) VALUES (?)`, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpsertBorrower は正規化済みtp_idで借用者を重複排除する。
// 既存行があれば連絡先（name/phone/email）を最新値に更新する。
func (s *Store) UpsertBorrower(ctx context.Context, tx db.DBTX, b Borrower) (int64, error) {
	const sel = `SELECT id FROM borrowers WHERE tp_id = ? LIMIT 1`
	var id int64
	err := tx.QueryRowContext(ctx, sel, b.TpID).Scan(&id)
	if err == nil {
		const upd = `UPDATE borrowers SET name = ?, phone = ?, email = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, upd, b.Name, b.Phone, b.Email, id); err != nil {
			return 0, err
		}
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	const ins = `INSERT INTO borrowers (name, tp_id, phone, email) VALUES (?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, ins, b.Name, b.TpID, b.Phone, b.Email)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ===== 部品在庫（check-then-act中の行ロック） =====

type lockedComponent struct {
	ID        int64
	Name      string
	Quantity  int
	IsDeleted bool
}

func (s *Store) LockComponent(ctx context.Context, tx db.DBTX, id int64) (*lockedComponent, error) {
	const q = `SELECT id, name, quantity, is_deleted FROM components WHERE id = ? FOR UPDATE`
	var c lockedComponent
	if err := tx.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.Name, &c.Quantity, &c.IsDeleted); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound(fmt.Sprintf("component %d not found", id))
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) Outstanding(ctx context.Context, tx db.DBTX, componentID int64) (int, error) {
	const q = `
	SELECT COALESCE(SUM(quantity_borrowed - quantity_returned), 0)
	FROM borrow_items
	WHERE component_id = ? AND quantity_borrowed > quantity_returned`
	var sum int
	if err := tx.QueryRowContext(ctx, q, componentID).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

// ===== 貸出作成 =====

func (s *Store) InsertTransaction(ctx context.Context, tx db.DBTX, m *Transaction) error {
	const q = `
	INSERT INTO borrow_transactions
	(transaction_ulid, borrower_id, borrowed_by_id, reason, borrowed_at, expected_return_date, status, overdue_email_sent)
	VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, ?, ?, 0)`
	res, err := tx.ExecContext(ctx, q,
		m.TransactionULID, m.BorrowerID, m.BorrowedByID, m.Reason,
		m.ExpectedReturnDate.Format("2006-01-02"), m.Status,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	m.ID = id
	return nil
}

func (s *Store) InsertItem(ctx context.Context, tx db.DBTX, m *Item) error {
	const q = `
	INSERT INTO borrow_items (transaction_id, component_id, quantity_borrowed, quantity_returned)
	VALUES (?, ?, ?, 0)`
	res, err := tx.ExecContext(ctx, q, m.TransactionID, m.ComponentID, m.QuantityBorrowed)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	m.ID = id
	return nil
}

// ===== 返却 =====

type itemRow struct {
	Item
	ComponentName string
}

// GetItemForUpdate は未完了トランザクションの対象アイテムを行ロック付きで取得する。
func (s *Store) GetItemForUpdate(ctx context.Context, tx db.DBTX, transactionID, componentID int64) (*itemRow, error) {
	const q = `
	SELECT bi.id, bi.transaction_id, bi.component_id, bi.quantity_borrowed, bi.quantity_returned, c.name
	FROM borrow_items bi
	JOIN borrow_transactions bt ON bt.id = bi.transaction_id
	JOIN components c ON c.id = bi.component_id
	WHERE bt.id = ? AND bi.component_id = ? AND bt.status <> 'COMPLETED'
	FOR UPDATE`
	var m itemRow
	err := tx.QueryRowContext(ctx, q, transactionID, componentID).Scan(
		&m.ID, &m.TransactionID, &m.ComponentID, &m.QuantityBorrowed, &m.QuantityReturned, &m.ComponentName,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound(fmt.Sprintf("borrow item not found for transaction %d, component %d", transactionID, componentID))
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) InsertReturnEvent(ctx context.Context, tx db.DBTX, m *ReturnEvent) error {
	const q = `
	INSERT INTO return_events (event_ulid, borrow_item_id, quantity_returned, remarks, returned_by_id, returned_at)
	VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`
	res, err := tx.ExecContext(ctx, q, m.EventULID, m.BorrowItemID, m.QuantityReturned, m.Remarks, m.ReturnedByID)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	m.ID = id
	return nil
}

func (s *Store) AddItemReturned(ctx context.Context, tx db.DBTX, itemID int64, qty int) error {
	const q = `UPDATE borrow_items SET quantity_returned = quantity_returned + ? WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, qty, itemID)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff != 1 {
		return ErrInternal("failed to update borrow_items.quantity_returned")
	}
	return nil
}

func (s *Store) UnreturnedCount(ctx context.Context, tx db.DBTX, transactionID int64) (int, error) {
	const q = `
	SELECT COUNT(*) FROM borrow_items
	WHERE transaction_id = ? AND quantity_returned < quantity_borrowed`
	var n int
	if err := tx.QueryRowContext(ctx, q, transactionID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CompleteTransaction はACTIVE→COMPLETEDの一方向遷移のみ行う。
func (s *Store) CompleteTransaction(ctx context.Context, tx db.DBTX, transactionID int64) error {
	const q = `UPDATE borrow_transactions SET status = 'COMPLETED' WHERE id = ? AND status = 'ACTIVE'`
	_, err := tx.ExecContext(ctx, q, transactionID)
	return err
}

// ===== 照会 =====

type transactionRow struct {
	Transaction
	BorrowerName  string
	BorrowerTpID  string
	BorrowerEmail string
	PicName       string
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (*transactionRow, error) {
	const q = `
	SELECT t.id, t.transaction_ulid, t.borrower_id, t.borrowed_by_id, t.reason,
	       t.borrowed_at, t.expected_return_date, t.status, t.overdue_email_sent,
	       b.name, b.tp_id, b.email, u.name
	FROM borrow_transactions t
	JOIN borrowers b ON b.id = t.borrower_id
	JOIN users u ON u.id = t.borrowed_by_id
	WHERE t.id = ?`
	var r transactionRow
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&r.ID, &r.TransactionULID, &r.BorrowerID, &r.BorrowedByID, &r.Reason,
		&r.BorrowedAt, &r.ExpectedReturnDate, &r.Status, &r.OverdueEmailSent,
		&r.BorrowerName, &r.BorrowerTpID, &r.BorrowerEmail, &r.PicName,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound("transaction not found")
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListItems(ctx context.Context, transactionID int64) ([]BorrowItemResponse, error) {
	const q = `
	SELECT bi.component_id, c.name, bi.quantity_borrowed, bi.quantity_returned
	FROM borrow_items bi
	JOIN components c ON c.id = bi.component_id
	WHERE bi.transaction_id = ?
	ORDER BY bi.id`
	rows, err := s.db.QueryContext(ctx, q, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BorrowItemResponse
	for rows.Next() {
		var r BorrowItemResponse
		if err := rows.Scan(&r.ComponentID, &r.ComponentName, &r.QuantityBorrowed, &r.QuantityReturned); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type activeRow struct {
	TransactionID      int64
	BorrowerName       string
	TpID               string
	Phone              string
	ComponentID        int64
	ComponentName      string
	Remaining          int
	ExpectedReturnDate time.Time
	Status             string
}

// ListActive は未返却残のあるアイテムをフラットに返す。
func (s *Store) ListActive(ctx context.Context) ([]activeRow, error) {
	const q = `
	SELECT t.id, b.name, b.tp_id, b.phone,
	       c.id, c.name,
	       bi.quantity_borrowed - bi.quantity_returned,
	       t.expected_return_date, t.status
	FROM borrow_transactions t
	JOIN borrowers b ON b.id = t.borrower_id
	JOIN borrow_items bi ON bi.transaction_id = t.id
	JOIN components c ON c.id = bi.component_id
	WHERE t.status <> 'COMPLETED'
	  AND bi.quantity_borrowed > bi.quantity_returned
	ORDER BY t.expected_return_date, t.id, bi.id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []activeRow
	for rows.Next() {
		var r activeRow
		if err := rows.Scan(
			&r.TransactionID, &r.BorrowerName, &r.TpID, &r.Phone,
			&r.ComponentID, &r.ComponentName, &r.Remaining,
			&r.ExpectedReturnDate, &r.Status,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListTransactions(ctx context.Context) ([]transactionRow, error) {
	const q = `
	SELECT t.id, t.transaction_ulid, t.borrower_id, t.borrowed_by_id, t.reason,
	       t.borrowed_at, t.expected_return_date, t.status, t.overdue_email_sent,
	       b.name, b.tp_id, b.email, u.name
	FROM borrow_transactions t
	JOIN borrowers b ON b.id = t.borrower_id
	JOIN users u ON u.id = t.borrowed_by_id
	ORDER BY t.borrowed_at DESC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transactionRow
	for rows.Next() {
		var r transactionRow
		if err := rows.Scan(
			&r.ID, &r.TransactionULID, &r.BorrowerID, &r.BorrowedByID, &r.Reason,
			&r.BorrowedAt, &r.ExpectedReturnDate, &r.Status, &r.OverdueEmailSent,
			&r.BorrowerName, &r.BorrowerTpID, &r.BorrowerEmail, &r.PicName,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BorrowerContact は通知用の借用者連絡先を返す。
func (s *Store) BorrowerContact(ctx context.Context, transactionID int64) (name, email string, err error) {
	const q = `
	SELECT b.name, b.email
	FROM borrowers b
	JOIN borrow_transactions t ON t.borrower_id = b.id
	WHERE t.id = ?`
	if err = s.db.QueryRowContext(ctx, q, transactionID).Scan(&name, &email); err != nil {
		if err == sql.ErrNoRows {
			return "", "", ErrNotFound("transaction not found")
		}
		return "", "", err
	}
	return name, email, nil
}
