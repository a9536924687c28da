package overdue

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"CREDIT-backend/internal/platform/db"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// candidate は督促対象の候補トランザクション（未通知・期限超過・ACTIVE）。
type candidate struct {
	TransactionID      int64
	ExpectedReturnDate time.Time
	BorrowerName       string
	BorrowerEmail      string
}

func (s *Store) ListOverdueCandidates(ctx context.Context, today time.Time) ([]candidate, error) {
	const q = `
	SELECT t.id, t.expected_return_date, b.name, b.email
	FROM borrow_transactions t
	JOIN borrowers b ON b.id = t.borrower_id
	WHERE t.status = 'ACTIVE'
	  AND t.overdue_email_sent = 0
	  AND t.expected_return_date < ?
	ORDER BY b.email, t.expected_return_date, t.id`
	rows, err := s.db.QueryContext(ctx, q, today.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.TransactionID, &c.ExpectedReturnDate, &c.BorrowerName, &c.BorrowerEmail); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// overdueItem は督促メール本文用の未返却アイテム。
type overdueItem struct {
	ComponentName string
	Remaining     int
}

// OverdueItems は未返却残のあるアイテムを返す。論理削除済み部品は除外する。
func (s *Store) OverdueItems(ctx context.Context, transactionID int64) ([]overdueItem, error) {
	const q = `
	SELECT c.name, bi.quantity_borrowed - bi.quantity_returned
	FROM borrow_items bi
	JOIN components c ON c.id = bi.component_id
	WHERE bi.transaction_id = ?
	  AND bi.quantity_returned < bi.quantity_borrowed
	  AND c.is_deleted = 0
	ORDER BY bi.id`
	rows, err := s.db.QueryContext(ctx, q, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []overdueItem
	for rows.Next() {
		var it overdueItem
		if err := rows.Scan(&it.ComponentName, &it.Remaining); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// MarkNotified は借用者グループ単位で督促済みフラグを立てる。
func (s *Store) MarkNotified(ctx context.Context, tx db.DBTX, transactionIDs []int64) error {
	if len(transactionIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(transactionIDs))
	placeholders = placeholders[:len(placeholders)-1]
	q := `UPDATE borrow_transactions SET overdue_email_sent = 1 WHERE id IN (` + placeholders + `)`

	args := make([]any, len(transactionIDs))
	for i, id := range transactionIDs {
		args[i] = id
	}
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

// ResetFlags は再督促のためのフラグ解除。
// まだACTIVEで、まだ期限超過で、まだ未返却残があるトランザクションだけを対象にする。
// COMPLETEDや期限内に戻ったものは決して触らない。
func (s *Store) ResetFlags(ctx context.Context, today time.Time) (int64, error) {
	const q = `
	UPDATE borrow_transactions t
	SET t.overdue_email_sent = 0
	WHERE t.status = 'ACTIVE'
	  AND t.overdue_email_sent = 1
	  AND t.expected_return_date < ?
	  AND EXISTS (
	      SELECT 1 FROM borrow_items bi
	      JOIN components c ON c.id = bi.component_id
	      WHERE bi.transaction_id = t.id
	        AND bi.quantity_returned < bi.quantity_borrowed
	        AND c.is_deleted = 0
	  )`
	res, err := s.db.ExecContext(ctx, q, today.Format("2006-01-02"))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
