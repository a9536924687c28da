package borrows

import (
	"database/sql"
	"time"
)

// 貸出トランザクションの保存ステータス。
// OVERDUEは保存しない（読み取り時にEffectiveStatusで導出する）。
const (
	StatusActive    = "ACTIVE"
	StatusCompleted = "COMPLETED"
	StatusOverdue   = "OVERDUE"
)

// EffectiveStatus は表示用ステータスを一箇所で導出する。
// 期限超過の判定はすべてこの関数を通すこと（日付比較ロジックを散らさない）。
func EffectiveStatus(stored string, expectedReturnDate, today time.Time) string {
	if stored == StatusCompleted {
		return StatusCompleted
	}
	if DateOf(today).After(DateOf(expectedReturnDate)) {
		return StatusOverdue
	}
	return StatusActive
}

// DateOf は時刻を落として日付だけにする。
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Borrower は borrowers テーブルの1行。tp_id（学籍番号）で重複排除する。
type Borrower struct {
	ID    int64
	Name  string
	TpID  string
	Phone string
	Email string
}

// Transaction は borrow_transactions テーブルの1行。
type Transaction struct {
	ID                 int64
	TransactionULID    string
	BorrowerID         int64
	BorrowedByID       int64 // PIC (users.id)
	Reason             string
	BorrowedAt         time.Time
	ExpectedReturnDate time.Time
	Status             string
	OverdueEmailSent   bool
}

// Item は borrow_items テーブルの1行。
// QuantityBorrowedは作成後不変、QuantityReturnedは単調増加で
// 0 <= returned <= borrowed を常に満たす。
type Item struct {
	ID               int64
	TransactionID    int64
	ComponentID      int64
	QuantityBorrowed int
	QuantityReturned int
}

// ReturnEvent は返却1回分の追記専用監査レコード。
// 「誰がいつ何個返したか」の正はここ。
type ReturnEvent struct {
	ID               int64
	EventULID        string
	BorrowItemID     int64
	QuantityReturned int
	Remarks          sql.NullString
	ReturnedByID     int64
	ReturnedAt       time.Time
}
