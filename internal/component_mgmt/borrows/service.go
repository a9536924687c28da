package borrows

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	ulid "github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"CREDIT-backend/internal/platform/db"
)

// ---- Clock & ID ----
type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ NewULID(t time.Time) string }
type ulidGen struct{}

func (ulidGen) NewULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Sender は通知メールの送信口。失敗しても台帳処理は失敗しない。
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ---- Service ----

type Service struct {
	db    *sql.DB
	store *Store
	clock Clock
	id    IDGen
	tz    *time.Location
	mail  Sender
	log   *zap.Logger
}

func NewService(conn *sql.DB, mail Sender, tz *time.Location, log *zap.Logger) *Service {
	return &Service{
		db:    conn,
		store: NewStore(conn),
		clock: realClock{},
		id:    ulidGen{},
		tz:    tz,
		mail:  mail,
		log:   log,
	}
}

func (s *Service) today() time.Time {
	return DateOf(s.clock.Now().In(s.tz))
}

func normName(v string) string  { return strings.ToUpper(strings.TrimSpace(v)) }
func normEmail(v string) string { return strings.ToLower(strings.TrimSpace(v)) }

// ===== 貸出作成 =====

// CreateBorrow は全アイテムの在庫を確認してから一括でBorrowItemを作成する。
// 1つでも在庫不足があれば全体を拒否する（all-or-nothing）。
// 部品のquantityは貸出時に減算しない。貸出可能数は常に計算で求める。
func (s *Service) CreateBorrow(ctx context.Context, req CreateBorrowRequest) (*BorrowTransactionResponse, error) {
	if len(req.Items) == 0 {
		return nil, ErrInvalid("items must not be empty")
	}
	if strings.TrimSpace(req.PicName) == "" {
		return nil, ErrInvalid("pic_name is required")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, ErrInvalid("reason is required")
	}
	if strings.TrimSpace(req.Borrower.Name) == "" || strings.TrimSpace(req.Borrower.TpID) == "" ||
		strings.TrimSpace(req.Borrower.Phone) == "" || strings.TrimSpace(req.Borrower.Email) == "" {
		return nil, ErrInvalid("borrower name, tp_id, phone and email are required")
	}

	expected, err := time.ParseInLocation("2006-01-02", req.ExpectedReturnDate, s.tz)
	if err != nil {
		return nil, ErrInvalid("invalid expected_return_date format, expected YYYY-MM-DD")
	}
	if DateOf(expected).Before(s.today()) {
		return nil, ErrInvalid("expected_return_date cannot be in the past")
	}

	seen := make(map[int64]bool, len(req.Items))
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, ErrInvalid(fmt.Sprintf("quantity for component %d must be > 0", it.ComponentID))
		}
		if seen[it.ComponentID] {
			return nil, ErrInvalid(fmt.Sprintf("component %d appears more than once", it.ComponentID))
		}
		seen[it.ComponentID] = true
	}

	// ロック順を固定してデッドロックを避ける
	items := make([]BorrowItemInput, len(req.Items))
	copy(items, req.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].ComponentID < items[j].ComponentID })

	txULID := s.id.NewULID(s.clock.Now())
	var txnID int64

	err = db.RunInTxRetry(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		picID, err := s.store.ResolveUser(ctx, tx, normName(req.PicName))
		if err != nil {
			return err
		}

		borrowerID, err := s.store.UpsertBorrower(ctx, tx, Borrower{
			Name:  normName(req.Borrower.Name),
			TpID:  normName(req.Borrower.TpID),
			Phone: strings.TrimSpace(req.Borrower.Phone),
			Email: normEmail(req.Borrower.Email),
		})
		if err != nil {
			return err
		}

		// まず全アイテムの在庫を確認する。ここまでは一切書き込まない。
		var conflicts []string
		for _, it := range items {
			c, err := s.store.LockComponent(ctx, tx, it.ComponentID)
			if err != nil {
				return err
			}
			if c.IsDeleted {
				return ErrNotFound(fmt.Sprintf("component %d not found", it.ComponentID))
			}
			outstanding, err := s.store.Outstanding(ctx, tx, it.ComponentID)
			if err != nil {
				return err
			}
			available := c.Quantity - outstanding
			if it.Quantity > available {
				conflicts = append(conflicts,
					fmt.Sprintf("insufficient availability: requested %d, available %d", it.Quantity, available))
			}
		}
		if len(conflicts) > 0 {
			return &APIError{Code: CodeConflict, Message: strings.Join(conflicts, "; "), Violations: conflicts}
		}

		m := &Transaction{
			TransactionULID:    txULID,
			BorrowerID:         borrowerID,
			BorrowedByID:       picID,
			Reason:             strings.TrimSpace(req.Reason),
			ExpectedReturnDate: DateOf(expected),
			Status:             StatusActive,
		}
		if err := s.store.InsertTransaction(ctx, tx, m); err != nil {
			return err
		}
		for _, it := range items {
			item := &Item{TransactionID: m.ID, ComponentID: it.ComponentID, QuantityBorrowed: it.Quantity}
			if err := s.store.InsertItem(ctx, tx, item); err != nil {
				return err
			}
		}
		txnID = m.ID
		return nil
	})
	if err != nil {
		if db.IsLockConflict(err) {
			return nil, ErrConflict("inventory rows are locked, retry later")
		}
		return nil, err
	}

	resp, err := s.buildTransactionResponse(ctx, txnID)
	if err != nil {
		return nil, err
	}

	s.log.Info("貸出を登録",
		zap.Int64("transaction_id", resp.ID),
		zap.String("borrower", resp.BorrowerName),
		zap.Int("items", len(resp.Items)))

	s.notifyAsync(resp.BorrowerEmail, "Borrow Confirmation - CREDIT Inventory", borrowMailBody(resp))
	return resp, nil
}

// ===== 単品返却 =====

func (s *Service) ReturnOne(ctx context.Context, req ReturnRequest) (*ReturnResponse, error) {
	if req.Quantity <= 0 {
		return nil, ErrInvalid("quantity must be > 0")
	}
	if strings.TrimSpace(req.PicName) == "" {
		return nil, ErrInvalid("pic_name is required")
	}

	eventULID := s.id.NewULID(s.clock.Now())
	var resp ReturnResponse

	err := db.RunInTxRetry(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		picID, err := s.store.ResolveUser(ctx, tx, normName(req.PicName))
		if err != nil {
			return err
		}

		item, err := s.store.GetItemForUpdate(ctx, tx, req.TransactionID, req.ComponentID)
		if err != nil {
			return err
		}

		remaining := item.QuantityBorrowed - item.QuantityReturned
		if req.Quantity > remaining {
			return ErrConflict("return quantity exceeds borrowed amount")
		}

		ev := &ReturnEvent{
			EventULID:        eventULID,
			BorrowItemID:     item.ID,
			QuantityReturned: req.Quantity,
			ReturnedByID:     picID,
		}
		if req.Remarks != nil && strings.TrimSpace(*req.Remarks) != "" {
			ev.Remarks = sql.NullString{String: *req.Remarks, Valid: true}
		}
		if err := s.store.InsertReturnEvent(ctx, tx, ev); err != nil {
			return err
		}
		if err := s.store.AddItemReturned(ctx, tx, item.ID, req.Quantity); err != nil {
			return err
		}

		status := StatusActive
		unreturned, err := s.store.UnreturnedCount(ctx, tx, item.TransactionID)
		if err != nil {
			return err
		}
		if unreturned == 0 {
			if err := s.store.CompleteTransaction(ctx, tx, item.TransactionID); err != nil {
				return err
			}
			status = StatusCompleted
		}

		resp = ReturnResponse{
			EventULID:         eventULID,
			TransactionID:     item.TransactionID,
			ComponentID:       item.ComponentID,
			Quantity:          req.Quantity,
			Remaining:         remaining - req.Quantity,
			TransactionStatus: status,
			ReturnedAt:        s.clock.Now(),
		}
		return nil
	})
	if err != nil {
		if db.IsLockConflict(err) {
			return nil, ErrConflict("borrow rows are locked, retry later")
		}
		return nil, err
	}

	if name, email, err := s.store.BorrowerContact(ctx, resp.TransactionID); err == nil {
		s.notifyAsync(email, "Return Confirmation - CREDIT Inventory",
			returnMailBody(name, []ReturnResponse{resp}))
	}
	return &resp, nil
}

// ===== バッチ返却 =====

// ReturnBatch は全行を現在の未返却残に対して検証してから、まとめて反映する。
// 1行でも不正があればバッチ全体を拒否し、何も書き込まない。
// 成功後は借用者メール（小文字比較）ごとに1通へ集約して通知する。
func (s *Service) ReturnBatch(ctx context.Context, req BatchReturnRequest) (*BatchReturnResponse, error) {
	if len(req.Items) == 0 {
		return nil, ErrInvalid("items must not be empty")
	}
	if strings.TrimSpace(req.PicName) == "" {
		return nil, ErrInvalid("pic_name is required")
	}
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return nil, ErrInvalid(fmt.Sprintf("quantity for transaction %d, component %d must be > 0", line.TransactionID, line.ComponentID))
		}
	}

	lines := make([]BatchReturnLine, len(req.Items))
	copy(lines, req.Items)
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].TransactionID != lines[j].TransactionID {
			return lines[i].TransactionID < lines[j].TransactionID
		}
		return lines[i].ComponentID < lines[j].ComponentID
	})

	now := s.clock.Now()
	results := make([]ReturnResponse, 0, len(lines))

	err := db.RunInTxRetry(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		results = results[:0]

		picID, err := s.store.ResolveUser(ctx, tx, normName(req.PicName))
		if err != nil {
			return err
		}

		// phase 1: 全行をロックして検証。違反は全件集める。
		type resolved struct {
			line BatchReturnLine
			item *itemRow
		}
		var (
			violations []string
			ok         []resolved
			pending    = map[int64]int{} // itemID -> このバッチ内で既に返す予定の数
		)
		for _, line := range lines {
			item, err := s.store.GetItemForUpdate(ctx, tx, line.TransactionID, line.ComponentID)
			if err != nil {
				if api, isAPI := err.(*APIError); isAPI && api.Code == CodeNotFound {
					violations = append(violations, api.Message)
					continue
				}
				return err
			}
			remaining := item.QuantityBorrowed - item.QuantityReturned - pending[item.ID]
			if line.Quantity > remaining {
				violations = append(violations, fmt.Sprintf(
					"transaction %d, component %d: return quantity %d exceeds remaining %d",
					line.TransactionID, line.ComponentID, line.Quantity, remaining))
				continue
			}
			pending[item.ID] += line.Quantity
			ok = append(ok, resolved{line: line, item: item})
		}
		if len(violations) > 0 {
			return ErrInvalidWith("batch return rejected", violations)
		}

		// phase 2: 反映
		affected := map[int64]bool{}
		for _, r := range ok {
			ev := &ReturnEvent{
				EventULID:        s.id.NewULID(now),
				BorrowItemID:     r.item.ID,
				QuantityReturned: r.line.Quantity,
				ReturnedByID:     picID,
			}
			if r.line.Remarks != nil && strings.TrimSpace(*r.line.Remarks) != "" {
				ev.Remarks = sql.NullString{String: *r.line.Remarks, Valid: true}
			}
			if err := s.store.InsertReturnEvent(ctx, tx, ev); err != nil {
				return err
			}
			if err := s.store.AddItemReturned(ctx, tx, r.item.ID, r.line.Quantity); err != nil {
				return err
			}
			affected[r.item.TransactionID] = true

			results = append(results, ReturnResponse{
				EventULID:         ev.EventULID,
				TransactionID:     r.item.TransactionID,
				ComponentID:       r.item.ComponentID,
				Quantity:          r.line.Quantity,
				Remaining:         r.item.QuantityBorrowed - r.item.QuantityReturned - pending[r.item.ID],
				TransactionStatus: StatusActive,
				ReturnedAt:        now,
			})
		}

		for txnID := range affected {
			unreturned, err := s.store.UnreturnedCount(ctx, tx, txnID)
			if err != nil {
				return err
			}
			if unreturned == 0 {
				if err := s.store.CompleteTransaction(ctx, tx, txnID); err != nil {
					return err
				}
				for i := range results {
					if results[i].TransactionID == txnID {
						results[i].TransactionStatus = StatusCompleted
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		if db.IsLockConflict(err) {
			return nil, ErrConflict("borrow rows are locked, retry later")
		}
		return nil, err
	}

	notified := s.notifyBatchReturn(ctx, results)
	s.log.Info("バッチ返却を処理",
		zap.Int("lines", len(results)),
		zap.Int("notified_borrowers", notified))

	return &BatchReturnResponse{Results: results, NotifiedBorrowers: notified}, nil
}

// notifyBatchReturn は複数トランザクションにまたがる返却を
// 借用者ごとに1通へまとめる。
func (s *Service) notifyBatchReturn(ctx context.Context, results []ReturnResponse) int {
	type group struct {
		name    string
		email   string
		results []ReturnResponse
	}
	contacts := map[int64][2]string{} // txID -> {name, email}
	groups := map[string]*group{}     // 小文字email -> group

	for _, r := range results {
		contact, ok := contacts[r.TransactionID]
		if !ok {
			name, email, err := s.store.BorrowerContact(ctx, r.TransactionID)
			if err != nil {
				s.log.Warn("借用者連絡先の解決に失敗", zap.Int64("transaction_id", r.TransactionID), zap.Error(err))
				continue
			}
			contact = [2]string{name, email}
			contacts[r.TransactionID] = contact
		}
		key := normEmail(contact[1])
		if key == "" {
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &group{name: contact[0], email: contact[1]}
			groups[key] = g
		}
		g.results = append(g.results, r)
	}

	notified := 0
	for _, g := range groups {
		s.notifyAsync(g.email, "Return Confirmation - CREDIT Inventory", returnMailBody(g.name, g.results))
		notified++
	}
	return notified
}

// ===== 照会 =====

func (s *Service) ListActive(ctx context.Context) ([]ActiveBorrowRow, error) {
	rows, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	today := s.today()

	out := make([]ActiveBorrowRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, ActiveBorrowRow{
			TransactionID:      r.TransactionID,
			BorrowerName:       r.BorrowerName,
			TpID:               r.TpID,
			Phone:              r.Phone,
			ComponentID:        r.ComponentID,
			ComponentName:      r.ComponentName,
			Quantity:           r.Remaining,
			ExpectedReturnDate: r.ExpectedReturnDate.Format("2006-01-02"),
			Status:             EffectiveStatus(r.Status, r.ExpectedReturnDate, today),
		})
	}
	return out, nil
}

func (s *Service) History(ctx context.Context) ([]BorrowTransactionResponse, error) {
	rows, err := s.store.ListTransactions(ctx)
	if err != nil {
		return nil, err
	}
	today := s.today()

	out := make([]BorrowTransactionResponse, 0, len(rows))
	for _, r := range rows {
		items, err := s.store.ListItems(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, BorrowTransactionResponse{
			ID:                 r.ID,
			TransactionULID:    r.TransactionULID,
			BorrowerName:       r.BorrowerName,
			BorrowerTpID:       r.BorrowerTpID,
			BorrowerEmail:      r.BorrowerEmail,
			PicName:            r.PicName,
			Reason:             r.Reason,
			BorrowedAt:         r.BorrowedAt,
			ExpectedReturnDate: r.ExpectedReturnDate.Format("2006-01-02"),
			Status:             EffectiveStatus(r.Status, r.ExpectedReturnDate, today),
			Items:              items,
		})
	}
	return out, nil
}

func (s *Service) buildTransactionResponse(ctx context.Context, id int64) (*BorrowTransactionResponse, error) {
	r, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return &BorrowTransactionResponse{
		ID:                 r.ID,
		TransactionULID:    r.TransactionULID,
		BorrowerName:       r.BorrowerName,
		BorrowerTpID:       r.BorrowerTpID,
		BorrowerEmail:      r.BorrowerEmail,
		PicName:            r.PicName,
		Reason:             r.Reason,
		BorrowedAt:         r.BorrowedAt,
		ExpectedReturnDate: r.ExpectedReturnDate.Format("2006-01-02"),
		Status:             EffectiveStatus(r.Status, r.ExpectedReturnDate, s.today()),
		Items:              items,
	}, nil
}

// ===== 通知 =====

// notifyAsync は業務トランザクションをブロックせずにメールを送る。
// 失敗はログのみで、リトライしない。
func (s *Service) notifyAsync(to, subject, body string) {
	if strings.TrimSpace(to) == "" || s.mail == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.mail.Send(ctx, to, subject, body); err != nil {
			s.log.Warn("確認メール送信失敗", zap.String("to", to), zap.Error(err))
		}
	}()
}

func borrowMailBody(resp *BorrowTransactionResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\nYour borrow request has been recorded.\n\n", resp.BorrowerName)
	for _, it := range resp.Items {
		fmt.Fprintf(&b, "  - %s x %d\n", it.ComponentName, it.QuantityBorrowed)
	}
	fmt.Fprintf(&b, "\nExpected return date: %s\nProcessed by: %s\n", resp.ExpectedReturnDate, resp.PicName)
	return b.String()
}

func returnMailBody(borrowerName string, results []ReturnResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\nThe following return(s) have been recorded:\n\n", borrowerName)
	for _, r := range results {
		fmt.Fprintf(&b, "  - transaction %d, component %d: returned %d (remaining %d)\n",
			r.TransactionID, r.ComponentID, r.Quantity, r.Remaining)
	}
	return b.String()
}
