package overdue

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ===== テスト用のフェイク =====

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeNotifier struct {
	mu         sync.Mutex
	sent       map[string]string // to -> body
	adminSent  int
	failFor    map[string]bool
	adminFails bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: map[string]string{}, failFor: map[string]bool{}}
}

func (f *fakeNotifier) Send(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[to] {
		return errors.New("smtp down")
	}
	f.sent[to] = body
	return nil
}

func (f *fakeNotifier) SendToAdmins(ctx context.Context, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adminFails {
		return errors.New("admin smtp down")
	}
	f.adminSent++
	return nil
}

type fakeSignal struct {
	mu       sync.Mutex
	success  int
	failure  int
	signaled chan struct{}
}

func newFakeSignal() *fakeSignal { return &fakeSignal{signaled: make(chan struct{}, 8)} }

func (f *fakeSignal) Success() {
	f.mu.Lock()
	f.success++
	f.mu.Unlock()
	f.signaled <- struct{}{}
}

func (f *fakeSignal) Failure() {
	f.mu.Lock()
	f.failure++
	f.mu.Unlock()
	f.signaled <- struct{}{}
}

func newTestService(t *testing.T, requireAdminAck bool) (*Service, sqlmock.Sqlmock, *fakeNotifier, *fakeSignal) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	notifier := newFakeNotifier()
	signal := newFakeSignal()
	svc := NewService(conn, notifier, signal, time.UTC, requireAdminAck, zap.NewNop())
	svc.clock = fixedClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	return svc, mock, notifier, signal
}

func candidateRows(t *testing.T) *sqlmock.Rows {
	t.Helper()
	return sqlmock.NewRows([]string{"id", "expected_return_date", "name", "email"})
}

func itemRows(items ...[2]any) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"name", "remaining"})
	for _, it := range items {
		rows.AddRow(it[0], it[1])
	}
	return rows
}

func expectMarkNotified(mock sqlmock.Sqlmock, ids ...int64) {
	mock.ExpectBegin()
	vals := make([]driver.Value, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE borrow_transactions SET overdue_email_sent = 1 WHERE id IN`)).
		WithArgs(vals...).
		WillReturnResult(sqlmock.NewResult(0, int64(len(ids))))
	mock.ExpectCommit()
}

// ===== 日次スイープ =====

func TestRunSweepGroupsByBorrowerEmail(t *testing.T) {
	svc, mock, notifier, signal := newTestService(t, false)

	// 同一借用者（大文字小文字違い）の2トランザクション + 別借用者1つ
	mock.ExpectQuery(regexp.QuoteMeta(`t.overdue_email_sent = 0`)).
		WillReturnRows(candidateRows(t).
			AddRow(11, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), "ALICE", "Alice@example.com").
			AddRow(12, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), "ALICE", "alice@example.com").
			AddRow(20, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), "CAROL", "carol@example.com"))
	mock.ExpectQuery(regexp.QuoteMeta(`bi.transaction_id = ?`)).
		WithArgs(int64(11)).
		WillReturnRows(itemRows([2]any{"Resistor", 2}))
	mock.ExpectQuery(regexp.QuoteMeta(`bi.transaction_id = ?`)).
		WithArgs(int64(12)).
		WillReturnRows(itemRows([2]any{"LED", 1}))
	mock.ExpectQuery(regexp.QuoteMeta(`bi.transaction_id = ?`)).
		WithArgs(int64(20)).
		WillReturnRows(itemRows([2]any{"Sensor", 3}))

	// alice < carol（小文字キーでソート）
	expectMarkNotified(mock, 11, 12)
	expectMarkNotified(mock, 20)

	report, err := svc.RunSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, 2, report.Borrowers)
	assert.Equal(t, 2, report.NotifiedBorrowers)
	assert.Equal(t, 3, report.NotifiedTransactions)
	assert.Equal(t, 0, report.SendFailures)

	// 借用者1人につき1通（2トランザクション分が1通に集約される）
	require.Len(t, notifier.sent, 2)
	body := notifier.sent["Alice@example.com"]
	assert.Contains(t, body, "up to 5 day(s)")
	assert.Contains(t, body, "earliest due date 2026-03-05")
	assert.Contains(t, body, "Resistor x 2")
	assert.Contains(t, body, "LED x 1")

	<-signal.signaled
	assert.Equal(t, 1, signal.success)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSweepFlagOnlyOnSendSuccess(t *testing.T) {
	svc, mock, notifier, signal := newTestService(t, false)
	notifier.failFor["bob@example.com"] = true

	mock.ExpectQuery(regexp.QuoteMeta(`t.overdue_email_sent = 0`)).
		WillReturnRows(candidateRows(t).
			AddRow(11, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), "ALICE", "alice@example.com").
			AddRow(12, time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC), "BOB", "bob@example.com"))
	mock.ExpectQuery(regexp.QuoteMeta(`bi.transaction_id = ?`)).
		WithArgs(int64(11)).
		WillReturnRows(itemRows([2]any{"Resistor", 2}))
	mock.ExpectQuery(regexp.QuoteMeta(`bi.transaction_id = ?`)).
		WithArgs(int64(12)).
		WillReturnRows(itemRows([2]any{"LED", 1}))

	// aliceのグループだけフラグが立つ。bobは送信失敗なので次回も対象のまま。
	expectMarkNotified(mock, 11)

	report, err := svc.RunSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.NotifiedBorrowers)
	assert.Equal(t, 1, report.NotifiedTransactions)
	assert.Equal(t, 1, report.SendFailures)

	<-signal.signaled
	assert.Equal(t, 1, signal.failure)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSweepAdminAckPolicy(t *testing.T) {
	// require_admin_ack=true: 管理者向けが失敗したらフラグを立てない
	svc, mock, notifier, _ := newTestService(t, true)
	notifier.adminFails = true

	mock.ExpectQuery(regexp.QuoteMeta(`t.overdue_email_sent = 0`)).
		WillReturnRows(candidateRows(t).
			AddRow(11, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), "ALICE", "alice@example.com"))
	mock.ExpectQuery(regexp.QuoteMeta(`bi.transaction_id = ?`)).
		WithArgs(int64(11)).
		WillReturnRows(itemRows([2]any{"Resistor", 2}))
	// MarkNotified は呼ばれない

	report, err := svc.RunSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.NotifiedBorrowers)
	require.Len(t, notifier.sent, 1) // 借用者向けは送信済み
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSweepAdminFailureDoesNotBlockFlagByDefault(t *testing.T) {
	svc, mock, notifier, _ := newTestService(t, false)
	notifier.adminFails = true

	mock.ExpectQuery(regexp.QuoteMeta(`t.overdue_email_sent = 0`)).
		WillReturnRows(candidateRows(t).
			AddRow(11, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), "ALICE", "alice@example.com"))
	mock.ExpectQuery(regexp.QuoteMeta(`bi.transaction_id = ?`)).
		WithArgs(int64(11)).
		WillReturnRows(itemRows([2]any{"Resistor", 2}))
	expectMarkNotified(mock, 11)

	report, err := svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.NotifiedBorrowers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSweepSkipsFullyReturnedTransactions(t *testing.T) {
	svc, mock, notifier, _ := newTestService(t, false)

	mock.ExpectQuery(regexp.QuoteMeta(`t.overdue_email_sent = 0`)).
		WillReturnRows(candidateRows(t).
			AddRow(11, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), "ALICE", "alice@example.com"))
	// 未返却残なし（全返却済み or 部品が論理削除済み）
	mock.ExpectQuery(regexp.QuoteMeta(`bi.transaction_id = ?`)).
		WithArgs(int64(11)).
		WillReturnRows(itemRows())

	report, err := svc.RunSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.SkippedNoRemaining)
	assert.Equal(t, 0, report.Borrowers)
	assert.Empty(t, notifier.sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSweepSingleFlight(t *testing.T) {
	svc, _, _, _ := newTestService(t, false)

	svc.mu.Lock()
	defer svc.mu.Unlock()

	_, err := svc.RunSweep(context.Background())
	assert.ErrorIs(t, err, ErrSweepRunning)
}

// ===== 週次リセット =====

func TestResetOverdueFlags(t *testing.T) {
	svc, mock, _, _ := newTestService(t, false)

	mock.ExpectExec(regexp.QuoteMeta(`SET t.overdue_email_sent = 0`)).
		WithArgs("2026-03-10").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := svc.ResetOverdueFlags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
