package overdue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"CREDIT-backend/internal/platform/db"
)

// ErrSweepRunning は手動トリガがcron実行と重なったときに返る。
var ErrSweepRunning = errors.New("overdue sweep already running")

// Notifier は督促メールの送信口。
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
	SendToAdmins(ctx context.Context, subject, body string) error
}

// HardwareSignal はスイープ完了後の合図（ブザー等）。fire-and-forget。
type HardwareSignal interface {
	Success()
	Failure()
}

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// SweepReport は1回のスイープの集計結果。
type SweepReport struct {
	RanAt                time.Time `json:"ran_at"`
	Candidates           int       `json:"candidates"`
	SkippedNoRemaining   int       `json:"skipped_no_remaining"`
	Borrowers            int       `json:"borrowers"`
	NotifiedBorrowers    int       `json:"notified_borrowers"`
	NotifiedTransactions int       `json:"notified_transactions"`
	SendFailures         int       `json:"send_failures"`
}

type Service struct {
	db    *sql.DB
	store *Store
	clock Clock
	tz    *time.Location
	mail  Notifier
	hw    HardwareSignal
	log   *zap.Logger

	// 管理者向け通知の失敗もフラグ設定をブロックするか
	requireAdminAck bool

	mu sync.Mutex // 手動トリガとcronの同時実行防止
}

func NewService(conn *sql.DB, mail Notifier, hw HardwareSignal, tz *time.Location, requireAdminAck bool, log *zap.Logger) *Service {
	return &Service{
		db:              conn,
		store:           NewStore(conn),
		clock:           realClock{},
		tz:              tz,
		mail:            mail,
		hw:              hw,
		log:             log,
		requireAdminAck: requireAdminAck,
	}
}

// txItems は1トランザクション分の未返却アイテム。
type txItems struct {
	candidate
	items []overdueItem
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dateIn(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func (s *Service) today() time.Time {
	return dateOf(s.clock.Now().In(s.tz))
}

// ===== 日次スイープ =====

// RunSweep は未通知の期限超過トランザクションを借用者単位にまとめて督促する。
// 1借用者 = 1通。フラグは借用者向け送信が成功したグループにだけ立てる。
// グループごとに個別コミットするため、途中で失敗しても成功済みグループは確定する。
func (s *Service) RunSweep(ctx context.Context) (*SweepReport, error) {
	if !s.mu.TryLock() {
		return nil, ErrSweepRunning
	}
	defer s.mu.Unlock()

	today := s.today()
	report := &SweepReport{RanAt: s.clock.Now()}

	candidates, err := s.store.ListOverdueCandidates(ctx, today)
	if err != nil {
		s.signal(false)
		return nil, err
	}
	report.Candidates = len(candidates)

	type group struct {
		name  string
		email string
		txs   []txItems
	}
	groups := map[string]*group{} // 小文字email -> group
	var order []string

	for _, c := range candidates {
		items, err := s.store.OverdueItems(ctx, c.TransactionID)
		if err != nil {
			s.signal(false)
			return nil, err
		}
		// 全量返却済み/全部品削除済みのものは督促しない
		if len(items) == 0 {
			report.SkippedNoRemaining++
			continue
		}
		key := strings.ToLower(strings.TrimSpace(c.BorrowerEmail))
		if key == "" {
			report.SkippedNoRemaining++
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &group{name: c.BorrowerName, email: c.BorrowerEmail}
			groups[key] = g
			order = append(order, key)
		}
		g.txs = append(g.txs, txItems{candidate: c, items: items})
	}
	sort.Strings(order)
	report.Borrowers = len(order)

	for _, key := range order {
		g := groups[key]

		maxDays := 0
		earliest := time.Time{}
		for _, t := range g.txs {
			// DATE列のタイムゾーンに引きずられないよう、todayと同じロケーションで日付を再構築する
			due := dateIn(t.ExpectedReturnDate, today.Location())
			days := int(today.Sub(due).Hours() / 24)
			if days > maxDays {
				maxDays = days
			}
			if earliest.IsZero() || due.Before(earliest) {
				earliest = due
			}
		}

		subject := fmt.Sprintf("Overdue Reminder - %d day(s) overdue - CREDIT Inventory", maxDays)
		body := overdueMailBody(g.name, maxDays, earliest, g.txs)

		borrowerOK := true
		if err := s.mail.Send(ctx, g.email, subject, body); err != nil {
			borrowerOK = false
			report.SendFailures++
			s.log.Warn("督促メール送信失敗", zap.String("to", g.email), zap.Error(err))
		}

		adminOK := true
		if borrowerOK {
			adminSubject := fmt.Sprintf("Overdue Notice Sent - %s", g.name)
			if err := s.mail.SendToAdmins(ctx, adminSubject, body); err != nil {
				adminOK = false
				s.log.Warn("管理者向け督促通知失敗", zap.String("borrower", g.name), zap.Error(err))
			}
		}

		if !borrowerOK || (s.requireAdminAck && !adminOK) {
			continue
		}

		ids := make([]int64, 0, len(g.txs))
		for _, t := range g.txs {
			ids = append(ids, t.TransactionID)
		}
		err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
			return s.store.MarkNotified(ctx, tx, ids)
		})
		if err != nil {
			report.SendFailures++
			s.log.Error("督促済みフラグの更新失敗", zap.Int64s("transaction_ids", ids), zap.Error(err))
			continue
		}

		report.NotifiedBorrowers++
		report.NotifiedTransactions += len(ids)
	}

	s.log.Info("督促スイープ完了",
		zap.Int("candidates", report.Candidates),
		zap.Int("borrowers", report.Borrowers),
		zap.Int("notified_borrowers", report.NotifiedBorrowers),
		zap.Int("notified_transactions", report.NotifiedTransactions),
		zap.Int("send_failures", report.SendFailures))

	s.signal(report.SendFailures == 0)
	return report, nil
}

// ===== 週次リセット =====

// ResetOverdueFlags は未解決のまま期限超過が続いているトランザクションの
// 督促済みフラグを解除し、次回の日次スイープで再督促させる。
func (s *Service) ResetOverdueFlags(ctx context.Context) (int64, error) {
	n, err := s.store.ResetFlags(ctx, s.today())
	if err != nil {
		s.log.Error("督促フラグの週次リセット失敗", zap.Error(err))
		return 0, err
	}
	s.log.Info("督促フラグを週次リセット", zap.Int64("reset_count", n))
	return n, nil
}

func (s *Service) signal(ok bool) {
	if s.hw == nil {
		return
	}
	if ok {
		s.hw.Success()
	} else {
		s.hw.Failure()
	}
}

func overdueMailBody(borrowerName string, maxDays int, earliest time.Time, txs []txItems) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", borrowerName)
	fmt.Fprintf(&b, "The following borrowed items are overdue (up to %d day(s), earliest due date %s):\n\n",
		maxDays, earliest.Format("2006-01-02"))
	for _, t := range txs {
		fmt.Fprintf(&b, "Transaction %d (due %s):\n", t.TransactionID, dateOf(t.ExpectedReturnDate).Format("2006-01-02"))
		for _, it := range t.items {
			fmt.Fprintf(&b, "  - %s x %d\n", it.ComponentName, it.Remaining)
		}
	}
	b.WriteString("\nPlease return them as soon as possible.\n")
	return b.String()
}
