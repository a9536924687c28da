package overdue

import (
	"context"
	"fmt"
	"time"

	cron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"CREDIT-backend/internal/platform/db"
)

// Scheduler は日次督促と週次フラグリセットのcronを持つ。
// 起動・停止はエントリポイントが所有する。
type Scheduler struct {
	cron   *cron.Cron
	svc    *Service
	tz     *time.Location
	daily  cron.EntryID
	weekly cron.EntryID
	log    *zap.Logger
}

func NewScheduler(svc *Service, cfg db.OverdueConfig, tz *time.Location, log *zap.Logger) (*Scheduler, error) {
	cronLog := cron.PrintfLogger(zap.NewStdLog(log.Named("cron")))
	c := cron.New(
		cron.WithLocation(tz),
		cron.WithChain(
			cron.SkipIfStillRunning(cronLog),
			cron.Recover(cronLog),
		),
	)

	s := &Scheduler{cron: c, svc: svc, tz: tz, log: log}

	var err error
	s.daily, err = c.AddFunc(cfg.DailySpec, s.runDaily)
	if err != nil {
		return nil, fmt.Errorf("invalid daily cron spec %q: %w", cfg.DailySpec, err)
	}
	s.weekly, err = c.AddFunc(cfg.WeeklySpec, s.runWeekly)
	if err != nil {
		return nil, fmt.Errorf("invalid weekly cron spec %q: %w", cfg.WeeklySpec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("督促スケジューラ起動",
		zap.String("timezone", s.tz.String()),
		zap.Time("next_daily", s.cron.Entry(s.daily).Next),
		zap.Time("next_weekly", s.cron.Entry(s.weekly).Next))
}

// Stop は実行中ジョブの完了を待ってから返る。
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("督促スケジューラ停止")
}

func (s *Scheduler) runDaily() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if _, err := s.svc.RunSweep(ctx); err != nil {
		s.log.Error("日次督促スイープ失敗", zap.Error(err))
	}
}

func (s *Scheduler) runWeekly() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.svc.ResetOverdueFlags(ctx); err != nil {
		s.log.Error("週次フラグリセット失敗", zap.Error(err))
	}
}

// JobStatus はscheduler-status応答の1ジョブ分。
type JobStatus struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
	PrevRun time.Time `json:"prev_run,omitempty"`
}

type SchedulerStatus struct {
	Running  bool        `json:"running"`
	Timezone string      `json:"timezone"`
	Jobs     []JobStatus `json:"jobs"`
}

func (s *Scheduler) Status() SchedulerStatus {
	d := s.cron.Entry(s.daily)
	w := s.cron.Entry(s.weekly)
	return SchedulerStatus{
		Running:  !d.Next.IsZero(),
		Timezone: s.tz.String(),
		Jobs: []JobStatus{
			{Name: "daily_overdue_sweep", NextRun: d.Next, PrevRun: d.Prev},
			{Name: "weekly_flag_reset", NextRun: w.Next, PrevRun: w.Prev},
		},
	}
}
