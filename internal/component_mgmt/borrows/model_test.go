package borrows

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestEffectiveStatus(t *testing.T) {
	due := day(2026, 3, 10)

	tests := []struct {
		name   string
		stored string
		today  time.Time
		want   string
	}{
		{"active before due", StatusActive, day(2026, 3, 9), StatusActive},
		{"active on due date", StatusActive, day(2026, 3, 10), StatusActive},
		{"overdue after due", StatusActive, day(2026, 3, 11), StatusOverdue},
		{"completed stays completed", StatusCompleted, day(2026, 3, 11), StatusCompleted},
		{"completed before due", StatusCompleted, day(2026, 3, 1), StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EffectiveStatus(tt.stored, due, tt.today))
		})
	}
}

func TestEffectiveStatusIgnoresTimeOfDay(t *testing.T) {
	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	// 期限日の23:59はまだ期限内
	today := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, StatusActive, EffectiveStatus(StatusActive, due, today))
}

func TestDateOf(t *testing.T) {
	loc, _ := time.LoadLocation("Asia/Kuala_Lumpur")
	got := DateOf(time.Date(2026, 3, 10, 18, 45, 12, 999, loc))
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, loc), got)
}
