package overdue

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc   *Service
	sched *Scheduler
}

func RegisterRoutes(r gin.IRoutes, svc *Service, sched *Scheduler) {
	h := &Handler{svc: svc, sched: sched}
	r.POST("/overdue/check-now", h.CheckNow)
	r.GET("/overdue/scheduler-status", h.SchedulerStatus)
}

// CheckNow は日次スイープを即時実行する（運用向けの手動トリガ）。
func (h *Handler) CheckNow(c *gin.Context) {
	report, err := h.svc.RunSweep(c.Request.Context())
	if err != nil {
		if errors.Is(err, ErrSweepRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": gin.H{"code": "CONFLICT", "message": err.Error()}})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "INTERNAL", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) SchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.sched.Status())
}
