package handlers

import (
	"net/http"

	"stockledger/internal/common"
	"stockledger/internal/jobs/background"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type JobHandlers struct {
	scheduler *background.JobScheduler
	logger    *zap.Logger
}

func NewJobHandlers(scheduler *background.JobScheduler, logger *zap.Logger) *JobHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobHandlers{scheduler: scheduler, logger: logger}
}

// ListJobs handles GET /v1/admin/jobs
func (h *JobHandlers) ListJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"jobs": h.scheduler.GetJobStatus()})
}

// RunJob handles POST /v1/admin/jobs/:name/run. The job runs asynchronously on the scheduler.
func (h *JobHandlers) RunJob(c echo.Context) error {
	name := c.Param("name")
	if err := h.scheduler.RunNow(name); err != nil {
		return common.SendNotFoundError(c, "Job "+name)
	}
	h.logger.Info("job triggered manually",
		zap.String("job", name),
		zap.String("actor", actorFrom(c)))
	return c.JSON(http.StatusAccepted, map[string]string{
		"status":  "triggered",
		"job":     name,
		"message": "Job queued for immediate execution",
	})
}
