package extractionmodule

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	ingesterrors "github.com/mantonx/dicomingest/internal/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers the extraction module routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/extraction")
	{
		api.GET("/jobs", m.listJobs)
		api.POST("/jobs", m.startJob)

		api.GET("/jobs/:id", m.getJob)
		api.GET("/jobs/:id/metrics", m.getJobMetrics)
		api.POST("/jobs/:id/pause", m.pauseJob)
		api.POST("/jobs/:id/resume", m.resumeJob)
		api.POST("/jobs/:id/cancel", m.cancelJob)
		api.PATCH("/jobs/:id/adaptive", m.updateAdaptive)
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})))
}

// listJobs returns every job
func (m *Module) listJobs(c *gin.Context) {
	jobs := m.Jobs()
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, job.View())
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  views,
		"count": len(views),
	})
}

// startJob starts a job from an extraction config body. Fields left out
// of the body take the configured extraction defaults.
func (m *Module) startJob(c *gin.Context) {
	cfg := m.cfg.Extraction
	cfg.Resume = nil
	if err := c.ShouldBindJSON(&cfg); err != nil {
		ingesterrors.HandleValidationError(c, "Invalid extraction config: "+err.Error(), "body")
		return
	}

	// the job outlives the request
	job, err := m.StartJob(context.WithoutCancel(c.Request.Context()), cfg)
	if err != nil {
		ingesterrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, job.View())
}

// getJob returns the status of a specific job
func (m *Module) getJob(c *gin.Context) {
	job, ok := m.Job(c.Param("id"))
	if !ok {
		ingesterrors.HandleNotFound(c, "Extraction job", c.Param("id"))
		return
	}

	c.JSON(http.StatusOK, job.View())
}

// getJobMetrics returns the writer metrics of a job
func (m *Module) getJobMetrics(c *gin.Context) {
	job, ok := m.Job(c.Param("id"))
	if !ok {
		ingesterrors.HandleNotFound(c, "Extraction job", c.Param("id"))
		return
	}

	c.JSON(http.StatusOK, job.Metrics())
}

func (m *Module) pauseJob(c *gin.Context) {
	if err := m.PauseJob(c.Param("id")); err != nil {
		ingesterrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Job paused",
	})
}

func (m *Module) resumeJob(c *gin.Context) {
	if err := m.ResumeJob(c.Param("id")); err != nil {
		ingesterrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Job resumed",
	})
}

func (m *Module) cancelJob(c *gin.Context) {
	if err := m.CancelJob(c.Param("id")); err != nil {
		ingesterrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Job cancellation requested",
	})
}

// updateAdaptive patches adaptive batching on a paused job. Fields left out
// of the body keep their current values.
func (m *Module) updateAdaptive(c *gin.Context) {
	job, ok := m.Job(c.Param("id"))
	if !ok {
		ingesterrors.HandleNotFound(c, "Extraction job", c.Param("id"))
		return
	}

	settings := job.pipeline.Config().Adaptive()
	if err := c.ShouldBindJSON(&settings); err != nil {
		ingesterrors.HandleValidationError(c, "Invalid adaptive settings: "+err.Error(), "body")
		return
	}

	if err := m.UpdateAdaptive(job.ID, settings); err != nil {
		ingesterrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, job.View())
}
