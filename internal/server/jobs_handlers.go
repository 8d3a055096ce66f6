package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"translator/internal/controller"
	"translator/internal/segment"
	"translator/internal/store"
)

// SubmitJobHandler records and queues a translation job
func (s *Server) SubmitJobHandler(c *gin.Context) {
	var req controller.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	job, err := s.jc.Submit(c.Request.Context(), req)
	switch {
	case errors.Is(err, segment.ErrEmptyContent), errors.Is(err, controller.ErrModelRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		log.Error().Err(err).Msg("Failed to submit job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit job"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

// GetStatusHandler returns the job's status record
func (s *Server) GetStatusHandler(c *gin.Context) {
	status, err := s.jc.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get job status")
		return
	}

	c.JSON(http.StatusOK, status)
}

// GetPartialsHandler returns the batches translated so far
func (s *Server) GetPartialsHandler(c *gin.Context) {
	rec, err := s.jc.GetPartialResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get partial results")
		return
	}

	c.JSON(http.StatusOK, rec)
}

// GetJobHandler returns a specific job by ID
func (s *Server) GetJobHandler(c *gin.Context) {
	job, err := s.jc.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get job")
		return
	}

	c.JSON(http.StatusOK, job)
}

// QueueStatsHandler reports job counts, lane depths and worker usage
func (s *Server) QueueStatsHandler(c *gin.Context) {
	stats, err := s.jc.QueueStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get queue stats: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func respondError(c *gin.Context, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	log.Error().Err(err).Str("jobId", c.Param("id")).Msg(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
