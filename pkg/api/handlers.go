package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storyweave/storyweave/pkg/faults"
	"github.com/storyweave/storyweave/pkg/models"
)

// turnRequest is the POST /api/v1/turns body.
type turnRequest struct {
	SessionID   string         `json:"sessionId" binding:"required"`
	Input       string         `json:"input" binding:"required"`
	Channel     string         `json:"channel"`
	Locale      string         `json:"locale"`
	DeviceHints map[string]any `json:"deviceContext"`
}

// handleTurn runs one conversational turn through the orchestrator.
func (s *Server) handleTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid_request",
			"message": "sessionId and input are required",
		})
		return
	}

	turn := models.TurnContext{
		UserID:      c.GetString(contextKeyUserID),
		SessionID:   req.SessionID,
		Channel:     models.Channel(req.Channel),
		DeviceHints: req.DeviceHints,
		Locale:      req.Locale,
		UserInput:   req.Input,
		Timestamp:   time.Now(),
	}

	result, err := s.orch.HandleTurn(c.Request.Context(), turn, c.GetHeader("User-Agent"), c.GetBool(contextKeyTestMode))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}

	// Async story turns answer 202 with the job handle and subscribe filter.
	if result.Job != nil {
		c.JSON(http.StatusAccepted, gin.H{
			"success":          true,
			"jobId":            result.Job.JobID,
			"status":           result.Job.Status,
			"realtimeChannel":  result.Job.RealtimeChannel,
			"subscribePattern": result.Job.SubscribePattern,
			"response":         result.Response,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"result":   result,
		"response": result.Response,
	})
}

// handleJobStatus answers GET /api/v1/jobs/:id for the job's owner.
// Story-generation jobs include the per-asset breakdown.
func (s *Server) handleJobStatus(c *gin.Context) {
	job, err := s.jobs.GetJobStatus(c.Request.Context(), c.Param("id"), c.GetString(contextKeyUserID))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}

	resp := gin.H{"success": true, "job": job}
	if storyID := jobStoryID(job); storyID != "" {
		assets, err := s.jobs.StoryAssets(c.Request.Context(), storyID)
		if err != nil {
			respondError(c, s.logger, err)
			return
		}
		resp["storyId"] = storyID
		resp["assets"] = assets
	}
	c.JSON(http.StatusOK, resp)
}

// jobStoryID extracts the story id a job is producing, if any. The result
// payload wins over the request since agents may re-home a job.
func jobStoryID(job *models.AsyncJob) string {
	for _, payload := range []map[string]any{job.Result, job.Request} {
		if id, ok := payload["storyId"].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

// handleJobList answers GET /api/v1/jobs with the caller's recent jobs.
func (s *Server) handleJobList(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	jobs, err := s.jobs.ListJobs(c.Request.Context(), c.GetString(contextKeyUserID), limit)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "jobs": jobs})
}

// jobUpdateRequest is the agent callback body for async job transitions.
type jobUpdateRequest struct {
	Status models.AsyncJobStatus `json:"status" binding:"required"`
	Result map[string]any        `json:"result"`
	Error  string                `json:"error"`
}

// handleJobUpdate records an agent-reported job transition.
func (s *Server) handleJobUpdate(c *gin.Context) {
	var req jobUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}
	if err := s.jobs.UpdateJobStatus(c.Request.Context(), c.Param("id"), req.Status, req.Result, req.Error); err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// assetCompleteRequest is the content agent's asset result callback.
type assetCompleteRequest struct {
	Status models.AssetJobStatus `json:"status" binding:"required"`
	URL    string                `json:"url"`
	Error  string                `json:"error"`
}

// handleAssetComplete records an asset outcome and emits the story's
// change-stream event.
func (s *Server) handleAssetComplete(c *gin.Context) {
	var req assetCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}
	if req.Status != models.AssetReady && req.Status != models.AssetFailed {
		respondError(c, s.logger, faults.New(faults.KindInternal, "asset callback must be terminal"))
		return
	}
	if err := s.jobs.CompleteAssetJob(c.Request.Context(), c.Param("id"), req.Status, req.URL, req.Error); err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
