package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/history"
)

const defaultHistoryLimit = 50

func jobKeyParam(c *gin.Context) domain.JobKey {
	return domain.NewJobKeyWithGroup(c.Param("group"), c.Param("name"))
}

func triggerKeyParam(c *gin.Context) domain.TriggerKey {
	return domain.NewTriggerKeyWithGroup(c.Param("group"), c.Param("name"))
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"state":  s.sched.State().String(),
	})
}

// handleSchedulerStatus handles GET /api/v1/scheduler.
func (s *Server) handleSchedulerStatus(c *gin.Context) {
	jobs := s.sched.GetJobKeys(domain.AnyGroup())
	triggers := s.sched.GetTriggerKeys(domain.AnyGroup())

	c.JSON(http.StatusOK, SchedulerStatusResponse{
		InstanceName:  s.sched.InstanceName(),
		InstanceID:    s.sched.InstanceID(),
		State:         s.sched.State().String(),
		JobCount:      len(jobs),
		TriggerCount:  len(triggers),
		CalendarCount: len(s.sched.GetCalendarNames()),
		Executing:     len(s.sched.GetCurrentlyExecutingJobs()),
	})
}

// handleStandby handles POST /api/v1/scheduler/standby.
func (s *Server) handleStandby(c *gin.Context) {
	s.sched.Standby()
	c.JSON(http.StatusOK, gin.H{"state": s.sched.State().String()})
}

// handleStart handles POST /api/v1/scheduler/start.
func (s *Server) handleStart(c *gin.Context) {
	if err := s.sched.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.sched.State().String()})
}

// handleListJobs handles GET /api/v1/jobs.
func (s *Server) handleListJobs(c *gin.Context) {
	matcher := domain.AnyGroup()
	if group := c.Query("group"); group != "" {
		matcher = domain.GroupEquals(group)
	}

	keys := s.sched.GetJobKeys(matcher)
	jobs := make([]*JobResponse, 0, len(keys))
	for _, key := range keys {
		if resp := s.jobResponse(key); resp != nil {
			jobs = append(jobs, resp)
		}
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": len(jobs)})
}

// handleGetJob handles GET /api/v1/jobs/:group/:name.
func (s *Server) handleGetJob(c *gin.Context) {
	resp := s.jobResponse(jobKeyParam(c))
	if resp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) jobResponse(key domain.JobKey) *JobResponse {
	detail := s.sched.GetJobDetail(key)
	if detail == nil {
		return nil
	}

	triggers := s.sched.GetTriggersOfJob(key)
	resp := &JobResponse{
		Group:                         detail.Key.Group,
		Name:                          detail.Key.Name,
		Type:                          detail.Type,
		Description:                   detail.Description,
		Durable:                       detail.Durable,
		ConcurrentExecutionDisallowed: detail.ConcurrentExecutionDisallowed,
		JobData:                       detail.JobData,
		Triggers:                      make([]*TriggerResponse, 0, len(triggers)),
	}
	for _, trig := range triggers {
		resp.Triggers = append(resp.Triggers,
			triggerResponse(trig, s.sched.GetTriggerState(trig.Key())))
	}
	return resp
}

// handleDeleteJob handles DELETE /api/v1/jobs/:group/:name.
func (s *Server) handleDeleteJob(c *gin.Context) {
	if !s.sched.DeleteJob(jobKeyParam(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// handlePauseJob handles POST /api/v1/jobs/:group/:name/pause.
func (s *Server) handlePauseJob(c *gin.Context) {
	key := jobKeyParam(c)
	if !s.sched.CheckJobExists(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	s.sched.PauseJob(key)
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// handleResumeJob handles POST /api/v1/jobs/:group/:name/resume.
func (s *Server) handleResumeJob(c *gin.Context) {
	key := jobKeyParam(c)
	if !s.sched.CheckJobExists(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	s.sched.ResumeJob(key)
	c.JSON(http.StatusOK, gin.H{"resumed": true})
}

// handleRunJob handles POST /api/v1/jobs/:group/:name/run.
func (s *Server) handleRunJob(c *gin.Context) {
	var req RunJobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
	}

	if err := s.sched.TriggerJob(jobKeyParam(c), req.JobData); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"triggered": true})
}

// handleListTriggers handles GET /api/v1/triggers.
func (s *Server) handleListTriggers(c *gin.Context) {
	matcher := domain.AnyGroup()
	if group := c.Query("group"); group != "" {
		matcher = domain.GroupEquals(group)
	}

	keys := s.sched.GetTriggerKeys(matcher)
	triggers := make([]*TriggerResponse, 0, len(keys))
	for _, key := range keys {
		if trig := s.sched.GetTrigger(key); trig != nil {
			triggers = append(triggers, triggerResponse(trig, s.sched.GetTriggerState(key)))
		}
	}

	c.JSON(http.StatusOK, gin.H{"triggers": triggers, "total": len(triggers)})
}

// handleGetTrigger handles GET /api/v1/triggers/:group/:name.
func (s *Server) handleGetTrigger(c *gin.Context) {
	key := triggerKeyParam(c)
	trig := s.sched.GetTrigger(key)
	if trig == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "trigger not found"})
		return
	}
	c.JSON(http.StatusOK, triggerResponse(trig, s.sched.GetTriggerState(key)))
}

// handleUnscheduleTrigger handles DELETE /api/v1/triggers/:group/:name.
func (s *Server) handleUnscheduleTrigger(c *gin.Context) {
	if !s.sched.UnscheduleJob(triggerKeyParam(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trigger not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unscheduled": true})
}

// handlePauseTrigger handles POST /api/v1/triggers/:group/:name/pause.
func (s *Server) handlePauseTrigger(c *gin.Context) {
	key := triggerKeyParam(c)
	if !s.sched.CheckTriggerExists(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trigger not found"})
		return
	}
	s.sched.PauseTrigger(key)
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// handleResumeTrigger handles POST /api/v1/triggers/:group/:name/resume.
func (s *Server) handleResumeTrigger(c *gin.Context) {
	key := triggerKeyParam(c)
	if !s.sched.CheckTriggerExists(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trigger not found"})
		return
	}
	s.sched.ResumeTrigger(key)
	c.JSON(http.StatusOK, gin.H{"resumed": true})
}

// handleListCalendars handles GET /api/v1/calendars.
func (s *Server) handleListCalendars(c *gin.Context) {
	names := s.sched.GetCalendarNames()
	c.JSON(http.StatusOK, gin.H{"calendars": names, "total": len(names)})
}

// handleExecuting handles GET /api/v1/executing.
func (s *Server) handleExecuting(c *gin.Context) {
	running := s.sched.GetCurrentlyExecutingJobs()
	out := make([]*ExecutingResponse, 0, len(running))
	for _, jec := range running {
		out = append(out, &ExecutingResponse{
			JobGroup:       jec.JobDetail.Key.Group,
			JobName:        jec.JobDetail.Key.Name,
			TriggerGroup:   jec.Trigger.Key().Group,
			TriggerName:    jec.Trigger.Key().Name,
			FireInstanceID: jec.FireInstanceID,
			FireTime:       jec.FireTime,
			RefireCount:    jec.RefireCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"executing": out, "total": len(out)})
}

// handleHistory handles GET /api/v1/history.
func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution history is not enabled"})
		return
	}

	filter := history.ListFilter{
		JobGroup: c.Query("job_group"),
		JobName:  c.Query("job_name"),
		Status:   c.Query("status"),
		Limit:    defaultHistoryLimit,
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filter.Since = &since
	}

	records, err := s.history.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list execution history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "total": len(records)})
}
