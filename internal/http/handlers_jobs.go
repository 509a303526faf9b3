package http

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"dubhub/internal/credits"
	"dubhub/internal/jobs"
	"dubhub/internal/model"
)

// createJobHandler debits credits and starts a job of the requested type.
func (s *Server) createJobHandler(c *fiber.Ctx) error {
	userID, ok, err := requireUser(c)
	if !ok {
		return err
	}

	var req CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if !req.Type.Valid() {
		return badRequest(c, "type must be one of dubbing, subtitles, video_generation")
	}
	req.JobData.UserID = userID

	jobID, err := s.deps.Jobs.StartJob(c.Context(), req.Type, req.JobData, nil)
	if err != nil {
		var insufficient *model.InsufficientCreditsError
		switch {
		case errors.As(err, &insufficient):
			return c.Status(fiber.StatusPaymentRequired).JSON(ErrorResponse{
				Success: false,
				Code:    "INSUFFICIENT_CREDITS",
				Error:   "Not enough credits for this job",
				Details: fiber.Map{"balance": insufficient.Balance, "required": insufficient.Required},
			})
		case errors.Is(err, credits.ErrInsufficientCredits):
			return c.Status(fiber.StatusPaymentRequired).JSON(ErrorResponse{
				Success: false,
				Code:    "INSUFFICIENT_CREDITS",
				Error:   "Not enough credits for this job",
			})
		case errors.Is(err, jobs.ErrInvalidJobData), errors.Is(err, jobs.ErrUnknownJobType):
			return badRequest(c, err.Error())
		default:
			return s.internalError(c, err)
		}
	}

	job, err := s.deps.Reader.Find(c.Context(), userID, jobID)
	if err != nil {
		return s.internalError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(CreateJobResponse{Success: true, Job: job.Unified()})
}

// listJobsHandler returns every job of the caller across types, newest
// first, optionally filtered by a comma-separated status list.
func (s *Server) listJobsHandler(c *fiber.Ctx) error {
	userID, ok, err := requireUser(c)
	if !ok {
		return err
	}

	var statuses []model.Status
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := model.Status(strings.TrimSpace(part))
			if !st.Valid() {
				return badRequest(c, "invalid status value: "+part)
			}
			statuses = append(statuses, st)
		}
	}

	list, err := s.deps.Reader.List(c.Context(), userID, statuses...)
	if err != nil {
		return s.internalError(c, err)
	}
	if list == nil {
		list = []model.UnifiedJob{}
	}
	return c.JSON(ListJobsResponse{Success: true, Jobs: list})
}

func (s *Server) completedJobsHandler(c *fiber.Ctx) error {
	userID, ok, err := requireUser(c)
	if !ok {
		return err
	}
	list, err := s.deps.Reader.Completed(c.Context(), userID)
	if err != nil {
		return s.internalError(c, err)
	}
	if list == nil {
		list = []model.UnifiedJob{}
	}
	return c.JSON(ListJobsResponse{Success: true, Jobs: list})
}

func (s *Server) jobDetailHandler(c *fiber.Ctx) error {
	userID, ok, err := requireUser(c)
	if !ok {
		return err
	}
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid job id")
	}

	job, err := s.deps.Reader.Find(c.Context(), userID, jobID)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return notFound(c, "job not found")
		}
		return s.internalError(c, err)
	}
	return c.JSON(JobResponse{Success: true, Job: job.Unified()})
}

// cancelJobHandler cancels a job owned by the caller. Cancelling an already
// cancelled job succeeds; other terminal jobs conflict.
func (s *Server) cancelJobHandler(c *fiber.Ctx) error {
	userID, ok, err := requireUser(c)
	if !ok {
		return err
	}
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid job id")
	}

	if _, err := s.deps.Reader.Find(c.Context(), userID, jobID); err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return notFound(c, "job not found")
		}
		return s.internalError(c, err)
	}

	job, err := s.deps.Jobs.CancelJob(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobFinished) {
			return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
				Success: false,
				Code:    "JOB_FINISHED",
				Error:   "job already finished with status " + string(job.Status),
			})
		}
		return s.internalError(c, err)
	}
	return c.JSON(JobResponse{Success: true, Job: job.Unified()})
}

// syncJobsHandler runs a recovery pass scoped to the caller.
func (s *Server) syncJobsHandler(c *fiber.Ctx) error {
	userID, ok, err := requireUser(c)
	if !ok {
		return err
	}
	if s.deps.Recovery == nil {
		return unavailable(c, "RECOVERY_DISABLED", "recovery is not configured")
	}
	report := s.deps.Recovery.Run(c.Context(), &userID)
	return c.JSON(SyncResponse{Success: true, Report: report})
}
