package scheduler

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/aryankumar/tilebatch/internal/executor"
)

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status  string `json:"status"`
	Workers int    `json:"workers"`
}

// healthCheck handles GET /healthz
func (s *Server) healthCheck(c *fiber.Ctx) error {
	if s.ctx.Err() != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(HealthResponse{Status: "stopping", Workers: s.config.Workers})
	}
	return c.JSON(HealthResponse{Status: "ok", Workers: s.config.Workers})
}

// getStats handles GET /v1/stats
func (s *Server) getStats(c *fiber.Ctx) error {
	return c.JSON(s.Stats())
}

// submitTask handles POST /v1/tasks
func (s *Server) submitTask(c *fiber.Ctx) error {
	var req executor.TaskRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid task request: "+err.Error())
	}
	if req.Func == "" {
		return fiber.NewError(fiber.StatusBadRequest, "task function is required")
	}

	status, err := s.Submit(req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(status)
}

// getTask handles GET /v1/tasks/:id, optionally waiting up to ?wait= for the
// task to finish
func (s *Server) getTask(c *fiber.Ctx) error {
	t, ok := s.lookup(c.Params("id"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "task not found")
	}

	if raw := c.Query("wait"); raw != "" {
		wait, err := time.ParseDuration(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid wait duration: "+raw)
		}
		wait = min(wait, s.config.MaxWait)

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-t.done:
		case <-timer.C:
		case <-s.ctx.Done():
		}
	}

	return c.JSON(t.status())
}

// cancelTask handles DELETE /v1/tasks/:id
func (s *Server) cancelTask(c *fiber.Ctx) error {
	t, ok := s.lookup(c.Params("id"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "task not found")
	}

	t.requestCancel()
	s.logger.Debug("task cancellation requested", "task", t.id)
	return c.JSON(t.status())
}
