package server

import (
	"crypto/subtle"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/ojhub/realtime/src/service"
	"github.com/ojhub/realtime/src/types"
)

// PushTokenHeader carries the shared secret of the judge callbacks.
const PushTokenHeader = "X-Push-Token"

func (s *Server) registerRoutes() {
	s.app.Get("/ws/info", s.handleInfo)

	push := s.app.Group("/push", s.requireToken)
	push.Post("/submission", s.handlePushSubmission)
	push.Post("/config", s.handlePushConfig)
	push.Post("/flowchart", s.handlePushFlowchart)
}

func (s *Server) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoints": Endpoints,
		"clients":   s.svc.Hub().ClientCount(),
		"topics":    len(s.svc.GetTopics()),
		"rooms":     len(s.svc.GetRooms()),
	})
}

func (s *Server) requireToken(c fiber.Ctx) error {
	if s.cfg.PushToken == "" {
		return c.Next()
	}
	got := c.Get(PushTokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.PushToken)) != 1 {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "invalid push token")
	}
	return c.Next()
}

func (s *Server) handlePushSubmission(c fiber.Ctx) error {
	var u types.SubmissionUpdate
	if err := c.Bind().JSON(&u); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_body", err.Error())
	}
	if err := s.svc.PublishSubmission(u); err != nil {
		return s.publishError(c, err)
	}
	s.logger.Info().
		Str("submission_id", u.SubmissionID).
		Str("status", string(u.Status)).
		Str("result", u.Result.String()).
		Msg("submission update pushed")
	return accepted(c, service.SubmissionTopic(u.SubmissionID))
}

func (s *Server) handlePushConfig(c fiber.Ctx) error {
	var u types.ConfigUpdate
	if err := c.Bind().JSON(&u); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_body", err.Error())
	}
	if err := s.svc.PublishConfig(u); err != nil {
		return s.publishError(c, err)
	}
	s.logger.Info().Str("key", u.Key).Msg("config update pushed")
	return accepted(c, service.ConfigTopic)
}

func (s *Server) handlePushFlowchart(c fiber.Ctx) error {
	var ev types.FlowchartEvaluation
	if err := c.Bind().JSON(&ev); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_body", err.Error())
	}
	if err := s.svc.PublishFlowchart(ev); err != nil {
		return s.publishError(c, err)
	}
	s.logger.Info().Str("submission_id", ev.SubmissionID).Bool("failed", ev.Error != "").Msg("flowchart evaluation pushed")
	return accepted(c, service.FlowchartTopic(ev.SubmissionID))
}

func (s *Server) publishError(c fiber.Ctx, err error) error {
	if errors.Is(err, service.ErrMissingSubmissionID) || errors.Is(err, service.ErrMissingKey) {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_body", err.Error())
	}
	s.logger.Error().Err(err).Str("path", c.Path()).Msg("publish failed")
	return errorJSON(c, fiber.StatusInternalServerError, "publish_failed", err.Error())
}

func accepted(c fiber.Ctx, topic string) error {
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"published": true, "topic": topic})
}

func errorJSON(c fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": msg})
}
