package web

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-assistant/pkg/apperr"
	"github.com/teslashibe/go-assistant/pkg/conversation"
	"github.com/teslashibe/go-assistant/pkg/hub"
	"github.com/teslashibe/go-assistant/pkg/prefs"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MessageRequest is the body of POST /api/messages.
type MessageRequest struct {
	Text string `json:"text"`
}

// MuteRequest is the body of POST /api/mute.
type MuteRequest struct {
	Muted bool `json:"muted"`
}

// LifecycleRequest is the body of POST /api/lifecycle.
type LifecycleRequest struct {
	State string `json:"state"`
}

// Lifecycle states reported by the host.
const (
	LifecycleBackground = "background"
	LifecycleActive     = "active"
)

// OnboardingResponse describes the launch screen.
type OnboardingResponse struct {
	OnboardingCompleted bool   `json:"onboarding_completed"`
	Muted               bool   `json:"muted"`
	InitialScreen       string `json:"initial_screen"`
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrBusy),
		errors.Is(err, apperr.ErrAlreadyRecording),
		errors.Is(err, apperr.ErrNoActiveSession):
		return fiber.StatusConflict
	case errors.Is(err, apperr.ErrPermissionDenied):
		return fiber.StatusForbidden
	case errors.Is(err, apperr.ErrDevice):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrInvalidAudio):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, apperr.ErrAuth),
		errors.Is(err, apperr.ErrQuotaExceeded),
		errors.Is(err, apperr.ErrRateLimited),
		errors.Is(err, apperr.ErrInvalidEndpoint),
		errors.Is(err, apperr.ErrBackend):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(ErrorResponse{
		Code:    apperr.Code(err),
		Message: apperr.UserMessage(err),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Code: "invalid_request", Message: msg})
}

// handleError renders errors returned by handlers and middleware.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(ErrorResponse{
			Code:    strings.ReplaceAll(strings.ToLower(fe.Message), " ", "_"),
			Message: fe.Message,
		})
	}
	if apperr.KindOf(err) == nil {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return writeError(c, err)
}

// accepted answers 202 with the state at the moment the turn was started.
func (s *Server) accepted(c *fiber.Ctx) error {
	return c.Status(fiber.StatusAccepted).JSON(s.assistant.Snapshot())
}

// handleState returns the current pipeline snapshot.
func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.assistant.Snapshot())
}

// handleHistory returns the conversation so far.
func (s *Server) handleHistory(c *fiber.Ctx) error {
	return c.JSON(s.assistant.History())
}

func (s *Server) handleStartRecording(c *fiber.Ctx) error {
	if err := s.assistant.StartRecording(s.ctx); err != nil {
		return writeError(c, err)
	}
	return c.JSON(s.assistant.Snapshot())
}

// handleStopRecording ends the capture and finishes the turn in the
// background.
func (s *Server) handleStopRecording(c *fiber.Ctx) error {
	if !s.assistant.Snapshot().Recording() {
		return writeError(c, apperr.New(apperr.ErrNoActiveSession, "web.stop_recording", ""))
	}
	s.runTurn("stop_recording", func(ctx context.Context) error {
		_, err := s.assistant.StopRecording(ctx)
		return err
	})
	return s.accepted(c)
}

func (s *Server) handleSendText(c *fiber.Ctx) error {
	var req MessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body must be {\"text\": string}")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return c.SendStatus(fiber.StatusNoContent)
	}
	if err := s.checkIdle("web.send_text"); err != nil {
		return writeError(c, err)
	}

	s.runTurn("send_text", func(ctx context.Context) error {
		_, err := s.assistant.SendText(ctx, text)
		return err
	})
	return s.accepted(c)
}

func (s *Server) handleRegenerate(c *fiber.Ctx) error {
	if !s.hasTurn(conversation.RoleUser) {
		return writeError(c, apperr.New(apperr.ErrNoActiveSession, "web.regenerate", "Nothing to regenerate yet."))
	}
	if err := s.checkIdle("web.regenerate"); err != nil {
		return writeError(c, err)
	}

	s.runTurn("regenerate", func(ctx context.Context) error {
		_, err := s.assistant.Regenerate(ctx)
		return err
	})
	return s.accepted(c)
}

func (s *Server) handleReplay(c *fiber.Ctx) error {
	if !s.hasTurn(conversation.RoleAssistant) {
		return writeError(c, apperr.New(apperr.ErrNoActiveSession, "web.replay", "Nothing to replay yet."))
	}
	if err := s.checkIdle("web.replay"); err != nil {
		return writeError(c, err)
	}

	s.runTurn("replay", s.assistant.Replay)
	return s.accepted(c)
}

// checkIdle rejects a new turn while one is in progress, so the caller sees
// the conflict instead of a 202 for a turn that will be refused.
func (s *Server) checkIdle(op string) error {
	if state := s.assistant.Snapshot().State; state.Busy() {
		return apperr.New(apperr.ErrBusy, op, "Please wait, the assistant is "+state.String()+".")
	}
	return nil
}

func (s *Server) hasTurn(role conversation.Role) bool {
	for _, t := range s.assistant.History() {
		if t.Role == role {
			return true
		}
	}
	return false
}

// handleMute toggles speech and persists the choice.
func (s *Server) handleMute(c *fiber.Ctx) error {
	var req MuteRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body must be {\"muted\": bool}")
	}

	s.assistant.SetMuted(req.Muted)
	if s.prefs != nil {
		if err := s.prefs.SetMuted(req.Muted); err != nil {
			s.logger.Warn("persist mute failed", "error", err)
		}
	}
	return c.JSON(s.assistant.Snapshot())
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	s.assistant.Reset()
	return c.JSON(s.assistant.Snapshot())
}

// handleLifecycle receives host lifecycle changes. Going to the background
// stops speech.
func (s *Server) handleLifecycle(c *fiber.Ctx) error {
	var req LifecycleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body must be {\"state\": string}")
	}

	switch req.State {
	case LifecycleBackground:
		s.assistant.Background()
	case LifecycleActive:
	default:
		return badRequest(c, "state must be \"background\" or \"active\"")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) onboarding() OnboardingResponse {
	if s.prefs == nil {
		return OnboardingResponse{OnboardingCompleted: true, InitialScreen: prefs.ScreenHome}
	}
	p := s.prefs.Get()
	return OnboardingResponse{
		OnboardingCompleted: p.OnboardingCompleted,
		Muted:               p.Muted,
		InitialScreen:       s.prefs.InitialScreen(),
	}
}

func (s *Server) handleOnboarding(c *fiber.Ctx) error {
	return c.JSON(s.onboarding())
}

func (s *Server) handleCompleteOnboarding(c *fiber.Ctx) error {
	if s.prefs != nil {
		if err := s.prefs.CompleteOnboarding(); err != nil {
			return err
		}
	}
	return c.JSON(s.onboarding())
}

// handleStateWS sends the current snapshot, then every published one.
func (s *Server) handleStateWS(c *websocket.Conn) {
	initial, err := hub.NewJSONMessage(s.assistant.Snapshot())
	if err != nil {
		s.logger.Warn("encode snapshot failed", "error", err)
		return
	}
	hub.NewClient(s.stateHub, c, initial).Run()
}
