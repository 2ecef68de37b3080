package server

import (
	"crypto/subtle"
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-callbridge/pkg/bridge"
	"github.com/teslashibe/go-callbridge/pkg/voice"
)

// controlAuth guards /api: loopback callers only (unless disabled), and a
// bearer token that must be configured.
func (s *Server) controlAuth(c *fiber.Ctx) error {
	if s.cfg.Control.LocalhostOnly && !isLocal(c.IP()) {
		s.logger.Warn("rejected control request", "ip", c.IP(), "path", c.Path())
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "forbidden: control endpoint is localhost-only",
		})
	}
	if s.cfg.Control.Token == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "control api token is not configured",
		})
	}

	want := "Bearer " + s.cfg.Control.Token
	got := c.Get(fiber.HeaderAuthorization)
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	return c.Next()
}

func isLocal(ip string) bool {
	ip = strings.ToLower(strings.TrimSpace(ip))
	if ip == "localhost" {
		return true
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

type voiceRef struct {
	Name  *string `json:"name"`
	Model string  `json:"model"`
}

func currentVoice(model string) voiceRef {
	ref := voiceRef{Model: model}
	if v, ok := voice.ByModel(model); ok {
		name := v.Name
		ref.Name = &name
	}
	return ref
}

func (s *Server) handleGetVoice(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"current": currentVoice(s.voices.Current()),
		"voices":  voice.Catalog(),
	})
}

func (s *Server) handleSetVoice(c *fiber.Ctx) error {
	var req struct {
		Voice string `json:"voice"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_request",
			"message": "Request body must be a JSON object.",
		})
	}

	query := strings.TrimSpace(req.Voice)
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing 'voice' field. Use a name (e.g. 'orion') or model ID.",
		})
	}

	model, ok := voice.Resolve(query)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown voice: " + query,
			"hint":  "Use GET /api/voice to see available voices.",
		})
	}

	if err := s.voices.Set(model); err != nil {
		s.logger.Error("failed to save voice preference", "error", err, "path", s.voices.Path())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save voice preference"})
	}

	ref := currentVoice(model)
	s.logger.Info("voice preference set", "model", model)
	return c.JSON(fiber.Map{
		"voice":   ref,
		"message": "Voice updated. The change takes effect on the next call.",
	})
}

func (s *Server) handleListCalls(c *fiber.Ctx) error {
	calls := s.bridge.Registry().Calls()
	if calls == nil {
		calls = []bridge.CallInfo{}
	}
	return c.JSON(fiber.Map{"calls": calls})
}

func (s *Server) handleHangup(c *fiber.Ctx) error {
	sess, ok := s.bridge.Registry().Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "call not found"})
	}
	sess.Hangup()
	s.logger.Info("call hung up via control api", "call_id", sess.ID())
	return c.JSON(fiber.Map{"call": sess.Info(), "hungup": true})
}
