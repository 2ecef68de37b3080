package bridge

import (
	"context"
	"net/url"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-callbridge/pkg/twilio"
)

// RegisterRoutes mounts the Twilio webhooks and the media stream websocket.
func (b *Bridge) RegisterRoutes(r fiber.Router) {
	r.Post("/twilio/incoming", b.handleIncoming)
	r.Post("/twilio/status", b.handleStatus)

	r.Use(MediaPath, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("host", c.Hostname())
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	r.Get(MediaPath, websocket.New(b.handleMedia))
}

func (b *Bridge) handleMedia(c *websocket.Conn) {
	host, _ := c.Locals("host").(string)
	b.logger.Info("media stream connected", "remote", c.RemoteAddr().String())
	if err := b.Serve(context.Background(), c, host); err != nil {
		b.logger.Debug("media stream closed", "error", err)
	}
}

// handleIncoming answers an inbound call with TwiML that connects it to the
// media stream, or rejects it when the caller is not the owner.
func (b *Bridge) handleIncoming(c *fiber.Ctx) error {
	params := formParams(c)
	if !b.validSignature(c, params) {
		return c.SendStatus(fiber.StatusForbidden)
	}

	from := strings.TrimSpace(params.Get("From"))

	var (
		doc string
		err error
	)
	if b.isOwner(from) {
		streamURL := twilio.StreamURL(b.publicURL(c), MediaPath)
		b.logger.Info("accepted inbound call", "from", from, "call_sid", params.Get("CallSid"), "stream", streamURL)
		doc, err = twilio.ConnectStream(streamURL)
	} else {
		b.logger.Warn("rejected inbound call from non-owner", "from", from)
		doc, err = twilio.Reject()
	}
	if err != nil {
		b.logger.Error("failed to build twiml", "error", err)
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	c.Set(fiber.HeaderContentType, twilio.ContentType)
	return c.SendString(doc)
}

// handleStatus logs call status callbacks.
func (b *Bridge) handleStatus(c *fiber.Ctx) error {
	params := formParams(c)
	if !b.validSignature(c, params) {
		return c.SendStatus(fiber.StatusForbidden)
	}
	b.logger.Info("call status",
		"call_sid", params.Get("CallSid"),
		"status", params.Get("CallStatus"),
		"duration", params.Get("CallDuration"))
	return c.SendStatus(fiber.StatusNoContent)
}

func (b *Bridge) validSignature(c *fiber.Ctx, params url.Values) bool {
	if b.cfg.Validator == nil {
		return true
	}
	fullURL := b.publicURL(c) + c.OriginalURL()
	if err := b.cfg.Validator.Validate(fullURL, params, c.Get(twilio.SignatureHeader)); err != nil {
		b.logger.Warn("webhook signature check failed", "url", fullURL, "error", err)
		return false
	}
	return true
}

// isOwner reports whether from may call in. With no owner configured every
// caller is accepted.
func (b *Bridge) isOwner(from string) bool {
	if b.cfg.OwnerPhone == "" {
		return true
	}
	return from == b.cfg.OwnerPhone
}

// publicURL is the configured public URL, else the forwarded scheme and host
// when a proxy supplied both, else the request's own.
func (b *Bridge) publicURL(c *fiber.Ctx) string {
	if b.cfg.PublicURL != "" {
		return strings.TrimSuffix(b.cfg.PublicURL, "/")
	}
	proto := c.Get("X-Forwarded-Proto")
	host := c.Get("X-Forwarded-Host")
	if proto != "" && host != "" {
		return strings.TrimSuffix(proto+"://"+host, "/")
	}
	return c.Protocol() + "://" + string(c.Request().Host())
}

func formParams(c *fiber.Ctx) url.Values {
	params := url.Values{}
	c.Request().PostArgs().VisitAll(func(k, v []byte) {
		params.Add(string(k), string(v))
	})
	return params
}
