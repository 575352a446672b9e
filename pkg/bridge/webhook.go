// cloudbridge - A Matrix bridge for Meta Messenger and the WhatsApp Cloud API.
// Copyright (C) 2026 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package bridge

import (
	"context"
	"errors"
	"strconv"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lrhodin/cloudbridge/pkg/bridge/database"
	"github.com/lrhodin/cloudbridge/pkg/platform"
)

// prom is registered once; the HTTP metrics middleware writes to the global
// registry like the counters above.
var prom = fiberprometheus.New("cloudbridge")

func bumpInbound(network platform.Network, result string) {
	inboundEvents.WithLabelValues(string(network), result).Inc()
}

func (br *Bridge) newWebServer() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)
	app.Use(br.requestLogger)

	app.Get("/webhooks/:network", br.handleWebhookVerification)
	app.Post("/webhooks/:network", br.handleWebhookEvent)
	br.registerProvisioning(app)
	return app
}

// requestLogger stamps every request with an id and puts a scoped logger in
// the user context for the handlers below.
func (br *Bridge) requestLogger(c *fiber.Ctx) error {
	logger := br.Log.With().
		Str("request_id", uuid.New().String()).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Logger()
	c.SetUserContext(logger.WithContext(c.UserContext()))
	err := c.Next()
	logger.Debug().Int("status", c.Response().StatusCode()).Msg("Handled HTTP request")
	return err
}

// handleWebhookVerification answers the Meta/WhatsApp subscription handshake:
// echo hub.challenge back when the verify token matches.
func (br *Bridge) handleWebhookVerification(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")
	if mode != "subscribe" || challenge == "" {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invalid verification request"})
	}
	if token != br.Config.Webhook.VerifyToken {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "verify token mismatch"})
	}
	return c.SendString(challenge)
}

func (br *Bridge) handleWebhookEvent(c *fiber.Ctx) error {
	ctx := c.UserContext()
	network := platform.Network(c.Params("network"))
	adapter, err := br.Adapter(network)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown network"})
	}

	evt, err := adapter.ParseEvent(c.Body())
	if err != nil {
		switch {
		case errors.Is(err, platform.ErrUnknownEvent):
			bumpInbound(network, "ignored")
		case errors.Is(err, platform.ErrUnsupportedType):
			zerolog.Ctx(ctx).Debug().Err(err).Msg("Dropping unsupported webhook event")
			bumpInbound(network, "unsupported")
		default:
			zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to parse webhook payload")
			bumpInbound(network, "parse_error")
		}
		return c.SendStatus(fiber.StatusNotAcceptable)
	}

	app, err := br.DB.Application.GetByRemoteID(ctx, evt.AppID())
	if err != nil {
		zerolog.Ctx(ctx).Err(err).Msg("Failed to look up application")
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	if app == nil {
		zerolog.Ctx(ctx).Warn().Str("remote_app_id", evt.AppID()).
			Msg("Ignoring event for unregistered application")
		bumpInbound(network, "not_registered")
		return c.SendStatus(fiber.StatusNotAcceptable)
	}
	source, err := br.GetUserByAppID(ctx, app.RemoteAppID)
	if err != nil {
		zerolog.Ctx(ctx).Err(err).Msg("Failed to look up application admin")
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	if source == nil {
		// An application row with no owning matrix_user can't be bridged:
		// there is nobody to invite to the portal room.
		zerolog.Ctx(ctx).Warn().Str("remote_app_id", app.RemoteAppID).
			Msg("Ignoring event for application without an owning user")
		bumpInbound(network, "not_registered")
		return c.SendStatus(fiber.StatusNotAcceptable)
	}

	if err = br.dispatchRemoteEvent(ctx, app, source, evt); err != nil {
		zerolog.Ctx(ctx).Err(err).Msg("Failed to handle webhook event")
		bumpInbound(network, "error")
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	bumpInbound(network, "success")
	return c.SendStatus(fiber.StatusOK)
}

// dispatchRemoteEvent routes one parsed event to its portal. Only messages
// create portals; reactions and statuses for unknown chats are dropped because
// there is nothing to apply them to.
func (br *Bridge) dispatchRemoteEvent(ctx context.Context, app *database.Application, source *User, evt platform.Event) error {
	switch typed := evt.(type) {
	case *platform.MessageEvent:
		portal, err := br.GetPortalByKey(ctx, database.PortalKey{
			RemoteChatID: typed.Sender,
			AppID:        app.RemoteAppID,
		}, app.Network, true)
		if err != nil {
			return err
		}
		return portal.HandleRemoteMessage(ctx, source, app, typed)
	case *platform.ReactionEvent:
		portal, err := br.GetPortalByKey(ctx, database.PortalKey{
			RemoteChatID: typed.Sender,
			AppID:        app.RemoteAppID,
		}, app.Network, false)
		if err != nil || portal == nil {
			return err
		}
		return portal.HandleRemoteReaction(ctx, app, typed)
	case *platform.StatusEvent:
		portal, err := br.GetPortalByKey(ctx, database.PortalKey{
			RemoteChatID: typed.Sender,
			AppID:        app.RemoteAppID,
		}, app.Network, false)
		if err != nil || portal == nil {
			return err
		}
		return portal.HandleRemoteStatus(ctx, app, typed)
	case *platform.ErrorEvent:
		portal, err := br.GetPortalByKey(ctx, database.PortalKey{
			RemoteChatID: typed.Recipient,
			AppID:        app.RemoteAppID,
		}, app.Network, false)
		if err != nil {
			return err
		}
		if portal != nil {
			return portal.HandleRemoteError(ctx, source, typed)
		}
		return br.sendOperatorNotice(ctx, source, typed)
	default:
		return nil
	}
}

func (br *Bridge) sendOperatorNotice(ctx context.Context, source *User, evt *platform.ErrorEvent) error {
	if source == nil || source.NoticeRoom == "" {
		return nil
	}
	text := "⚠ Remote platform error " + strconv.Itoa(evt.Code) + ": " + evt.Title
	_, err := br.Matrix.Bot().SendNotice(ctx, source.NoticeRoom, text)
	return err
}
