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
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"maunium.net/go/mautrix/id"

	"github.com/lrhodin/cloudbridge/pkg/platform"
)

// registerProvisioning mounts the admin API for registering remote
// applications with the bridge. Protected by the webhook shared secret.
func (br *Bridge) registerProvisioning(app *fiber.App) {
	group := app.Group("/_matrix/provision/v1", br.provisioningAuth)
	group.Post("/register_app", br.provisionRegisterApp)
	group.Patch("/update_app", br.provisionUpdateApp)
	group.Get("/apps", br.provisionListApps)
}

func (br *Bridge) provisioningAuth(c *fiber.Ctx) error {
	token := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(br.Config.Webhook.SharedSecret)) != 1 {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "Invalid authorization token",
			"errcode": "M_FORBIDDEN",
		})
	}
	return c.Next()
}

type registerAppRequest struct {
	UserID      id.UserID        `json:"user_id"`
	RemoteAppID string           `json:"remote_app_id"`
	Name        string           `json:"name"`
	Network     platform.Network `json:"network"`
	SecondaryID string           `json:"secondary_id"`
	AccessToken string           `json:"access_token"`
}

func missingField(c *fiber.Ctx, field string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "Missing required field " + field,
		"state": "missing-field",
	})
}

func (br *Bridge) provisionRegisterApp(c *fiber.Ctx) error {
	ctx := c.UserContext()
	var req registerAppRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Malformed JSON body"})
	}
	switch {
	case req.UserID == "":
		return missingField(c, "user_id")
	case req.RemoteAppID == "":
		return missingField(c, "remote_app_id")
	case req.AccessToken == "":
		return missingField(c, "access_token")
	case req.Network == "":
		return missingField(c, "network")
	}
	if _, err := br.Adapter(req.Network); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unsupported network"})
	}

	user, err := br.GetUserByMXID(ctx, req.UserID, true)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if user == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is not a bridgeable user"})
	}
	if user.IsLoggedIn() {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "User already has a registered application",
			"state": "already-registered",
		})
	}
	existing, err := br.DB.Application.GetByRemoteID(ctx, req.RemoteAppID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if existing != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Application is already registered",
			"state": "already-registered",
		})
	}

	app := br.DB.Application.New()
	app.RemoteAppID = req.RemoteAppID
	app.Name = req.Name
	app.Network = req.Network
	app.AdminUser = req.UserID
	app.SecondaryID = req.SecondaryID
	app.AccessToken = req.AccessToken
	// The application row and the user's link to it must land together:
	// an application without an owning user is undeliverable.
	err = br.DB.DoTxn(ctx, nil, func(ctx context.Context) error {
		if err := app.Insert(ctx); err != nil {
			return err
		}
		return user.MarkRegistered(ctx, app.RemoteAppID)
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	br.Log.Info().
		Str("remote_app_id", app.RemoteAppID).
		Str("network", string(app.Network)).
		Str("admin", req.UserID.String()).
		Msg("Registered new application")
	return c.JSON(fiber.Map{"success": true, "remote_app_id": app.RemoteAppID})
}

type updateAppRequest struct {
	UserID      id.UserID `json:"user_id"`
	Name        string    `json:"name"`
	SecondaryID string    `json:"secondary_id"`
	AccessToken string    `json:"access_token"`
}

func (br *Bridge) provisionUpdateApp(c *fiber.Ctx) error {
	ctx := c.UserContext()
	var req updateAppRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Malformed JSON body"})
	}
	if req.UserID == "" {
		return missingField(c, "user_id")
	}
	app, err := br.DB.Application.GetByAdmin(ctx, req.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if app == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No application registered for that user"})
	}
	if req.Name != "" {
		app.Name = req.Name
	}
	if req.SecondaryID != "" {
		app.SecondaryID = req.SecondaryID
	}
	if req.AccessToken != "" {
		app.AccessToken = req.AccessToken
	}
	if err = app.Update(ctx); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true})
}

func (br *Bridge) provisionListApps(c *fiber.Ctx) error {
	apps, err := br.DB.Application.GetAll(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	out := make([]fiber.Map, len(apps))
	for i, app := range apps {
		out[i] = fiber.Map{
			"remote_app_id": app.RemoteAppID,
			"name":          app.Name,
			"network":       app.Network,
			"admin_user":    app.AdminUser,
		}
	}
	return c.JSON(fiber.Map{"apps": out})
}
