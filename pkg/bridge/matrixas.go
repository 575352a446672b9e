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
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ASConnector implements MatrixConnector on top of a mautrix appservice. The
// Matrix client-server protocol, transaction handling and intent bookkeeping
// all live in the library; this file only adapts its surface to the narrow
// interface the core uses.
type ASConnector struct {
	AS  *appservice.AppService
	EP  *appservice.EventProcessor
	cfg *Config
	log zerolog.Logger
}

var _ MatrixConnector = (*ASConnector)(nil)

func NewASConnector(cfg *Config, log zerolog.Logger) (*ASConnector, error) {
	as := appservice.Create()
	as.HomeserverDomain = cfg.Homeserver.Domain
	if err := as.SetHomeserverURL(cfg.Homeserver.Address); err != nil {
		return nil, fmt.Errorf("failed to set homeserver URL: %w", err)
	}
	as.Host = appservice.HostConfig{
		Hostname: cfg.AppService.Hostname,
		Port:     cfg.AppService.Port,
	}
	as.Registration = &appservice.Registration{
		ID:              cfg.AppService.ID,
		AppToken:        cfg.AppService.ASToken,
		ServerToken:     cfg.AppService.HSToken,
		SenderLocalpart: cfg.AppService.BotUsername,
	}
	as.Log = log.With().Str("component", "appservice").Logger()
	return &ASConnector{
		AS:  as,
		EP:  appservice.NewEventProcessor(as),
		cfg: cfg,
		log: log,
	}, nil
}

// Start begins serving appservice transactions and processing events. The
// handlers are registered by the MatrixHandler before this is called.
func (c *ASConnector) Start(ctx context.Context) {
	go c.AS.Start()
	go c.EP.Start(ctx)
}

func (c *ASConnector) Stop() {
	c.AS.Stop()
	c.EP.Stop()
}

func (c *ASConnector) Bot() MatrixIntent {
	return &asIntent{intent: c.AS.BotIntent()}
}

func (c *ASConnector) Ghost(userID id.UserID) MatrixIntent {
	return &asIntent{intent: c.AS.Intent(userID)}
}

// PublicMediaURL builds the unauthenticated media download URL the remote
// platforms fetch outbound attachments from.
func (c *ASConnector) PublicMediaURL(uri id.ContentURI) string {
	base := strings.TrimSuffix(c.cfg.Homeserver.PublicAddress, "/")
	return fmt.Sprintf("%s/_matrix/media/v3/download/%s/%s", base, uri.Homeserver, uri.FileID)
}

type asIntent struct {
	intent *appservice.IntentAPI
}

var _ MatrixIntent = (*asIntent)(nil)

func (i *asIntent) UserID() id.UserID {
	return i.intent.UserID
}

func (i *asIntent) EnsureRegistered(ctx context.Context) error {
	return i.intent.EnsureRegistered(ctx)
}

func (i *asIntent) EnsureJoined(ctx context.Context, roomID id.RoomID) error {
	return i.intent.EnsureJoined(ctx, roomID)
}

func (i *asIntent) SendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	resp, err := i.intent.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (i *asIntent) SendNotice(ctx context.Context, roomID id.RoomID, text string) (id.EventID, error) {
	return i.SendMessage(ctx, roomID, &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	})
}

func (i *asIntent) SendReaction(ctx context.Context, roomID id.RoomID, target id.EventID, key string) (id.EventID, error) {
	resp, err := i.intent.SendMessageEvent(ctx, roomID, event.EventReaction, &event.ReactionEventContent{
		RelatesTo: event.RelatesTo{
			Type:    event.RelAnnotation,
			EventID: target,
			Key:     key,
		},
	})
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (i *asIntent) RedactEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) error {
	_, err := i.intent.RedactEvent(ctx, roomID, eventID)
	return err
}

func (i *asIntent) MarkRead(ctx context.Context, roomID id.RoomID, eventID id.EventID) error {
	return i.intent.MarkRead(ctx, roomID, eventID)
}

func (i *asIntent) SetDisplayName(ctx context.Context, name string) error {
	return i.intent.SetDisplayName(ctx, name)
}

func (i *asIntent) CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (id.RoomID, error) {
	resp, err := i.intent.CreateRoom(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

func (i *asIntent) UploadMedia(ctx context.Context, data []byte, mimeType string) (id.ContentURI, error) {
	resp, err := i.intent.UploadBytes(ctx, data, mimeType)
	if err != nil {
		return id.ContentURI{}, err
	}
	return resp.ContentURI, nil
}
