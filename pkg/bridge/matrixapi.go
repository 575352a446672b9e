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

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MatrixIntent is the room-operation surface the core needs from one Matrix
// actor (the bridge bot or a ghost). The production implementation wraps
// appservice intents; tests use a fake.
type MatrixIntent interface {
	UserID() id.UserID
	EnsureRegistered(ctx context.Context) error
	EnsureJoined(ctx context.Context, roomID id.RoomID) error
	SendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error)
	SendNotice(ctx context.Context, roomID id.RoomID, text string) (id.EventID, error)
	SendReaction(ctx context.Context, roomID id.RoomID, target id.EventID, key string) (id.EventID, error)
	RedactEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) error
	MarkRead(ctx context.Context, roomID id.RoomID, eventID id.EventID) error
	SetDisplayName(ctx context.Context, name string) error
	CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (id.RoomID, error)
	UploadMedia(ctx context.Context, data []byte, mimeType string) (id.ContentURI, error)
}

// MatrixConnector hands out intents and knows how to turn an mxc URI into a
// URL the remote platforms can fetch.
type MatrixConnector interface {
	Bot() MatrixIntent
	Ghost(userID id.UserID) MatrixIntent
	PublicMediaURL(uri id.ContentURI) string
}
