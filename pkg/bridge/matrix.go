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

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
)

// MatrixHandler routes appservice transactions into the portal registry. Every
// handler is a catch-all boundary: a failing event is logged and dropped, it
// never takes the transaction loop down.
type MatrixHandler struct {
	bridge *Bridge
	log    zerolog.Logger
}

func NewMatrixHandler(br *Bridge, connector *ASConnector) *MatrixHandler {
	mh := &MatrixHandler{
		bridge: br,
		log:    br.Log.With().Str("component", "matrix").Logger(),
	}
	connector.EP.On(event.EventMessage, mh.HandleMessage)
	connector.EP.On(event.EventReaction, mh.HandleReaction)
	connector.EP.On(event.EventRedaction, mh.HandleRedaction)
	connector.EP.On(event.StateMember, mh.HandleMembership)
	connector.EP.On(event.EphemeralEventReceipt, mh.HandleReceipt)
	return mh
}

func (mh *MatrixHandler) parseContent(evt *event.Event) bool {
	err := evt.Content.ParseRaw(evt.Type)
	if err != nil && !errors.Is(err, event.ErrContentAlreadyParsed) {
		mh.log.Warn().Err(err).
			Str("event_id", evt.ID.String()).
			Str("event_type", evt.Type.Type).
			Msg("Failed to parse event content")
		return false
	}
	return true
}

// resolveSender returns the real user behind an event, or nil for events from
// the bridge's own ghosts and bot.
func (mh *MatrixHandler) resolveSender(ctx context.Context, evt *event.Event) *User {
	user, err := mh.bridge.GetUserByMXID(ctx, evt.Sender, true)
	if err != nil {
		mh.log.Err(err).Str("sender", evt.Sender.String()).Msg("Failed to resolve event sender")
		return nil
	}
	return user
}

func (mh *MatrixHandler) HandleMessage(ctx context.Context, evt *event.Event) {
	user := mh.resolveSender(ctx, evt)
	if user == nil || !mh.parseContent(evt) {
		return
	}
	portal, err := mh.bridge.GetPortalByMXID(ctx, evt.RoomID)
	if err != nil {
		mh.log.Err(err).Str("room_id", evt.RoomID.String()).Msg("Failed to resolve portal")
		return
	}
	if portal == nil {
		mh.handleNonPortalMessage(ctx, user, evt)
		return
	}
	if err = portal.HandleMatrixMessage(ctx, user, evt); err != nil {
		mh.log.Err(err).Str("event_id", evt.ID.String()).Msg("Failed to handle Matrix message")
	}
}

// handleNonPortalMessage covers direct chats with the bridge bot: the first
// message from an admin claims the room as their notice room.
func (mh *MatrixHandler) handleNonPortalMessage(ctx context.Context, user *User, evt *event.Event) {
	if !user.IsLoggedIn() || user.NoticeRoom == evt.RoomID {
		return
	}
	if user.NoticeRoom == "" {
		if err := user.SetNoticeRoom(ctx, evt.RoomID); err != nil {
			mh.log.Err(err).Msg("Failed to save notice room")
			return
		}
		if _, err := mh.bridge.Matrix.Bot().SendNotice(ctx, evt.RoomID, "This room is now used for bridge status notices."); err != nil {
			mh.log.Warn().Err(err).Msg("Failed to confirm notice room")
		}
	}
}

func (mh *MatrixHandler) HandleReaction(ctx context.Context, evt *event.Event) {
	user := mh.resolveSender(ctx, evt)
	if user == nil || !mh.parseContent(evt) {
		return
	}
	portal, err := mh.bridge.GetPortalByMXID(ctx, evt.RoomID)
	if err != nil || portal == nil {
		return
	}
	if err = portal.HandleMatrixReaction(ctx, user, evt); err != nil {
		mh.log.Err(err).Str("event_id", evt.ID.String()).Msg("Failed to handle Matrix reaction")
	}
}

func (mh *MatrixHandler) HandleRedaction(ctx context.Context, evt *event.Event) {
	user := mh.resolveSender(ctx, evt)
	if user == nil {
		return
	}
	portal, err := mh.bridge.GetPortalByMXID(ctx, evt.RoomID)
	if err != nil || portal == nil {
		return
	}
	if err = portal.HandleMatrixRedaction(ctx, user, evt); err != nil {
		mh.log.Err(err).Str("event_id", evt.ID.String()).Msg("Failed to handle Matrix redaction")
	}
}

func (mh *MatrixHandler) HandleMembership(ctx context.Context, evt *event.Event) {
	if !mh.parseContent(evt) {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok || content.Membership != event.MembershipLeave {
		return
	}
	// Only self-leaves of real users tear the portal down; kicks of ghosts
	// and bot membership churn are not portal lifecycle events.
	if evt.GetStateKey() != evt.Sender.String() {
		return
	}
	user := mh.resolveSender(ctx, evt)
	if user == nil {
		return
	}
	portal, err := mh.bridge.GetPortalByMXID(ctx, evt.RoomID)
	if err != nil || portal == nil {
		return
	}
	if err = portal.HandleMatrixLeave(ctx, user); err != nil {
		mh.log.Err(err).Str("room_id", evt.RoomID.String()).Msg("Failed to handle portal leave")
	}
}

func (mh *MatrixHandler) HandleReceipt(ctx context.Context, evt *event.Event) {
	if !mh.parseContent(evt) {
		return
	}
	content, ok := evt.Content.Parsed.(*event.ReceiptEventContent)
	if !ok {
		return
	}
	portal, err := mh.bridge.GetPortalByMXID(ctx, evt.RoomID)
	if err != nil || portal == nil {
		return
	}
	for eventID, receipts := range *content {
		for userID := range receipts[event.ReceiptTypeRead] {
			user, err := mh.bridge.GetUserByMXID(ctx, userID, false)
			if err != nil || user == nil {
				continue
			}
			if err = portal.HandleMatrixReadReceipt(ctx, user, eventID); err != nil {
				mh.log.Err(err).Str("event_id", eventID.String()).Msg("Failed to handle read receipt")
			}
		}
	}
}
