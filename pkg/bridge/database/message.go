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

package database

import (
	"context"
	"time"

	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/id"
)

// Message is one correlation row tying a Matrix event to a remote message id.
// Immutable once inserted; duplicate remote ids are rejected by the
// message_remote_id_unique constraint.
type Message struct {
	qh *dbutil.QueryHelper[*Message]

	EventMXID       id.EventID
	RoomID          id.RoomID
	RemoteAccountID string
	SenderMXID      id.UserID
	RemoteMessageID string
	AppID           string
	Timestamp       time.Time
}

func newMessage(qh *dbutil.QueryHelper[*Message]) *Message {
	return &Message{qh: qh}
}

type MessageQuery struct {
	*dbutil.QueryHelper[*Message]
}

const (
	messageColumns = "event_mxid, room_id, remote_account_id, sender_mxid, remote_message_id, app_id, created_at"

	getMessageByRemoteIDQuery = `
		SELECT ` + messageColumns + ` FROM message WHERE remote_message_id=$1
	`
	getMessageByMXIDQuery = `
		SELECT ` + messageColumns + ` FROM message WHERE event_mxid=$1 AND room_id=$2
	`
	getLastMessageInRoomQuery = `
		SELECT ` + messageColumns + ` FROM message WHERE room_id=$1
		ORDER BY created_at DESC LIMIT 1
	`
	insertMessageQuery = `
		INSERT INTO message (event_mxid, room_id, remote_account_id, sender_mxid,
		                     remote_message_id, app_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	deleteAllMessagesInRoomQuery = `
		DELETE FROM message WHERE room_id=$1
	`
)

func (mq *MessageQuery) GetByRemoteID(ctx context.Context, remoteMessageID string) (*Message, error) {
	return mq.QueryOne(ctx, getMessageByRemoteIDQuery, remoteMessageID)
}

func (mq *MessageQuery) GetByMXID(ctx context.Context, eventID id.EventID, roomID id.RoomID) (*Message, error) {
	return mq.QueryOne(ctx, getMessageByMXIDQuery, eventID, roomID)
}

func (mq *MessageQuery) GetLastInRoom(ctx context.Context, roomID id.RoomID) (*Message, error) {
	return mq.QueryOne(ctx, getLastMessageInRoomQuery, roomID)
}

func (mq *MessageQuery) DeleteAllInRoom(ctx context.Context, roomID id.RoomID) error {
	return mq.Exec(ctx, deleteAllMessagesInRoomQuery, roomID)
}

func (m *Message) Scan(row dbutil.Scannable) (*Message, error) {
	var createdAt int64
	err := row.Scan(
		&m.EventMXID, &m.RoomID, &m.RemoteAccountID, &m.SenderMXID,
		&m.RemoteMessageID, &m.AppID, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	m.Timestamp = time.UnixMilli(createdAt)
	return m, nil
}

func (m *Message) sqlVariables() []any {
	return []any{
		m.EventMXID, m.RoomID, m.RemoteAccountID, m.SenderMXID,
		m.RemoteMessageID, m.AppID, m.Timestamp.UnixMilli(),
	}
}

func (m *Message) Insert(ctx context.Context) error {
	return m.qh.Exec(ctx, insertMessageQuery, m.sqlVariables()...)
}
