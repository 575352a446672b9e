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

// Reaction is one live reaction: at most one row per (remote message, sender),
// enforced by reaction_sender_unique. Changing a reaction replaces the row
// because the Matrix reaction event id changes on every redact-and-resend.
type Reaction struct {
	qh *dbutil.QueryHelper[*Reaction]

	EventMXID       id.EventID
	RoomID          id.RoomID
	SenderMXID      id.UserID
	RemoteMessageID string
	Emoji           string
	Timestamp       time.Time
}

func newReaction(qh *dbutil.QueryHelper[*Reaction]) *Reaction {
	return &Reaction{qh: qh}
}

type ReactionQuery struct {
	*dbutil.QueryHelper[*Reaction]
}

const (
	reactionColumns = "event_mxid, room_id, sender_mxid, remote_message_id, emoji, created_at"

	getReactionBySenderQuery = `
		SELECT ` + reactionColumns + ` FROM reaction WHERE remote_message_id=$1 AND sender_mxid=$2
	`
	getReactionByMXIDQuery = `
		SELECT ` + reactionColumns + ` FROM reaction WHERE event_mxid=$1 AND room_id=$2
	`
	getLastReactionInRoomQuery = `
		SELECT ` + reactionColumns + ` FROM reaction WHERE room_id=$1
		ORDER BY created_at DESC LIMIT 1
	`
	insertReactionQuery = `
		INSERT INTO reaction (event_mxid, room_id, sender_mxid, remote_message_id, emoji, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	deleteReactionBySenderQuery = `
		DELETE FROM reaction WHERE remote_message_id=$1 AND sender_mxid=$2
	`
	deleteReactionByMXIDQuery = `
		DELETE FROM reaction WHERE event_mxid=$1 AND room_id=$2 AND sender_mxid=$3
	`
	deleteAllReactionsInRoomQuery = `
		DELETE FROM reaction WHERE room_id=$1
	`
)

func (rq *ReactionQuery) GetBySender(ctx context.Context, remoteMessageID string, sender id.UserID) (*Reaction, error) {
	return rq.QueryOne(ctx, getReactionBySenderQuery, remoteMessageID, sender)
}

func (rq *ReactionQuery) GetByMXID(ctx context.Context, eventID id.EventID, roomID id.RoomID) (*Reaction, error) {
	return rq.QueryOne(ctx, getReactionByMXIDQuery, eventID, roomID)
}

func (rq *ReactionQuery) GetLastInRoom(ctx context.Context, roomID id.RoomID) (*Reaction, error) {
	return rq.QueryOne(ctx, getLastReactionInRoomQuery, roomID)
}

func (rq *ReactionQuery) DeleteByMXID(ctx context.Context, eventID id.EventID, roomID id.RoomID, sender id.UserID) error {
	return rq.Exec(ctx, deleteReactionByMXIDQuery, eventID, roomID, sender)
}

func (rq *ReactionQuery) DeleteAllInRoom(ctx context.Context, roomID id.RoomID) error {
	return rq.Exec(ctx, deleteAllReactionsInRoomQuery, roomID)
}

// Replace deletes the sender's previous reaction on the message (if any) and
// inserts the new one in a single transaction, so a crash can't lose the
// record between the two statements.
func (rq *ReactionQuery) Replace(ctx context.Context, reaction *Reaction) error {
	return rq.GetDB().DoTxn(ctx, nil, func(ctx context.Context) error {
		err := rq.Exec(ctx, deleteReactionBySenderQuery, reaction.RemoteMessageID, reaction.SenderMXID)
		if err != nil {
			return err
		}
		return reaction.Insert(ctx)
	})
}

func (r *Reaction) Scan(row dbutil.Scannable) (*Reaction, error) {
	var createdAt int64
	err := row.Scan(&r.EventMXID, &r.RoomID, &r.SenderMXID, &r.RemoteMessageID, &r.Emoji, &createdAt)
	if err != nil {
		return nil, err
	}
	r.Timestamp = time.UnixMilli(createdAt)
	return r, nil
}

func (r *Reaction) Insert(ctx context.Context) error {
	return r.qh.Exec(ctx, insertReactionQuery,
		r.EventMXID, r.RoomID, r.SenderMXID, r.RemoteMessageID, r.Emoji, r.Timestamp.UnixMilli())
}
