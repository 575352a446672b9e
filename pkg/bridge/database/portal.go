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
	"database/sql"

	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/id"

	"github.com/lrhodin/cloudbridge/pkg/platform"
)

// PortalKey identifies one remote chat within one registered application. For
// direct chats the chat id is the remote counterpart's account id.
type PortalKey struct {
	RemoteChatID string
	AppID        string
}

// Portal maps one remote chat to one Matrix room. MXID stays empty until the
// first message creates the room; a row with an empty MXID is safe to retry.
type Portal struct {
	qh *dbutil.QueryHelper[*Portal]

	Key         PortalKey
	Network     platform.Network
	MXID        id.RoomID
	RelayUserID id.UserID
}

func newPortal(qh *dbutil.QueryHelper[*Portal]) *Portal {
	return &Portal{qh: qh}
}

type PortalQuery struct {
	*dbutil.QueryHelper[*Portal]
}

const (
	portalColumns = "remote_chat_id, app_id, network, room_id, relay_user_id"

	getPortalByKeyQuery = `
		SELECT ` + portalColumns + ` FROM portal WHERE remote_chat_id=$1 AND app_id=$2
	`
	getPortalByMXIDQuery = `
		SELECT ` + portalColumns + ` FROM portal WHERE room_id=$1
	`
	getAllPortalsWithRoomQuery = `
		SELECT ` + portalColumns + ` FROM portal WHERE room_id IS NOT NULL
	`
	insertPortalQuery = `
		INSERT INTO portal (remote_chat_id, app_id, network, room_id, relay_user_id)
		VALUES ($1, $2, $3, $4, $5)
	`
	updatePortalQuery = `
		UPDATE portal SET network=$3, room_id=$4, relay_user_id=$5
		WHERE remote_chat_id=$1 AND app_id=$2
	`
	deletePortalQuery = `
		DELETE FROM portal WHERE remote_chat_id=$1 AND app_id=$2
	`
)

func (pq *PortalQuery) GetByKey(ctx context.Context, key PortalKey) (*Portal, error) {
	return pq.QueryOne(ctx, getPortalByKeyQuery, key.RemoteChatID, key.AppID)
}

func (pq *PortalQuery) GetByMXID(ctx context.Context, mxid id.RoomID) (*Portal, error) {
	return pq.QueryOne(ctx, getPortalByMXIDQuery, mxid)
}

func (pq *PortalQuery) GetAllWithRoom(ctx context.Context) ([]*Portal, error) {
	return pq.QueryMany(ctx, getAllPortalsWithRoomQuery)
}

func (p *Portal) Scan(row dbutil.Scannable) (*Portal, error) {
	var mxid, relayUserID sql.NullString
	err := row.Scan(&p.Key.RemoteChatID, &p.Key.AppID, &p.Network, &mxid, &relayUserID)
	if err != nil {
		return nil, err
	}
	p.MXID = id.RoomID(mxid.String)
	p.RelayUserID = id.UserID(relayUserID.String)
	return p, nil
}

func (p *Portal) sqlVariables() []any {
	return []any{
		p.Key.RemoteChatID, p.Key.AppID, p.Network,
		dbutil.StrPtr(string(p.MXID)), dbutil.StrPtr(string(p.RelayUserID)),
	}
}

func (p *Portal) Insert(ctx context.Context) error {
	return p.qh.Exec(ctx, insertPortalQuery, p.sqlVariables()...)
}

func (p *Portal) Update(ctx context.Context) error {
	return p.qh.Exec(ctx, updatePortalQuery, p.sqlVariables()...)
}

func (p *Portal) Delete(ctx context.Context) error {
	return p.qh.Exec(ctx, deletePortalQuery, p.Key.RemoteChatID, p.Key.AppID)
}
