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
)

// User is a real Matrix account using the bridge. AppID stays empty until the
// user registers an application through provisioning.
type User struct {
	qh *dbutil.QueryHelper[*User]

	MXID       id.UserID
	AppID      string
	NoticeRoom id.RoomID
}

func newUser(qh *dbutil.QueryHelper[*User]) *User {
	return &User{qh: qh}
}

type UserQuery struct {
	*dbutil.QueryHelper[*User]
}

const (
	getUserByMXIDQuery = `
		SELECT mxid, app_id, notice_room FROM matrix_user WHERE mxid=$1
	`
	getUserByAppIDQuery = `
		SELECT mxid, app_id, notice_room FROM matrix_user WHERE app_id=$1
	`
	insertUserQuery = `
		INSERT INTO matrix_user (mxid, app_id, notice_room) VALUES ($1, $2, $3)
	`
	updateUserQuery = `
		UPDATE matrix_user SET app_id=$2, notice_room=$3 WHERE mxid=$1
	`
)

func (uq *UserQuery) GetByMXID(ctx context.Context, mxid id.UserID) (*User, error) {
	return uq.QueryOne(ctx, getUserByMXIDQuery, mxid)
}

func (uq *UserQuery) GetByAppID(ctx context.Context, appID string) (*User, error) {
	return uq.QueryOne(ctx, getUserByAppIDQuery, appID)
}

func (u *User) Scan(row dbutil.Scannable) (*User, error) {
	var appID, noticeRoom sql.NullString
	err := row.Scan(&u.MXID, &appID, &noticeRoom)
	if err != nil {
		return nil, err
	}
	u.AppID = appID.String
	u.NoticeRoom = id.RoomID(noticeRoom.String)
	return u, nil
}

func (u *User) sqlVariables() []any {
	return []any{u.MXID, dbutil.StrPtr(u.AppID), dbutil.StrPtr(string(u.NoticeRoom))}
}

func (u *User) Insert(ctx context.Context) error {
	return u.qh.Exec(ctx, insertUserQuery, u.sqlVariables()...)
}

func (u *User) Update(ctx context.Context) error {
	return u.qh.Exec(ctx, updateUserQuery, u.sqlVariables()...)
}
