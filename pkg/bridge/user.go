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

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/lrhodin/cloudbridge/pkg/bridge/database"
)

// User wraps a matrix_user row with bridge behavior. Users are created lazily
// on first Matrix interaction; the application link is set once through
// provisioning.
type User struct {
	*database.User

	bridge *Bridge
	log    zerolog.Logger
}

func (br *Bridge) wrapUser(dbUser *database.User) *User {
	user := &User{
		User:   dbUser,
		bridge: br,
		log:    br.Log.With().Str("user_mxid", dbUser.MXID.String()).Logger(),
	}
	br.usersByMXID[user.MXID] = user
	if user.AppID != "" {
		br.usersByAppID[user.AppID] = user
	}
	return user
}

// GetUserByMXID resolves a real bridge user. Ghost mxids and the bridge bot
// are never users; they short-circuit to nil without touching storage.
func (br *Bridge) GetUserByMXID(ctx context.Context, mxid id.UserID, create bool) (*User, error) {
	if br.IDs.IsGhostMXID(mxid) || mxid == br.Matrix.Bot().UserID() {
		return nil, nil
	}
	br.usersLock.Lock()
	defer br.usersLock.Unlock()
	if user, ok := br.usersByMXID[mxid]; ok {
		return user, nil
	}
	dbUser, err := br.DB.User.GetByMXID(ctx, mxid)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by mxid: %w", err)
	}
	if dbUser != nil {
		return br.wrapUser(dbUser), nil
	}
	if !create {
		return nil, nil
	}
	dbUser = br.DB.User.New()
	dbUser.MXID = mxid
	if err = dbUser.Insert(ctx); err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return br.wrapUser(dbUser), nil
}

// GetUserByAppID resolves the admin/operator user owning a registered remote
// application. Returns nil when no user has registered that application.
func (br *Bridge) GetUserByAppID(ctx context.Context, appID string) (*User, error) {
	br.usersLock.Lock()
	defer br.usersLock.Unlock()
	if user, ok := br.usersByAppID[appID]; ok {
		return user, nil
	}
	dbUser, err := br.DB.User.GetByAppID(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by app id: %w", err)
	}
	if dbUser == nil {
		return nil, nil
	}
	return br.wrapUser(dbUser), nil
}

func (u *User) IsLoggedIn() bool {
	return u.AppID != ""
}

// MarkRegistered links the user to their freshly registered application and
// updates the registry index so webhook events can find them.
func (u *User) MarkRegistered(ctx context.Context, appID string) error {
	u.AppID = appID
	if err := u.Update(ctx); err != nil {
		u.AppID = ""
		return fmt.Errorf("failed to save user: %w", err)
	}
	u.bridge.usersLock.Lock()
	u.bridge.usersByAppID[appID] = u
	u.bridge.usersLock.Unlock()
	return nil
}

// SetNoticeRoom persists the room used for bridge status notices to this user.
func (u *User) SetNoticeRoom(ctx context.Context, roomID id.RoomID) error {
	u.NoticeRoom = roomID
	return u.Update(ctx)
}
