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

// Application is one registered integration: a Meta page or a WhatsApp
// business account, owned by one Matrix admin. Registered through the
// provisioning API, never auto-deleted.
type Application struct {
	qh *dbutil.QueryHelper[*Application]

	RemoteAppID string
	Name        string
	Network     platform.Network
	AdminUser   id.UserID
	SecondaryID string
	AccessToken string
}

func newApplication(qh *dbutil.QueryHelper[*Application]) *Application {
	return &Application{qh: qh}
}

type ApplicationQuery struct {
	*dbutil.QueryHelper[*Application]
}

const (
	applicationColumns = "remote_app_id, name, network, admin_user, secondary_id, access_token"

	getApplicationByRemoteIDQuery = `
		SELECT ` + applicationColumns + ` FROM application WHERE remote_app_id=$1
	`
	getApplicationByAdminQuery = `
		SELECT ` + applicationColumns + ` FROM application WHERE admin_user=$1
	`
	getAllApplicationsQuery = `
		SELECT ` + applicationColumns + ` FROM application
	`
	insertApplicationQuery = `
		INSERT INTO application (remote_app_id, name, network, admin_user, secondary_id, access_token)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	updateApplicationQuery = `
		UPDATE application SET name=$2, network=$3, admin_user=$4, secondary_id=$5, access_token=$6
		WHERE remote_app_id=$1
	`
)

func (aq *ApplicationQuery) GetByRemoteID(ctx context.Context, remoteAppID string) (*Application, error) {
	return aq.QueryOne(ctx, getApplicationByRemoteIDQuery, remoteAppID)
}

func (aq *ApplicationQuery) GetByAdmin(ctx context.Context, admin id.UserID) (*Application, error) {
	return aq.QueryOne(ctx, getApplicationByAdminQuery, admin)
}

func (aq *ApplicationQuery) GetAll(ctx context.Context) ([]*Application, error) {
	return aq.QueryMany(ctx, getAllApplicationsQuery)
}

func (app *Application) Scan(row dbutil.Scannable) (*Application, error) {
	var secondaryID, accessToken sql.NullString
	err := row.Scan(&app.RemoteAppID, &app.Name, &app.Network, &app.AdminUser, &secondaryID, &accessToken)
	if err != nil {
		return nil, err
	}
	app.SecondaryID = secondaryID.String
	app.AccessToken = accessToken.String
	return app, nil
}

func (app *Application) sqlVariables() []any {
	return []any{
		app.RemoteAppID, app.Name, app.Network, app.AdminUser,
		dbutil.StrPtr(app.SecondaryID), dbutil.StrPtr(app.AccessToken),
	}
}

func (app *Application) Insert(ctx context.Context) error {
	return app.qh.Exec(ctx, insertApplicationQuery, app.sqlVariables()...)
}

func (app *Application) Update(ctx context.Context) error {
	return app.qh.Exec(ctx, updateApplicationQuery, app.sqlVariables()...)
}

// Credentials packs the fields the platform adapters need for outbound calls.
func (app *Application) Credentials() platform.Credentials {
	return platform.Credentials{
		AppID:       app.RemoteAppID,
		SecondaryID: app.SecondaryID,
		AccessToken: app.AccessToken,
	}
}
