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

	"github.com/lrhodin/cloudbridge/pkg/platform"
)

// Puppet is the stored state of one ghost. The ghost's Matrix user id is not a
// column: it is derived from the account ref by the bridge's id template.
// Puppet rows are never deleted, ghost identities outlive portals.
type Puppet struct {
	qh *dbutil.QueryHelper[*Puppet]

	AccountRef   platform.AccountRef
	AppID        string
	DisplayName  string
	NameSet      bool
	IsRegistered bool
}

func newPuppet(qh *dbutil.QueryHelper[*Puppet]) *Puppet {
	return &Puppet{qh: qh}
}

type PuppetQuery struct {
	*dbutil.QueryHelper[*Puppet]
}

const (
	puppetColumns = `remote_account_id, network, app_id, display_name, name_set, is_registered`

	getPuppetByRefQuery = `
		SELECT ` + puppetColumns + ` FROM puppet WHERE remote_account_id=$1 AND network=$2
	`
	insertPuppetQuery = `
		INSERT INTO puppet (remote_account_id, network, app_id, display_name, name_set, is_registered)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	updatePuppetQuery = `
		UPDATE puppet SET app_id=$3, display_name=$4, name_set=$5, is_registered=$6
		WHERE remote_account_id=$1 AND network=$2
	`
)

func (pq *PuppetQuery) GetByRef(ctx context.Context, ref platform.AccountRef) (*Puppet, error) {
	return pq.QueryOne(ctx, getPuppetByRefQuery, ref.ID, ref.Network)
}

func (p *Puppet) Scan(row dbutil.Scannable) (*Puppet, error) {
	var appID, displayName sql.NullString
	err := row.Scan(
		&p.AccountRef.ID, &p.AccountRef.Network, &appID, &displayName, &p.NameSet,
		&p.IsRegistered,
	)
	if err != nil {
		return nil, err
	}
	p.AppID = appID.String
	p.DisplayName = displayName.String
	return p, nil
}

func (p *Puppet) sqlVariables() []any {
	return []any{
		p.AccountRef.ID, p.AccountRef.Network, dbutil.StrPtr(p.AppID), dbutil.StrPtr(p.DisplayName),
		p.NameSet, p.IsRegistered,
	}
}

func (p *Puppet) Insert(ctx context.Context) error {
	return p.qh.Exec(ctx, insertPuppetQuery, p.sqlVariables()...)
}

func (p *Puppet) Update(ctx context.Context) error {
	return p.qh.Exec(ctx, updatePuppetQuery, p.sqlVariables()...)
}
