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

// Package database holds the bridge's durable state: registered applications,
// Matrix users, ghost puppets, portals, and the message/reaction correlation
// tables. Storage-level uniqueness constraints are the source of truth for
// "already processed"; the in-memory registries in pkg/bridge are a cache on
// top of this package.
package database

import (
	"errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.mau.fi/util/dbutil"

	"github.com/lrhodin/cloudbridge/pkg/bridge/database/upgrades"
)

type Database struct {
	*dbutil.Database

	Application *ApplicationQuery
	User        *UserQuery
	Puppet      *PuppetQuery
	Portal      *PortalQuery
	Message     *MessageQuery
	Reaction    *ReactionQuery
}

func New(db *dbutil.Database) *Database {
	db.UpgradeTable = upgrades.Table
	db.VersionTable = "version"
	return &Database{
		Database:    db,
		Application: &ApplicationQuery{dbutil.MakeQueryHelper(db, newApplication)},
		User:        &UserQuery{dbutil.MakeQueryHelper(db, newUser)},
		Puppet:      &PuppetQuery{dbutil.MakeQueryHelper(db, newPuppet)},
		Portal:      &PortalQuery{dbutil.MakeQueryHelper(db, newPortal)},
		Message:     &MessageQuery{dbutil.MakeQueryHelper(db, newMessage)},
		Reaction:    &ReactionQuery{dbutil.MakeQueryHelper(db, newReaction)},
	}
}

// IsUniqueViolation reports whether err is a uniqueness-constraint failure
// from either supported driver. Callers on correlation inserts must treat it
// as "already recorded by a concurrent delivery", not as a fatal error.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
