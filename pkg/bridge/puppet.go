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
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/lrhodin/cloudbridge/pkg/bridge/database"
	"github.com/lrhodin/cloudbridge/pkg/platform"
)

// Puppet is one ghost: the bridge's Matrix-side avatar for a remote account.
// The MXID field is derived from the account ref at wrap time and never
// persisted.
type Puppet struct {
	*database.Puppet

	bridge *Bridge
	log    zerolog.Logger
	MXID   id.UserID

	// infoLock serializes UpdateInfo: two inbound messages from the same
	// account may resolve the same Puppet concurrently.
	infoLock sync.Mutex
}

func (br *Bridge) wrapPuppet(dbPuppet *database.Puppet) *Puppet {
	puppet := &Puppet{
		Puppet: dbPuppet,
		bridge: br,
		MXID:   br.IDs.FormatGhostMXID(dbPuppet.AccountRef),
	}
	puppet.log = br.Log.With().Str("puppet", dbPuppet.AccountRef.String()).Logger()
	br.puppets[dbPuppet.AccountRef] = puppet
	return puppet
}

// GetPuppetByRef returns the one Puppet for a remote account, creating the row
// on first contact. The registry lock is held across the load-or-insert so two
// concurrent webhooks can't both insert; cross-process races fall back to the
// primary-key constraint and a re-read.
func (br *Bridge) GetPuppetByRef(ctx context.Context, ref platform.AccountRef, appID string, create bool) (*Puppet, error) {
	if ref.ID == "" {
		return nil, nil
	}
	br.puppetsLock.Lock()
	defer br.puppetsLock.Unlock()
	if puppet, ok := br.puppets[ref]; ok {
		return puppet, nil
	}
	dbPuppet, err := br.DB.Puppet.GetByRef(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get puppet: %w", err)
	}
	if dbPuppet != nil {
		return br.wrapPuppet(dbPuppet), nil
	}
	if !create {
		return nil, nil
	}
	dbPuppet = br.DB.Puppet.New()
	dbPuppet.AccountRef = ref
	dbPuppet.AppID = appID
	if err = dbPuppet.Insert(ctx); err != nil {
		if database.IsUniqueViolation(err) {
			dbPuppet, err = br.DB.Puppet.GetByRef(ctx, ref)
			if err != nil || dbPuppet == nil {
				return nil, fmt.Errorf("failed to re-read puppet after conflict: %w", err)
			}
			return br.wrapPuppet(dbPuppet), nil
		}
		return nil, fmt.Errorf("failed to insert puppet: %w", err)
	}
	return br.wrapPuppet(dbPuppet), nil
}

// GetPuppetByMXID inverts the ghost id template. Non-ghost mxids return nil.
func (br *Bridge) GetPuppetByMXID(ctx context.Context, mxid id.UserID, create bool) (*Puppet, error) {
	ref, ok := br.IDs.ParseGhostMXID(mxid)
	if !ok {
		return nil, nil
	}
	return br.GetPuppetByRef(ctx, ref, "", create)
}

func (p *Puppet) Intent() MatrixIntent {
	return p.bridge.Matrix.Ghost(p.MXID)
}

// UpdateInfo refreshes the ghost's display name from a remote profile. The
// Matrix-side rename is best-effort: a failure is logged and retried on the
// next inbound message because NameSet stays false.
func (p *Puppet) UpdateInfo(ctx context.Context, profile *platform.Profile, fallbackName string) error {
	p.infoLock.Lock()
	defer p.infoLock.Unlock()

	if !p.IsRegistered {
		if err := p.Intent().EnsureRegistered(ctx); err != nil {
			return fmt.Errorf("failed to register ghost: %w", err)
		}
		p.IsRegistered = true
	}

	name := fallbackName
	username := ""
	if profile != nil {
		username = profile.Username
		if profile.Name != "" {
			name = profile.Name
		}
	}
	displayname := p.bridge.Config.Bridge.FormatDisplayname(DisplaynameParams{
		Name:     name,
		Username: username,
		ID:       p.AccountRef.ID,
		Network:  string(p.AccountRef.Network),
	})
	if displayname == p.DisplayName && p.NameSet {
		return nil
	}
	p.DisplayName = displayname
	if err := p.Intent().SetDisplayName(ctx, displayname); err != nil {
		p.log.Warn().Err(err).Msg("Failed to update ghost displayname")
		p.NameSet = false
	} else {
		p.NameSet = true
	}
	if err := p.Update(ctx); err != nil {
		return fmt.Errorf("failed to save puppet: %w", err)
	}
	return nil
}
