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
	"strings"

	"maunium.net/go/mautrix/id"

	"github.com/lrhodin/cloudbridge/pkg/platform"
)

// GhostIDTemplate maps remote account refs to ghost Matrix user ids and back.
// The mapping is pure: ghost mxids are recomputed, never stored or looked up.
type GhostIDTemplate struct {
	prefix string
	suffix string
	domain string
}

// FormatGhostMXID derives the deterministic Matrix user id for a remote
// account.
func (t GhostIDTemplate) FormatGhostMXID(ref platform.AccountRef) id.UserID {
	return id.NewUserID(t.prefix+string(ref.Network)+"_"+ref.ID+t.suffix, t.domain)
}

// ParseGhostMXID inverts FormatGhostMXID. The second return is false for any
// Matrix id that is not one of this bridge's ghosts; such ids may be real
// bridge users.
func (t GhostIDTemplate) ParseGhostMXID(userID id.UserID) (platform.AccountRef, bool) {
	raw := string(userID)
	if !strings.HasPrefix(raw, "@") {
		return platform.AccountRef{}, false
	}
	localpart, homeserver, found := strings.Cut(raw[1:], ":")
	if !found || homeserver != t.domain {
		return platform.AccountRef{}, false
	}
	if !strings.HasPrefix(localpart, t.prefix) || !strings.HasSuffix(localpart, t.suffix) {
		return platform.AccountRef{}, false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(localpart, t.prefix), t.suffix)
	network, accountID, found := strings.Cut(inner, "_")
	if !found || accountID == "" {
		return platform.AccountRef{}, false
	}
	switch platform.Network(network) {
	case platform.NetworkMeta, platform.NetworkWhatsApp:
		return platform.AccountRef{Network: platform.Network(network), ID: accountID}, true
	default:
		return platform.AccountRef{}, false
	}
}

// IsGhostMXID is a convenience wrapper for short-circuiting user lookups.
func (t GhostIDTemplate) IsGhostMXID(userID id.UserID) bool {
	_, ok := t.ParseGhostMXID(userID)
	return ok
}
