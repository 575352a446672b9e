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
	"testing"

	"maunium.net/go/mautrix/id"

	"github.com/lrhodin/cloudbridge/pkg/platform"
)

func testTemplate(t *testing.T) GhostIDTemplate {
	t.Helper()
	cfg := &Config{}
	cfg.Bridge.UsernameTemplate = "cloudbridge_{userid}"
	cfg.Homeserver.Domain = "example.com"
	return cfg.GhostIDTemplate()
}

func TestGhostIDTemplate_Format(t *testing.T) {
	tmpl := testTemplate(t)
	ref := platform.AccountRef{Network: platform.NetworkMeta, ID: "1122334455"}
	mxid := tmpl.FormatGhostMXID(ref)
	if mxid != "@cloudbridge_meta_1122334455:example.com" {
		t.Errorf("FormatGhostMXID = %q", mxid)
	}
	// Determinism: same ref, same mxid, every time.
	if again := tmpl.FormatGhostMXID(ref); again != mxid {
		t.Errorf("second format = %q, want %q", again, mxid)
	}
}

func TestGhostIDTemplate_RoundTrip(t *testing.T) {
	tmpl := testTemplate(t)
	refs := []platform.AccountRef{
		{Network: platform.NetworkMeta, ID: "1234"},
		{Network: platform.NetworkWhatsApp, ID: "15551234567"},
		{Network: platform.NetworkMeta, ID: "id_with_underscores"},
	}
	for _, ref := range refs {
		parsed, ok := tmpl.ParseGhostMXID(tmpl.FormatGhostMXID(ref))
		if !ok {
			t.Errorf("ParseGhostMXID(%s) not recognized as ghost", ref)
			continue
		}
		if parsed != ref {
			t.Errorf("round trip = %v, want %v", parsed, ref)
		}
	}
}

func TestGhostIDTemplate_ParseRejectsNonGhosts(t *testing.T) {
	tmpl := testTemplate(t)
	cases := []id.UserID{
		"@alice:example.com",
		"@cloudbridge_meta_123:other.com",
		"@cloudbridge_telegram_123:example.com",
		"@cloudbridge_meta_:example.com",
		"@cloudbridgebot:example.com",
		"not-an-mxid",
	}
	for _, mxid := range cases {
		if _, ok := tmpl.ParseGhostMXID(mxid); ok {
			t.Errorf("ParseGhostMXID(%q) unexpectedly succeeded", mxid)
		}
		if tmpl.IsGhostMXID(mxid) {
			t.Errorf("IsGhostMXID(%q) = true", mxid)
		}
	}
}

func TestGhostIDTemplate_Suffix(t *testing.T) {
	cfg := &Config{}
	cfg.Bridge.UsernameTemplate = "_cb_{userid}_bridge"
	cfg.Homeserver.Domain = "example.com"
	tmpl := cfg.GhostIDTemplate()
	ref := platform.AccountRef{Network: platform.NetworkWhatsApp, ID: "999"}
	mxid := tmpl.FormatGhostMXID(ref)
	if mxid != "@_cb_whatsapp_999_bridge:example.com" {
		t.Errorf("FormatGhostMXID = %q", mxid)
	}
	parsed, ok := tmpl.ParseGhostMXID(mxid)
	if !ok || parsed != ref {
		t.Errorf("round trip = %v (%v), want %v", parsed, ok, ref)
	}
}
