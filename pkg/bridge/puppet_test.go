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
	"sync"
	"testing"

	"github.com/lrhodin/cloudbridge/pkg/platform"
)

func TestPuppet_ConcurrentUpdateInfo(t *testing.T) {
	br, matrix, _ := newTestBridge(t)
	registerTestApp(t, br)
	ctx := context.Background()
	ref := platform.AccountRef{Network: platform.NetworkMeta, ID: "1122334455"}
	puppet, err := br.GetPuppetByRef(ctx, ref, testAppID, true)
	if err != nil {
		t.Fatalf("get puppet: %v", err)
	}

	profile := &platform.Profile{ID: "1122334455", Name: "Remote User"}
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- puppet.UpdateInfo(ctx, profile, "fallback")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("update info: %v", err)
		}
	}

	if !puppet.NameSet || puppet.DisplayName != "Remote User" {
		t.Errorf("puppet name = %q (set=%v), want Remote User", puppet.DisplayName, puppet.NameSet)
	}
	matrix.mu.Lock()
	name := matrix.names[puppet.MXID]
	matrix.mu.Unlock()
	if name != "Remote User" {
		t.Errorf("displayname on Matrix = %q, want Remote User", name)
	}
	row, err := br.DB.Puppet.GetByRef(ctx, ref)
	if err != nil {
		t.Fatalf("get puppet row: %v", err)
	}
	if row == nil || row.DisplayName != "Remote User" || !row.NameSet || !row.IsRegistered {
		t.Errorf("stored puppet = %+v", row)
	}
}

func TestPuppet_UpdateInfoFallbackName(t *testing.T) {
	br, _, _ := newTestBridge(t)
	registerTestApp(t, br)
	ctx := context.Background()
	ref := platform.AccountRef{Network: platform.NetworkWhatsApp, ID: "15551234567"}
	puppet, err := br.GetPuppetByRef(ctx, ref, testAppID, true)
	if err != nil {
		t.Fatalf("get puppet: %v", err)
	}
	if err = puppet.UpdateInfo(ctx, nil, "Alice"); err != nil {
		t.Fatalf("update info: %v", err)
	}
	if puppet.DisplayName != "Alice" || !puppet.NameSet {
		t.Errorf("puppet name = %q (set=%v), want the fallback", puppet.DisplayName, puppet.NameSet)
	}
}
