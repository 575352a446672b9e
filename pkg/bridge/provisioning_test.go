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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lrhodin/cloudbridge/pkg/platform"
)

func provisionRequest(t *testing.T, method, path, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-secret")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestProvisioning_AuthRequired(t *testing.T) {
	br, _, _ := newTestBridge(t)
	req := httptest.NewRequest("POST", "/_matrix/provision/v1/register_app", strings.NewReader("{}"))
	resp, err := br.Websrv.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 403 {
		t.Errorf("status = %d, want 403 without bearer token", resp.StatusCode)
	}
}

func TestProvisioning_RegisterApp(t *testing.T) {
	br, _, _ := newTestBridge(t)
	body := `{
		"user_id": "@admin:example.com",
		"remote_app_id": "page1",
		"name": "My Page",
		"network": "meta",
		"secondary_id": "page1",
		"access_token": "EAAG..."
	}`
	resp, err := br.Websrv.Test(provisionRequest(t, "POST", "/_matrix/provision/v1/register_app", body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	ctx := context.Background()
	app, err := br.DB.Application.GetByRemoteID(ctx, "page1")
	if err != nil {
		t.Fatalf("get application: %v", err)
	}
	if app == nil || app.AdminUser != "@admin:example.com" {
		t.Fatalf("application = %+v", app)
	}
	user, err := br.GetUserByMXID(ctx, "@admin:example.com", false)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user == nil || !user.IsLoggedIn() || user.AppID != "page1" {
		t.Errorf("admin user not linked: %+v", user)
	}
}

func TestProvisioning_MissingFields(t *testing.T) {
	br, _, _ := newTestBridge(t)
	cases := []struct {
		name string
		body string
	}{
		{"user_id", `{"remote_app_id": "p", "access_token": "t", "network": "meta"}`},
		{"remote_app_id", `{"user_id": "@a:example.com", "access_token": "t", "network": "meta"}`},
		{"access_token", `{"user_id": "@a:example.com", "remote_app_id": "p", "network": "meta"}`},
		{"network", `{"user_id": "@a:example.com", "remote_app_id": "p", "access_token": "t"}`},
	}
	for _, tc := range cases {
		resp, err := br.Websrv.Test(provisionRequest(t, "POST", "/_matrix/provision/v1/register_app", tc.body))
		if err != nil {
			t.Fatalf("%s: request: %v", tc.name, err)
		}
		if resp.StatusCode != 400 {
			t.Errorf("%s: status = %d, want 400", tc.name, resp.StatusCode)
			continue
		}
		body := decodeBody(t, resp)
		if body["state"] != "missing-field" {
			t.Errorf("%s: state = %v, want missing-field", tc.name, body["state"])
		}
	}
}

func TestProvisioning_FailedRegistrationLeavesNoPartialState(t *testing.T) {
	br, _, _ := newTestBridge(t)
	ctx := context.Background()

	// Seed a conflicting application for the same admin directly, without a
	// user link, so the registration below fails on the admin uniqueness
	// constraint mid-write.
	orphan := br.DB.Application.New()
	orphan.RemoteAppID = "page-existing"
	orphan.Name = "Existing Page"
	orphan.Network = platform.NetworkMeta
	orphan.AdminUser = "@admin:example.com"
	orphan.AccessToken = "token"
	if err := orphan.Insert(ctx); err != nil {
		t.Fatalf("insert application: %v", err)
	}

	body := `{
		"user_id": "@admin:example.com",
		"remote_app_id": "page-new",
		"network": "meta",
		"access_token": "EAAG..."
	}`
	resp, err := br.Websrv.Test(provisionRequest(t, "POST", "/_matrix/provision/v1/register_app", body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 500 {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}

	// The application insert and the user link are one transaction: a failed
	// registration must leave neither behind.
	app, err := br.DB.Application.GetByRemoteID(ctx, "page-new")
	if err != nil {
		t.Fatalf("get application: %v", err)
	}
	if app != nil {
		t.Errorf("failed registration left an application row: %+v", app)
	}
	user, err := br.GetUserByMXID(ctx, "@admin:example.com", false)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user != nil && user.IsLoggedIn() {
		t.Errorf("failed registration left the user linked: %+v", user)
	}
}

func TestProvisioning_DuplicateRegistrations(t *testing.T) {
	br, _, _ := newTestBridge(t)
	registerTestApp(t, br)

	// Same admin, new application.
	resp, err := br.Websrv.Test(provisionRequest(t, "POST", "/_matrix/provision/v1/register_app", `{
		"user_id": "@admin:example.com",
		"remote_app_id": "page2",
		"network": "meta",
		"access_token": "t"
	}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 422 {
		t.Errorf("duplicate admin status = %d, want 422", resp.StatusCode)
	}

	// New admin, already-registered application.
	resp, err = br.Websrv.Test(provisionRequest(t, "POST", "/_matrix/provision/v1/register_app", `{
		"user_id": "@other:example.com",
		"remote_app_id": "page1",
		"network": "meta",
		"access_token": "t"
	}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 422 {
		t.Errorf("duplicate app status = %d, want 422", resp.StatusCode)
	}
}

func TestProvisioning_UpdateApp(t *testing.T) {
	br, _, _ := newTestBridge(t)
	registerTestApp(t, br)

	resp, err := br.Websrv.Test(provisionRequest(t, "PATCH", "/_matrix/provision/v1/update_app", `{
		"user_id": "@admin:example.com",
		"access_token": "rotated-token"
	}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	app, err := br.DB.Application.GetByRemoteID(context.Background(), testAppID)
	if err != nil {
		t.Fatalf("get application: %v", err)
	}
	if app.AccessToken != "rotated-token" {
		t.Errorf("access token = %q, want rotated-token", app.AccessToken)
	}
	if app.Name != "Test Page" {
		t.Errorf("name changed unexpectedly to %q", app.Name)
	}

	resp, err = br.Websrv.Test(provisionRequest(t, "PATCH", "/_matrix/provision/v1/update_app", `{
		"user_id": "@nobody:example.com",
		"name": "x"
	}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("unknown admin status = %d, want 404", resp.StatusCode)
	}
}
