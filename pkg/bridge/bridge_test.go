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
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/lrhodin/cloudbridge/pkg/bridge/database"
	"github.com/lrhodin/cloudbridge/pkg/platform"
)

const (
	testBotMXID   = id.UserID("@cloudbridgebot:example.com")
	testAdminMXID = id.UserID("@admin:example.com")
	testAppID     = "page1"
)

// fakeMatrix implements MatrixConnector with shared in-memory recording so
// tests can assert on everything the core did Matrix-side.
type fakeMatrix struct {
	mu      sync.Mutex
	counter int

	sent     []sentMatrixEvent
	rooms    []id.RoomID
	redacted []id.EventID
	read     []id.EventID
	names    map[id.UserID]string
}

type sentMatrixEvent struct {
	sender  id.UserID
	roomID  id.RoomID
	eventID id.EventID
	content *event.MessageEventContent
	// reactionKey is set instead of content for annotation events.
	reactionKey    string
	reactionTarget id.EventID
}

func newFakeMatrix() *fakeMatrix {
	return &fakeMatrix{names: make(map[id.UserID]string)}
}

func (fm *fakeMatrix) Bot() MatrixIntent              { return &fakeIntent{fm: fm, userID: testBotMXID} }
func (fm *fakeMatrix) Ghost(u id.UserID) MatrixIntent { return &fakeIntent{fm: fm, userID: u} }
func (fm *fakeMatrix) PublicMediaURL(uri id.ContentURI) string {
	return "https://matrix.example.com/media/" + uri.FileID
}

func (fm *fakeMatrix) nextID(prefix string) string {
	fm.counter++
	return fmt.Sprintf("%s%d", prefix, fm.counter)
}

// notices returns the m.notice messages the bot posted.
func (fm *fakeMatrix) notices() []sentMatrixEvent {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	var out []sentMatrixEvent
	for _, evt := range fm.sent {
		if evt.content != nil && evt.content.MsgType == event.MsgNotice {
			out = append(out, evt)
		}
	}
	return out
}

func (fm *fakeMatrix) messages() []sentMatrixEvent {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	var out []sentMatrixEvent
	for _, evt := range fm.sent {
		if evt.content != nil && evt.content.MsgType != event.MsgNotice {
			out = append(out, evt)
		}
	}
	return out
}

type fakeIntent struct {
	fm     *fakeMatrix
	userID id.UserID
}

var _ MatrixIntent = (*fakeIntent)(nil)

func (fi *fakeIntent) UserID() id.UserID                                   { return fi.userID }
func (fi *fakeIntent) EnsureRegistered(ctx context.Context) error          { return nil }
func (fi *fakeIntent) EnsureJoined(ctx context.Context, _ id.RoomID) error { return nil }

func (fi *fakeIntent) SendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	fi.fm.mu.Lock()
	defer fi.fm.mu.Unlock()
	eventID := id.EventID(fi.fm.nextID("$evt"))
	fi.fm.sent = append(fi.fm.sent, sentMatrixEvent{
		sender:  fi.userID,
		roomID:  roomID,
		eventID: eventID,
		content: content,
	})
	return eventID, nil
}

func (fi *fakeIntent) SendNotice(ctx context.Context, roomID id.RoomID, text string) (id.EventID, error) {
	return fi.SendMessage(ctx, roomID, &event.MessageEventContent{MsgType: event.MsgNotice, Body: text})
}

func (fi *fakeIntent) SendReaction(ctx context.Context, roomID id.RoomID, target id.EventID, key string) (id.EventID, error) {
	fi.fm.mu.Lock()
	defer fi.fm.mu.Unlock()
	eventID := id.EventID(fi.fm.nextID("$react"))
	fi.fm.sent = append(fi.fm.sent, sentMatrixEvent{
		sender:         fi.userID,
		roomID:         roomID,
		eventID:        eventID,
		reactionKey:    key,
		reactionTarget: target,
	})
	return eventID, nil
}

func (fi *fakeIntent) RedactEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) error {
	fi.fm.mu.Lock()
	defer fi.fm.mu.Unlock()
	fi.fm.redacted = append(fi.fm.redacted, eventID)
	return nil
}

func (fi *fakeIntent) MarkRead(ctx context.Context, roomID id.RoomID, eventID id.EventID) error {
	fi.fm.mu.Lock()
	defer fi.fm.mu.Unlock()
	fi.fm.read = append(fi.fm.read, eventID)
	return nil
}

func (fi *fakeIntent) SetDisplayName(ctx context.Context, name string) error {
	fi.fm.mu.Lock()
	defer fi.fm.mu.Unlock()
	fi.fm.names[fi.userID] = name
	return nil
}

func (fi *fakeIntent) CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (id.RoomID, error) {
	fi.fm.mu.Lock()
	defer fi.fm.mu.Unlock()
	roomID := id.RoomID(fi.fm.nextID("!room") + ":example.com")
	fi.fm.rooms = append(fi.fm.rooms, roomID)
	return roomID, nil
}

func (fi *fakeIntent) UploadMedia(ctx context.Context, data []byte, mimeType string) (id.ContentURI, error) {
	fi.fm.mu.Lock()
	defer fi.fm.mu.Unlock()
	return id.ContentURI{Homeserver: "example.com", FileID: fi.fm.nextID("file")}, nil
}

// fakeAdapter implements platform.Adapter with scriptable failures.
type fakeAdapter struct {
	network platform.Network
	parse   func(payload []byte) (platform.Event, error)

	mu        sync.Mutex
	counter   int
	sendErr   error
	sent      []*platform.OutgoingMessage
	reactions []fakeReactionCall
	reads     []string
	profiles  map[string]*platform.Profile
	media     map[string][]byte
}

type fakeReactionCall struct {
	recipient string
	messageID string
	emoji     string
}

var _ platform.Adapter = (*fakeAdapter)(nil)

func newFakeAdapter(network platform.Network) *fakeAdapter {
	return &fakeAdapter{
		network:  network,
		profiles: make(map[string]*platform.Profile),
		media:    make(map[string][]byte),
	}
}

func (fa *fakeAdapter) Network() platform.Network { return fa.network }

func (fa *fakeAdapter) ParseEvent(payload []byte) (platform.Event, error) {
	if fa.parse == nil {
		return nil, platform.ErrUnknownEvent
	}
	return fa.parse(payload)
}

func (fa *fakeAdapter) SendMessage(ctx context.Context, creds platform.Credentials, msg *platform.OutgoingMessage) (string, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.sendErr != nil {
		return "", fa.sendErr
	}
	fa.counter++
	fa.sent = append(fa.sent, msg)
	return fmt.Sprintf("mid.out.%d", fa.counter), nil
}

func (fa *fakeAdapter) SendReaction(ctx context.Context, creds platform.Credentials, recipient, messageID, emoji string) error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.sendErr != nil {
		return fa.sendErr
	}
	fa.reactions = append(fa.reactions, fakeReactionCall{recipient, messageID, emoji})
	return nil
}

func (fa *fakeAdapter) MarkRead(ctx context.Context, creds platform.Credentials, recipient, messageID string) error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.reads = append(fa.reads, messageID)
	return nil
}

func (fa *fakeAdapter) GetProfile(ctx context.Context, creds platform.Credentials, accountID string) (*platform.Profile, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	profile, ok := fa.profiles[accountID]
	if !ok {
		return nil, &platform.RemoteError{Code: 100, Message: "no profile available"}
	}
	return profile, nil
}

func (fa *fakeAdapter) DownloadMedia(ctx context.Context, creds platform.Credentials, ref string) ([]byte, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	data, ok := fa.media[ref]
	if !ok {
		return nil, &platform.RemoteError{Code: 404, Message: "media not found"}
	}
	return data, nil
}

var testBridgeCounter int

func newTestBridge(t *testing.T) (*Bridge, *fakeMatrix, *fakeAdapter) {
	t.Helper()
	cfg := &Config{}
	cfg.Homeserver.Address = "http://localhost:8008"
	cfg.Homeserver.Domain = "example.com"
	cfg.Bridge.UsernameTemplate = "cloudbridge_{userid}"
	cfg.Bridge.DisplaynameTemplate = "{{.Name}}"
	cfg.Bridge.BridgeNotices = true
	cfg.Webhook.VerifyToken = "test-verify"
	cfg.Webhook.SharedSecret = "test-secret"
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("config: %v", err)
	}

	testBridgeCounter++
	uri := fmt.Sprintf("file:bridge-test-%d?mode=memory&cache=shared", testBridgeCounter)
	rawDB, err := dbutil.NewWithDialect(uri, "sqlite3")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	db := database.New(rawDB)
	if err = db.Upgrade(context.Background()); err != nil {
		t.Fatalf("upgrade database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	matrix := newFakeMatrix()
	adapter := newFakeAdapter(platform.NetworkMeta)
	br := New(cfg, zerolog.Nop(), db, matrix, adapter)
	return br, matrix, adapter
}

// registerTestApp seeds one registered Meta application owned by the admin.
func registerTestApp(t *testing.T, br *Bridge) *database.Application {
	t.Helper()
	ctx := context.Background()
	app := br.DB.Application.New()
	app.RemoteAppID = testAppID
	app.Name = "Test Page"
	app.Network = platform.NetworkMeta
	app.AdminUser = testAdminMXID
	app.SecondaryID = "page1"
	app.AccessToken = "token"
	if err := app.Insert(ctx); err != nil {
		t.Fatalf("insert application: %v", err)
	}
	user, err := br.GetUserByMXID(ctx, testAdminMXID, true)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err = user.MarkRegistered(ctx, app.RemoteAppID); err != nil {
		t.Fatalf("register user: %v", err)
	}
	return app
}
