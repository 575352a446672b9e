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

package meta

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lrhodin/cloudbridge/pkg/platform"
)

func testClient() *Client {
	return NewClient("https://graph.facebook.com", "v19.0", 5*time.Second, zerolog.Nop())
}

func TestParseEvent_TextMessage(t *testing.T) {
	payload := `{
		"object": "page",
		"entry": [{
			"id": "page1",
			"time": 1700000000000,
			"messaging": [{
				"sender": {"id": "1122334455"},
				"recipient": {"id": "page1"},
				"timestamp": 1700000000123,
				"message": {"mid": "mid.abc", "text": "hello there"}
			}]
		}]
	}`
	evt, err := testClient().ParseEvent([]byte(payload))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	msg, ok := evt.(*platform.MessageEvent)
	if !ok {
		t.Fatalf("event type = %T, want MessageEvent", evt)
	}
	if msg.App != "page1" || msg.Sender != "1122334455" || msg.MessageID != "mid.abc" || msg.Text != "hello there" {
		t.Errorf("event = %+v", msg)
	}
	if msg.Timestamp.UnixMilli() != 1700000000123 {
		t.Errorf("timestamp = %v", msg.Timestamp)
	}
}

func TestParseEvent_QuickReplyOverridesText(t *testing.T) {
	payload := `{
		"object": "page",
		"entry": [{"id": "page1", "messaging": [{
			"sender": {"id": "1"},
			"message": {"mid": "mid.qr", "text": "Yes please", "quick_reply": {"payload": "ORDER_CONFIRM"}}
		}]}]
	}`
	evt, err := testClient().ParseEvent([]byte(payload))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.(*platform.MessageEvent).Text != "ORDER_CONFIRM" {
		t.Errorf("text = %q, want the quick reply payload", evt.(*platform.MessageEvent).Text)
	}
}

func TestParseEvent_Reply(t *testing.T) {
	payload := `{
		"object": "page",
		"entry": [{"id": "page1", "messaging": [{
			"sender": {"id": "1"},
			"message": {"mid": "mid.2", "text": "replying", "reply_to": {"mid": "mid.1"}}
		}]}]
	}`
	evt, err := testClient().ParseEvent([]byte(payload))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.(*platform.MessageEvent).ReplyToID != "mid.1" {
		t.Errorf("reply to = %q, want mid.1", evt.(*platform.MessageEvent).ReplyToID)
	}
}

func TestParseEvent_Attachment(t *testing.T) {
	payload := `{
		"object": "page",
		"entry": [{"id": "page1", "messaging": [{
			"sender": {"id": "1"},
			"message": {"mid": "mid.img", "attachments": [
				{"type": "image", "payload": {"url": "https://cdn.fbsbx.com/pic.jpg"}}
			]}
		}]}]
	}`
	evt, err := testClient().ParseEvent([]byte(payload))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	att := evt.(*platform.MessageEvent).Attachment
	if att == nil || att.Kind != platform.AttachmentImage || att.Ref != "https://cdn.fbsbx.com/pic.jpg" {
		t.Errorf("attachment = %+v", att)
	}
}

func TestParseEvent_UnsupportedAttachment(t *testing.T) {
	payload := `{
		"object": "page",
		"entry": [{"id": "page1", "messaging": [{
			"sender": {"id": "1"},
			"message": {"mid": "mid.x", "attachments": [{"type": "template"}]}
		}]}]
	}`
	_, err := testClient().ParseEvent([]byte(payload))
	if !errors.Is(err, platform.ErrUnsupportedType) {
		t.Errorf("err = %v, want ErrUnsupportedType", err)
	}
}

func TestParseEvent_EchoIgnored(t *testing.T) {
	payload := `{
		"object": "page",
		"entry": [{"id": "page1", "messaging": [{
			"sender": {"id": "page1"},
			"message": {"mid": "mid.echo", "text": "our own message", "is_echo": true}
		}]}]
	}`
	_, err := testClient().ParseEvent([]byte(payload))
	if !errors.Is(err, platform.ErrUnknownEvent) {
		t.Errorf("err = %v, want ErrUnknownEvent for echoes", err)
	}
}

func TestParseEvent_Reaction(t *testing.T) {
	payload := `{
		"object": "page",
		"entry": [{"id": "page1", "messaging": [{
			"sender": {"id": "1122334455"},
			"reaction": {"mid": "mid.1", "action": "react", "emoji": "❤"}
		}]}]
	}`
	evt, err := testClient().ParseEvent([]byte(payload))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	reaction, ok := evt.(*platform.ReactionEvent)
	if !ok {
		t.Fatalf("event type = %T, want ReactionEvent", evt)
	}
	if reaction.MessageID != "mid.1" || reaction.Emoji != "❤" || reaction.Remove {
		t.Errorf("reaction = %+v", reaction)
	}

	unreact := `{
		"object": "page",
		"entry": [{"id": "page1", "messaging": [{
			"sender": {"id": "1122334455"},
			"reaction": {"mid": "mid.1", "action": "unreact"}
		}]}]
	}`
	evt, err = testClient().ParseEvent([]byte(unreact))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if !evt.(*platform.ReactionEvent).Remove {
		t.Error("unreact not flagged as removal")
	}
}

func TestParseEvent_ReadStatus(t *testing.T) {
	payload := `{
		"object": "page",
		"entry": [{"id": "page1", "messaging": [{
			"sender": {"id": "1122334455"},
			"read": {"watermark": 1700000000000}
		}]}]
	}`
	evt, err := testClient().ParseEvent([]byte(payload))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	status, ok := evt.(*platform.StatusEvent)
	if !ok {
		t.Fatalf("event type = %T, want StatusEvent", evt)
	}
	if status.Kind != platform.StatusRead || status.Sender != "1122334455" {
		t.Errorf("status = %+v", status)
	}
}

func TestParseEvent_Garbage(t *testing.T) {
	for _, payload := range []string{"", "not json", `{"object": "page", "entry": []}`} {
		if _, err := testClient().ParseEvent([]byte(payload)); !errors.Is(err, platform.ErrUnknownEvent) {
			t.Errorf("ParseEvent(%q) err = %v, want ErrUnknownEvent", payload, err)
		}
	}
}
