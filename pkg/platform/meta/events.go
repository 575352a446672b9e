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
	"encoding/json"
	"fmt"
	"time"

	"github.com/lrhodin/cloudbridge/pkg/platform"
)

// Webhook wire format. Only the identifiers and content the bridge extracts
// are modeled; everything else in the payload is ignored.

type webhookPayload struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []messaging `json:"messaging"`
}

type messaging struct {
	Sender    idRef       `json:"sender"`
	Recipient idRef       `json:"recipient"`
	Timestamp int64       `json:"timestamp"`
	Message   *message    `json:"message,omitempty"`
	Reaction  *reaction   `json:"reaction,omitempty"`
	Postback  *postback   `json:"postback,omitempty"`
	Delivery  *delivery   `json:"delivery,omitempty"`
	Read      *readStatus `json:"read,omitempty"`
}

type idRef struct {
	ID string `json:"id"`
}

type message struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text"`
	IsEcho      bool         `json:"is_echo"`
	QuickReply  *quickReply  `json:"quick_reply,omitempty"`
	ReplyTo     *replyTo     `json:"reply_to,omitempty"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type quickReply struct {
	Payload string `json:"payload"`
}

type replyTo struct {
	MID string `json:"mid"`
}

type attachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

type reaction struct {
	MID    string `json:"mid"`
	Action string `json:"action"`
	Emoji  string `json:"emoji"`
}

type postback struct {
	MID     string `json:"mid"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type delivery struct {
	MIDs []string `json:"mids"`
}

type readStatus struct {
	Watermark int64 `json:"watermark"`
}

// ParseEvent decodes a Messenger Platform webhook body into one typed event.
// Echoes of the bridge's own messages and shapes the bridge doesn't handle
// come back as ErrUnknownEvent.
func (c *Client) ParseEvent(payload []byte) (platform.Event, error) {
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrUnknownEvent, err)
	}
	if len(body.Entry) == 0 || len(body.Entry[0].Messaging) == 0 {
		return nil, fmt.Errorf("%w: no messaging entry", platform.ErrUnknownEvent)
	}
	ent := body.Entry[0]
	msging := ent.Messaging[0]

	switch {
	case msging.Message != nil && !msging.Message.IsEcho:
		return makeMessageEvent(ent.ID, msging)
	case msging.Postback != nil:
		return &platform.MessageEvent{
			App:       ent.ID,
			Sender:    msging.Sender.ID,
			MessageID: msging.Postback.MID,
			Timestamp: time.UnixMilli(msging.Timestamp),
			Text:      msging.Postback.Payload,
		}, nil
	case msging.Reaction != nil:
		return &platform.ReactionEvent{
			App:       ent.ID,
			Sender:    msging.Sender.ID,
			MessageID: msging.Reaction.MID,
			Emoji:     msging.Reaction.Emoji,
			Remove:    msging.Reaction.Action == "unreact",
		}, nil
	case msging.Read != nil:
		return &platform.StatusEvent{
			App:    ent.ID,
			Sender: msging.Sender.ID,
			Kind:   platform.StatusRead,
		}, nil
	case msging.Delivery != nil:
		evt := &platform.StatusEvent{
			App:    ent.ID,
			Sender: msging.Sender.ID,
			Kind:   platform.StatusDelivered,
		}
		if len(msging.Delivery.MIDs) > 0 {
			evt.MessageID = msging.Delivery.MIDs[0]
		}
		return evt, nil
	default:
		return nil, fmt.Errorf("%w: no handled messaging field", platform.ErrUnknownEvent)
	}
}

func makeMessageEvent(appID string, msging messaging) (*platform.MessageEvent, error) {
	msg := msging.Message
	evt := &platform.MessageEvent{
		App:       appID,
		Sender:    msging.Sender.ID,
		MessageID: msg.MID,
		Timestamp: time.UnixMilli(msging.Timestamp),
		Text:      msg.Text,
	}
	if msg.QuickReply != nil {
		evt.Text = msg.QuickReply.Payload
	}
	if msg.ReplyTo != nil {
		evt.ReplyToID = msg.ReplyTo.MID
	}
	if len(msg.Attachments) > 0 {
		att := msg.Attachments[0]
		kind, ok := attachmentKinds[att.Type]
		if !ok {
			return nil, fmt.Errorf("%w: attachment type %q", platform.ErrUnsupportedType, att.Type)
		}
		evt.Attachment = &platform.Attachment{
			Kind: kind,
			Ref:  att.Payload.URL,
		}
	}
	return evt, nil
}

var attachmentKinds = map[string]platform.AttachmentKind{
	"image": platform.AttachmentImage,
	"video": platform.AttachmentVideo,
	"audio": platform.AttachmentAudio,
	"file":  platform.AttachmentFile,
}
