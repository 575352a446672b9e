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

package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lrhodin/cloudbridge/pkg/platform"
)

type webhookPayload struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string `json:"field"`
	Value value  `json:"value"`
}

type value struct {
	MessagingProduct string      `json:"messaging_product"`
	Contacts         []contact   `json:"contacts,omitempty"`
	Messages         []wsMessage `json:"messages,omitempty"`
	Statuses         []wsStatus  `json:"statuses,omitempty"`
}

type contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type wsMessage struct {
	From      string      `json:"from"`
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	Type      string      `json:"type"`
	Text      *wsText     `json:"text,omitempty"`
	Image     *wsMedia    `json:"image,omitempty"`
	Video     *wsMedia    `json:"video,omitempty"`
	Audio     *wsMedia    `json:"audio,omitempty"`
	Document  *wsMedia    `json:"document,omitempty"`
	Sticker   *wsMedia    `json:"sticker,omitempty"`
	Reaction  *wsReaction `json:"reaction,omitempty"`
	Context   *wsContext  `json:"context,omitempty"`
}

type wsText struct {
	Body string `json:"body"`
}

type wsMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type wsReaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type wsContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

type wsStatus struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	RecipientID string    `json:"recipient_id"`
	Errors      []wsError `json:"errors,omitempty"`
}

type wsError struct {
	Code      int    `json:"code"`
	Title     string `json:"title"`
	ErrorData struct {
		Details string `json:"details"`
	} `json:"error_data"`
}

// ParseEvent decodes a Cloud API webhook body into one typed event. Inbound
// reactions arrive as messages of type "reaction"; failed statuses become
// ErrorEvents for the admin notice room.
func (c *Client) ParseEvent(payload []byte) (platform.Event, error) {
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrUnknownEvent, err)
	}
	if len(body.Entry) == 0 || len(body.Entry[0].Changes) == 0 {
		return nil, fmt.Errorf("%w: no changes entry", platform.ErrUnknownEvent)
	}
	ent := body.Entry[0]
	val := ent.Changes[0].Value

	if len(val.Messages) > 0 {
		return makeMessageEvent(ent.ID, val)
	}
	if len(val.Statuses) > 0 {
		return makeStatusEvent(ent.ID, val.Statuses[0])
	}
	return nil, fmt.Errorf("%w: no messages or statuses", platform.ErrUnknownEvent)
}

func makeMessageEvent(appID string, val value) (platform.Event, error) {
	msg := val.Messages[0]
	if msg.Type == "reaction" && msg.Reaction != nil {
		return &platform.ReactionEvent{
			App:       appID,
			Sender:    msg.From,
			MessageID: msg.Reaction.MessageID,
			Emoji:     msg.Reaction.Emoji,
			Remove:    msg.Reaction.Emoji == "",
		}, nil
	}

	ts, _ := strconv.ParseInt(msg.Timestamp, 10, 64)
	evt := &platform.MessageEvent{
		App:       appID,
		Sender:    msg.From,
		MessageID: msg.ID,
		Timestamp: time.Unix(ts, 0),
	}
	if len(val.Contacts) > 0 {
		evt.SenderName = val.Contacts[0].Profile.Name
	}
	if msg.Context != nil {
		evt.ReplyToID = msg.Context.ID
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return nil, fmt.Errorf("%w: text message without body", platform.ErrUnknownEvent)
		}
		evt.Text = msg.Text.Body
	case "image":
		evt.Attachment = makeAttachment(platform.AttachmentImage, msg.Image)
	case "video":
		evt.Attachment = makeAttachment(platform.AttachmentVideo, msg.Video)
	case "audio":
		evt.Attachment = makeAttachment(platform.AttachmentAudio, msg.Audio)
	case "document":
		evt.Attachment = makeAttachment(platform.AttachmentFile, msg.Document)
	case "sticker":
		evt.Attachment = makeAttachment(platform.AttachmentSticker, msg.Sticker)
	default:
		return nil, fmt.Errorf("%w: message type %q", platform.ErrUnsupportedType, msg.Type)
	}
	return evt, nil
}

func makeAttachment(kind platform.AttachmentKind, media *wsMedia) *platform.Attachment {
	if media == nil {
		return nil
	}
	return &platform.Attachment{
		Kind:     kind,
		Ref:      media.ID,
		MimeType: media.MimeType,
		Filename: media.Filename,
		Caption:  media.Caption,
	}
}

func makeStatusEvent(appID string, status wsStatus) (platform.Event, error) {
	switch status.Status {
	case "read":
		return &platform.StatusEvent{
			App:       appID,
			Sender:    status.RecipientID,
			MessageID: status.ID,
			Kind:      platform.StatusRead,
		}, nil
	case "delivered":
		return &platform.StatusEvent{
			App:       appID,
			Sender:    status.RecipientID,
			MessageID: status.ID,
			Kind:      platform.StatusDelivered,
		}, nil
	case "failed":
		evt := &platform.ErrorEvent{
			App:       appID,
			Recipient: status.RecipientID,
		}
		if len(status.Errors) > 0 {
			evt.Code = status.Errors[0].Code
			evt.Title = status.Errors[0].Title
			evt.Detail = status.Errors[0].ErrorData.Details
		}
		return evt, nil
	default:
		return nil, fmt.Errorf("%w: status %q", platform.ErrUnknownEvent, status.Status)
	}
}
