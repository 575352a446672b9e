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

package platform

import (
	"time"
)

// Event is one inbound webhook event, decoded exactly once at the HTTP
// boundary into a closed set of variants. The router switches exhaustively on
// the concrete type; anything the adapter cannot classify never reaches the
// core.
type Event interface {
	// AppID returns the remote application id (page id / business id) that the
	// event belongs to. Used to look up the owning Application.
	AppID() string
}

type AttachmentKind string

const (
	AttachmentImage   AttachmentKind = "image"
	AttachmentVideo   AttachmentKind = "video"
	AttachmentAudio   AttachmentKind = "audio"
	AttachmentFile    AttachmentKind = "file"
	AttachmentSticker AttachmentKind = "sticker"
)

// Attachment points at inbound media. Ref is a direct URL for Meta and a media
// id for WhatsApp; Adapter.DownloadMedia knows which.
type Attachment struct {
	Kind     AttachmentKind
	Ref      string
	MimeType string
	Filename string
	Caption  string
}

// MessageEvent is a user-visible message from the remote side.
type MessageEvent struct {
	App        string
	Sender     string
	SenderName string
	MessageID  string
	Timestamp  time.Time
	Text       string
	// ReplyToID is the remote id of the message this one replies to, if any.
	ReplyToID  string
	Attachment *Attachment
}

func (evt *MessageEvent) AppID() string { return evt.App }

// ReactionEvent is a reaction added, changed or removed on the remote side.
// Remove is set when the remote user cleared their reaction.
type ReactionEvent struct {
	App       string
	Sender    string
	MessageID string
	Emoji     string
	Remove    bool
}

func (evt *ReactionEvent) AppID() string { return evt.App }

type StatusKind string

const (
	StatusDelivered StatusKind = "delivered"
	StatusRead      StatusKind = "read"
)

// StatusEvent is a delivery/read status update for a previously sent message.
type StatusEvent struct {
	App       string
	Sender    string
	MessageID string
	Kind      StatusKind
}

func (evt *StatusEvent) AppID() string { return evt.App }

// ErrorEvent is a structured error the remote platform reports about an
// earlier outbound message (WhatsApp "failed" statuses). Operator-visible
// only.
type ErrorEvent struct {
	App       string
	Recipient string
	Code      int
	Title     string
	Detail    string
}

func (evt *ErrorEvent) AppID() string { return evt.App }
