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

// Package platform defines the contract between the generic bridge core and a
// remote messaging network. The Meta and WhatsApp Cloud implementations live in
// the subpackages; everything above this interface is network-agnostic.
package platform

import (
	"context"
)

// Network identifies which remote messaging network an adapter talks to.
type Network string

const (
	NetworkMeta     Network = "meta"
	NetworkWhatsApp Network = "whatsapp"
)

// AccountRef is the immutable key for one remote account: the network it lives
// on plus the network's opaque user identifier (PSID for Meta, wa_id for
// WhatsApp). Ghost Matrix IDs are derived from it, never stored.
type AccountRef struct {
	Network Network
	ID      string
}

func (ref AccountRef) String() string {
	return string(ref.Network) + "_" + ref.ID
}

// Credentials carries the per-application secrets an adapter needs for
// outbound API calls. AppID is the page id (Meta) or business id (WhatsApp);
// SecondaryID is the outgoing page id or phone number id.
type Credentials struct {
	AppID       string
	SecondaryID string
	AccessToken string
}

// Profile is the subset of a remote user profile the bridge cares about.
type Profile struct {
	ID       string
	Name     string
	Username string
}

type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageImage MessageKind = "image"
	MessageVideo MessageKind = "video"
	MessageAudio MessageKind = "audio"
	MessageFile  MessageKind = "file"
)

// OutgoingMessage is a Matrix-originated message already reduced to what the
// remote API can express. ReplyToID is the remote message id being replied to,
// empty when the reply target could not be correlated.
type OutgoingMessage struct {
	Recipient string
	Kind      MessageKind
	Text      string
	MediaURL  string
	ReplyToID string
}

// Adapter is one remote messaging network. Implementations must be safe for
// concurrent use; every method that does network I/O takes a context and must
// enforce a bounded timeout.
type Adapter interface {
	Network() Network
	// ParseEvent decodes a raw webhook body into exactly one typed event.
	// Payloads the bridge does not handle return ErrUnknownEvent.
	ParseEvent(payload []byte) (Event, error)
	// SendMessage delivers an outgoing message and returns the remote message id.
	SendMessage(ctx context.Context, creds Credentials, msg *OutgoingMessage) (string, error)
	// SendReaction sets the sender's reaction on a remote message. An empty
	// emoji removes the existing reaction.
	SendReaction(ctx context.Context, creds Credentials, recipient, messageID, emoji string) error
	MarkRead(ctx context.Context, creds Credentials, recipient, messageID string) error
	GetProfile(ctx context.Context, creds Credentials, accountID string) (*Profile, error)
	// DownloadMedia fetches inbound attachment bytes. ref is the attachment URL
	// (Meta) or media id (WhatsApp).
	DownloadMedia(ctx context.Context, creds Credentials, ref string) ([]byte, error)
}
