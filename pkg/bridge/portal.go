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
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/lrhodin/cloudbridge/pkg/bridge/database"
	"github.com/lrhodin/cloudbridge/pkg/platform"
)

// Portal is the live binding between one remote chat and one Matrix room.
// All message traffic for the chat flows through exactly one Portal instance;
// the registry guarantees uniqueness per key.
type Portal struct {
	*database.Portal

	bridge *Bridge
	log    zerolog.Logger

	// roomCreateLock serializes Matrix room creation; MXID is re-checked
	// after acquiring it so concurrent first messages create one room.
	roomCreateLock sync.Mutex
	// sendLock serializes reaction replacement and read receipt resolution
	// within the room.
	sendLock sync.Mutex
}

func (br *Bridge) wrapPortal(dbPortal *database.Portal) *Portal {
	portal := &Portal{
		Portal: dbPortal,
		bridge: br,
	}
	portal.log = br.Log.With().
		Str("portal_chat_id", dbPortal.Key.RemoteChatID).
		Str("portal_app_id", dbPortal.Key.AppID).
		Logger()
	br.portalsByKey[dbPortal.Key] = portal
	if dbPortal.MXID != "" {
		br.portalsByMXID[dbPortal.MXID] = portal
	}
	return portal
}

// loadPortals fills the portal registry with every portal that has a Matrix
// room, so events arriving right after startup don't each pay a lazy load.
func (br *Bridge) loadPortals(ctx context.Context) error {
	portals, err := br.DB.Portal.GetAllWithRoom(ctx)
	if err != nil {
		return fmt.Errorf("failed to load portals: %w", err)
	}
	br.portalsLock.Lock()
	defer br.portalsLock.Unlock()
	for _, dbPortal := range portals {
		if _, ok := br.portalsByKey[dbPortal.Key]; !ok {
			br.wrapPortal(dbPortal)
		}
	}
	return nil
}

// GetPortalByKey returns the one Portal for a remote chat, creating the row on
// first contact. The registry lock makes in-process creation single-flight; a
// cross-process race hits the primary key and is resolved by re-reading.
func (br *Bridge) GetPortalByKey(ctx context.Context, key database.PortalKey, network platform.Network, create bool) (*Portal, error) {
	br.portalsLock.Lock()
	defer br.portalsLock.Unlock()
	if portal, ok := br.portalsByKey[key]; ok {
		return portal, nil
	}
	dbPortal, err := br.DB.Portal.GetByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get portal: %w", err)
	}
	if dbPortal != nil {
		return br.wrapPortal(dbPortal), nil
	}
	if !create {
		return nil, nil
	}
	dbPortal = br.DB.Portal.New()
	dbPortal.Key = key
	dbPortal.Network = network
	if err = dbPortal.Insert(ctx); err != nil {
		if database.IsUniqueViolation(err) {
			dbPortal, err = br.DB.Portal.GetByKey(ctx, key)
			if err != nil || dbPortal == nil {
				return nil, fmt.Errorf("failed to re-read portal after conflict: %w", err)
			}
			return br.wrapPortal(dbPortal), nil
		}
		return nil, fmt.Errorf("failed to insert portal: %w", err)
	}
	return br.wrapPortal(dbPortal), nil
}

func (br *Bridge) GetPortalByMXID(ctx context.Context, mxid id.RoomID) (*Portal, error) {
	br.portalsLock.Lock()
	defer br.portalsLock.Unlock()
	if portal, ok := br.portalsByMXID[mxid]; ok {
		return portal, nil
	}
	dbPortal, err := br.DB.Portal.GetByMXID(ctx, mxid)
	if err != nil {
		return nil, fmt.Errorf("failed to get portal by room id: %w", err)
	}
	if dbPortal == nil {
		return nil, nil
	}
	return br.wrapPortal(dbPortal), nil
}

// CounterpartRef is the remote account on the other end of this direct chat.
func (portal *Portal) CounterpartRef() platform.AccountRef {
	return platform.AccountRef{Network: portal.Network, ID: portal.Key.RemoteChatID}
}

// MainIntent is the counterpart ghost's intent; remote-side events in this
// room are sent as the ghost.
func (portal *Portal) MainIntent() MatrixIntent {
	return portal.bridge.Matrix.Ghost(portal.bridge.IDs.FormatGhostMXID(portal.CounterpartRef()))
}

func (portal *Portal) bridgeInfoStateKey() string {
	return fmt.Sprintf("fi.mau.cloudbridge://%s/%s", portal.Network, portal.Key.RemoteChatID)
}

func (portal *Portal) bridgeInfo(chatName string) *event.BridgeEventContent {
	return &event.BridgeEventContent{
		BridgeBot: portal.bridge.Matrix.Bot().UserID(),
		Creator:   portal.bridge.Matrix.Bot().UserID(),
		Protocol: event.BridgeInfoSection{
			ID:          string(portal.Network),
			DisplayName: networkDisplayName(portal.Network),
		},
		Channel: event.BridgeInfoSection{
			ID:          portal.Key.RemoteChatID,
			DisplayName: chatName,
		},
	}
}

func networkDisplayName(network platform.Network) string {
	switch network {
	case platform.NetworkMeta:
		return "Messenger"
	case platform.NetworkWhatsApp:
		return "WhatsApp"
	default:
		return string(network)
	}
}

// CreateMatrixRoom creates the Matrix room for this portal if it doesn't have
// one yet. A failure leaves MXID empty so the next inbound message retries.
func (portal *Portal) CreateMatrixRoom(ctx context.Context, source *User, app *database.Application) error {
	portal.roomCreateLock.Lock()
	defer portal.roomCreateLock.Unlock()
	if portal.MXID != "" {
		return nil
	}
	portal.log.Info().Msg("Creating Matrix room for portal")

	adapter, err := portal.bridge.Adapter(portal.Network)
	if err != nil {
		return err
	}
	puppet, err := portal.bridge.GetPuppetByRef(ctx, portal.CounterpartRef(), app.RemoteAppID, true)
	if err != nil {
		return err
	}
	// Profile fetch is best-effort: WhatsApp has no profile endpoint and Meta
	// may refuse depending on page permissions.
	profile, err := adapter.GetProfile(ctx, app.Credentials(), portal.Key.RemoteChatID)
	if err != nil {
		portal.log.Debug().Err(err).Msg("Failed to fetch remote profile for room creation")
		profile = nil
	}
	if err = puppet.UpdateInfo(ctx, profile, defaultPuppetName(portal.CounterpartRef())); err != nil {
		portal.log.Warn().Err(err).Msg("Failed to update ghost info")
	}

	intent := puppet.Intent()
	if err = intent.EnsureRegistered(ctx); err != nil {
		return fmt.Errorf("failed to register ghost: %w", err)
	}

	powerLevels := &event.PowerLevelsEventContent{
		Users: map[id.UserID]int{
			portal.bridge.Matrix.Bot().UserID(): 9001,
			intent.UserID():                     100,
		},
		UsersDefault:  0,
		EventsDefault: 0,
		InvitePtr:     ptr.Ptr(99),
		KickPtr:       ptr.Ptr(99),
		BanPtr:        ptr.Ptr(99),
		RedactPtr:     ptr.Ptr(99),
	}
	bridgeInfoKey := portal.bridgeInfoStateKey()
	bridgeInfo := portal.bridgeInfo(puppet.DisplayName)
	initialState := []*event.Event{{
		Type:    event.StatePowerLevels,
		Content: event.Content{Parsed: powerLevels},
	}, {
		Type:     event.StateBridge,
		StateKey: &bridgeInfoKey,
		Content:  event.Content{Parsed: bridgeInfo},
	}, {
		Type:     event.StateHalfShotBridge,
		StateKey: &bridgeInfoKey,
		Content:  event.Content{Parsed: bridgeInfo},
	}}

	req := &mautrix.ReqCreateRoom{
		Visibility:   "private",
		Name:         puppet.DisplayName,
		Preset:       "private_chat",
		IsDirect:     true,
		Invite:       []id.UserID{portal.bridge.Matrix.Bot().UserID(), source.MXID},
		InitialState: initialState,
	}
	if !portal.bridge.Config.Bridge.FederateRooms {
		req.CreationContent = map[string]any{"m.federate": false}
	}
	roomID, err := intent.CreateRoom(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}

	portal.MXID = roomID
	portal.RelayUserID = source.MXID
	if err = portal.Update(ctx); err != nil {
		return fmt.Errorf("failed to save portal after room creation: %w", err)
	}
	portal.bridge.portalsLock.Lock()
	portal.bridge.portalsByMXID[roomID] = portal
	portal.bridge.portalsLock.Unlock()

	if err = portal.bridge.Matrix.Bot().EnsureJoined(ctx, roomID); err != nil {
		portal.log.Warn().Err(err).Msg("Failed to join bot to new room")
	}
	portal.log.Info().Str("room_id", roomID.String()).Msg("Created Matrix room")
	return nil
}

func defaultPuppetName(ref platform.AccountRef) string {
	return "User " + ref.ID
}

// HandleRemoteMessage bridges one inbound remote message into the portal room,
// creating the room on first contact. Redelivered remote message ids are
// dropped before anything touches Matrix.
func (portal *Portal) HandleRemoteMessage(ctx context.Context, source *User, app *database.Application, evt *platform.MessageEvent) error {
	existing, err := portal.bridge.DB.Message.GetByRemoteID(ctx, evt.MessageID)
	if err != nil {
		return fmt.Errorf("failed to check for duplicate message: %w", err)
	}
	if existing != nil {
		portal.log.Debug().Str("remote_message_id", evt.MessageID).Msg("Ignoring redelivered remote message")
		inboundEvents.WithLabelValues(string(portal.Network), "duplicate").Inc()
		return nil
	}

	if portal.MXID == "" {
		if err = portal.CreateMatrixRoom(ctx, source, app); err != nil {
			return fmt.Errorf("failed to create room: %w", err)
		}
	}

	senderRef := platform.AccountRef{Network: portal.Network, ID: evt.Sender}
	puppet, err := portal.bridge.GetPuppetByRef(ctx, senderRef, app.RemoteAppID, true)
	if err != nil {
		return err
	}
	fallbackName := defaultPuppetName(senderRef)
	if evt.SenderName != "" {
		fallbackName = evt.SenderName
	}
	if !puppet.NameSet {
		if err = puppet.UpdateInfo(ctx, nil, fallbackName); err != nil {
			portal.log.Warn().Err(err).Msg("Failed to update ghost info")
		}
	}
	intent := puppet.Intent()
	if err = intent.EnsureJoined(ctx, portal.MXID); err != nil {
		return fmt.Errorf("failed to join ghost to room: %w", err)
	}

	var content *event.MessageEventContent
	if evt.Attachment != nil {
		content, err = portal.convertRemoteAttachment(ctx, app, evt.Attachment)
		if err != nil {
			portal.log.Err(err).Str("remote_message_id", evt.MessageID).Msg("Failed to bridge attachment")
			content = &event.MessageEventContent{
				MsgType: event.MsgNotice,
				Body:    "Failed to bridge attachment",
			}
		}
	} else {
		content = &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    evt.Text,
		}
	}
	if evt.ReplyToID != "" {
		target, err := portal.bridge.DB.Message.GetByRemoteID(ctx, evt.ReplyToID)
		if err != nil {
			portal.log.Warn().Err(err).Msg("Failed to look up reply target")
		} else if target != nil && target.RoomID == portal.MXID {
			content.RelatesTo = &event.RelatesTo{
				InReplyTo: &event.InReplyTo{EventID: target.EventMXID},
			}
		}
	}

	eventID, err := intent.SendMessage(ctx, portal.MXID, content)
	if err != nil {
		return fmt.Errorf("failed to send message to Matrix: %w", err)
	}

	msg := portal.bridge.DB.Message.New()
	msg.EventMXID = eventID
	msg.RoomID = portal.MXID
	msg.RemoteAccountID = evt.Sender
	msg.SenderMXID = intent.UserID()
	msg.RemoteMessageID = evt.MessageID
	msg.AppID = app.RemoteAppID
	msg.Timestamp = evt.Timestamp
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if err = msg.Insert(ctx); err != nil {
		if database.IsUniqueViolation(err) {
			// Lost a cross-process race on the same delivery; the message is
			// on Matrix twice but correlation stays consistent.
			portal.log.Warn().Str("remote_message_id", evt.MessageID).
				Msg("Remote message was correlated concurrently")
			return nil
		}
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (portal *Portal) convertRemoteAttachment(ctx context.Context, app *database.Application, att *platform.Attachment) (*event.MessageEventContent, error) {
	adapter, err := portal.bridge.Adapter(portal.Network)
	if err != nil {
		return nil, err
	}
	data, err := adapter.DownloadMedia(ctx, app.Credentials(), att.Ref)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	mime := att.MimeType
	if mime == "" {
		mime = mimetype.Detect(data).String()
	}
	uri, err := portal.MainIntent().UploadMedia(ctx, data, mime)
	if err != nil {
		return nil, fmt.Errorf("failed to upload media: %w", err)
	}

	var msgType event.MessageType
	switch att.Kind {
	case platform.AttachmentImage, platform.AttachmentSticker:
		msgType = event.MsgImage
	case platform.AttachmentVideo:
		msgType = event.MsgVideo
	case platform.AttachmentAudio:
		msgType = event.MsgAudio
	default:
		msgType = event.MsgFile
	}
	body := att.Filename
	if body == "" {
		body = string(att.Kind)
		if ext := mimetype.Lookup(mime); ext != nil && ext.Extension() != "" {
			body += ext.Extension()
		}
	}
	content := &event.MessageEventContent{
		MsgType: msgType,
		Body:    body,
		URL:     uri.CUString(),
		Info: &event.FileInfo{
			MimeType: mime,
			Size:     len(data),
		},
	}
	if att.Caption != "" {
		content.Body = att.Caption
		content.FileName = body
	}
	return content, nil
}

// HandleRemoteReaction applies a remote-side reaction change: send the new
// annotation, redact the sender's previous one, and replace the correlation
// row in one transaction.
func (portal *Portal) HandleRemoteReaction(ctx context.Context, app *database.Application, evt *platform.ReactionEvent) error {
	portal.sendLock.Lock()
	defer portal.sendLock.Unlock()

	msg, err := portal.bridge.DB.Message.GetByRemoteID(ctx, evt.MessageID)
	if err != nil {
		return fmt.Errorf("failed to look up reaction target: %w", err)
	}
	if msg == nil {
		portal.log.Debug().Str("remote_message_id", evt.MessageID).
			Msg("Dropping reaction to uncorrelated message")
		return nil
	}
	puppet, err := portal.bridge.GetPuppetByRef(ctx, platform.AccountRef{Network: portal.Network, ID: evt.Sender}, app.RemoteAppID, true)
	if err != nil {
		return err
	}
	intent := puppet.Intent()

	existing, err := portal.bridge.DB.Reaction.GetBySender(ctx, evt.MessageID, intent.UserID())
	if err != nil {
		return fmt.Errorf("failed to look up existing reaction: %w", err)
	}
	if evt.Remove {
		if existing != nil {
			if err = intent.RedactEvent(ctx, existing.RoomID, existing.EventMXID); err != nil {
				portal.log.Warn().Err(err).Msg("Failed to redact previous reaction")
			}
			err = portal.bridge.DB.Reaction.DeleteByMXID(ctx, existing.EventMXID, existing.RoomID, existing.SenderMXID)
			if err != nil {
				return fmt.Errorf("failed to delete reaction: %w", err)
			}
		}
		return nil
	}

	if err = intent.EnsureJoined(ctx, msg.RoomID); err != nil {
		return fmt.Errorf("failed to join ghost to room: %w", err)
	}
	eventID, err := intent.SendReaction(ctx, msg.RoomID, msg.EventMXID, evt.Emoji)
	if err != nil {
		return fmt.Errorf("failed to send reaction to Matrix: %w", err)
	}
	// Same ordering as the outbound path: the old annotation goes away only
	// after its replacement exists.
	if existing != nil {
		if err = intent.RedactEvent(ctx, existing.RoomID, existing.EventMXID); err != nil {
			portal.log.Warn().Err(err).Msg("Failed to redact previous reaction")
		}
	}
	reaction := portal.bridge.DB.Reaction.New()
	reaction.EventMXID = eventID
	reaction.RoomID = msg.RoomID
	reaction.SenderMXID = intent.UserID()
	reaction.RemoteMessageID = evt.MessageID
	reaction.Emoji = evt.Emoji
	reaction.Timestamp = time.Now()
	if err = portal.bridge.DB.Reaction.Replace(ctx, reaction); err != nil {
		return fmt.Errorf("failed to save reaction: %w", err)
	}
	return nil
}

// HandleRemoteStatus marks messages read on the Matrix side. A read status
// whose message id is uncorrelated falls back to the latest bridged message in
// the room, matching how the platforms report "read up to here".
func (portal *Portal) HandleRemoteStatus(ctx context.Context, app *database.Application, evt *platform.StatusEvent) error {
	if evt.Kind != platform.StatusRead {
		portal.log.Debug().Str("status", string(evt.Kind)).Msg("Ignoring non-read status")
		return nil
	}
	portal.sendLock.Lock()
	defer portal.sendLock.Unlock()

	msg, err := portal.bridge.DB.Message.GetByRemoteID(ctx, evt.MessageID)
	if err != nil {
		return fmt.Errorf("failed to look up read target: %w", err)
	}
	if msg == nil && portal.MXID != "" {
		msg, err = portal.bridge.DB.Message.GetLastInRoom(ctx, portal.MXID)
		if err != nil {
			return fmt.Errorf("failed to look up latest message: %w", err)
		}
	}
	if msg == nil {
		return nil
	}
	sender := evt.Sender
	if sender == "" {
		sender = portal.Key.RemoteChatID
	}
	puppet, err := portal.bridge.GetPuppetByRef(ctx, platform.AccountRef{Network: portal.Network, ID: sender}, app.RemoteAppID, true)
	if err != nil {
		return err
	}
	if err = puppet.Intent().MarkRead(ctx, msg.RoomID, msg.EventMXID); err != nil {
		return fmt.Errorf("failed to mark read: %w", err)
	}
	return nil
}

// HandleRemoteError surfaces a platform-reported send failure to the operator:
// into the portal room when one exists, otherwise into the admin's notice
// room.
func (portal *Portal) HandleRemoteError(ctx context.Context, source *User, evt *platform.ErrorEvent) error {
	text := fmt.Sprintf("⚠ Remote platform error %d: %s", evt.Code, evt.Title)
	if evt.Detail != "" {
		text += " (" + evt.Detail + ")"
	}
	roomID := portal.MXID
	if roomID == "" && source != nil {
		roomID = source.NoticeRoom
	}
	if roomID == "" {
		portal.log.Warn().Int("code", evt.Code).Str("title", evt.Title).
			Msg("Dropping remote error with nowhere to report it")
		return nil
	}
	_, err := portal.bridge.Matrix.Bot().SendNotice(ctx, roomID, text)
	if err != nil {
		return fmt.Errorf("failed to send error notice: %w", err)
	}
	return nil
}

// HandleMatrixMessage dispatches a Matrix message to the remote network. Any
// send failure results in exactly one notice in the room and no correlation
// row, so the Matrix event can be reposted safely.
func (portal *Portal) HandleMatrixMessage(ctx context.Context, sender *User, evt *event.Event) error {
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		portal.log.Warn().Str("event_id", evt.ID.String()).Msg("Unparseable message content")
		return nil
	}
	if content.MsgType == event.MsgNotice && !portal.bridge.Config.Bridge.BridgeNotices {
		return nil
	}
	adapter, err := portal.bridge.Adapter(portal.Network)
	if err != nil {
		return err
	}
	app, err := portal.bridge.DB.Application.GetByRemoteID(ctx, portal.Key.AppID)
	if err != nil {
		return fmt.Errorf("failed to get application: %w", err)
	}
	if app == nil {
		portal.sendErrorNotice(ctx, "no application is registered for this chat anymore")
		return nil
	}

	msg := &platform.OutgoingMessage{Recipient: portal.Key.RemoteChatID}
	switch content.MsgType {
	case event.MsgText, event.MsgNotice:
		msg.Kind = platform.MessageText
		msg.Text = content.Body
	case event.MsgEmote:
		msg.Kind = platform.MessageText
		msg.Text = "/me " + content.Body
	case event.MsgImage:
		msg.Kind = platform.MessageImage
	case event.MsgVideo:
		msg.Kind = platform.MessageVideo
	case event.MsgAudio:
		msg.Kind = platform.MessageAudio
	case event.MsgFile:
		msg.Kind = platform.MessageFile
	default:
		portal.sendErrorNotice(ctx, fmt.Sprintf("%s messages can't be bridged", content.MsgType))
		outboundSends.WithLabelValues(string(portal.Network), "unsupported").Inc()
		return nil
	}
	if msg.Kind != platform.MessageText {
		uri, err := content.URL.Parse()
		if err != nil {
			portal.sendErrorNotice(ctx, "the attachment URL could not be parsed")
			return nil
		}
		msg.MediaURL = portal.bridge.Matrix.PublicMediaURL(uri)
	}
	if msg.Kind == platform.MessageText && sender.MXID != portal.RelayUserID && portal.RelayUserID != "" {
		// Relayed message: attribute the real sender since it goes out
		// through the admin's application.
		msg.Text = senderAttribution(sender.MXID) + ": " + msg.Text
	}
	if replyTo := content.RelatesTo.GetReplyTo(); replyTo != "" {
		target, err := portal.bridge.DB.Message.GetByMXID(ctx, replyTo, portal.MXID)
		if err != nil {
			portal.log.Warn().Err(err).Msg("Failed to look up reply target")
		} else if target != nil {
			msg.ReplyToID = target.RemoteMessageID
		}
		// An uncorrelated target degrades to a plain message.
	}

	remoteID, err := adapter.SendMessage(ctx, app.Credentials(), msg)
	if err != nil {
		portal.reportSendFailure(ctx, err)
		return nil
	}

	dbMsg := portal.bridge.DB.Message.New()
	dbMsg.EventMXID = evt.ID
	dbMsg.RoomID = portal.MXID
	dbMsg.RemoteAccountID = portal.Key.RemoteChatID
	dbMsg.SenderMXID = sender.MXID
	dbMsg.RemoteMessageID = remoteID
	dbMsg.AppID = app.RemoteAppID
	dbMsg.Timestamp = time.UnixMilli(evt.Timestamp)
	if err = dbMsg.Insert(ctx); err != nil {
		portal.log.Err(err).Str("remote_message_id", remoteID).
			Msg("Message was sent but saving the correlation failed")
	}
	outboundSends.WithLabelValues(string(portal.Network), "success").Inc()
	return nil
}

func senderAttribution(mxid id.UserID) string {
	localpart := strings.TrimPrefix(string(mxid), "@")
	localpart, _, _ = strings.Cut(localpart, ":")
	return localpart
}

// reportSendFailure translates the adapter error taxonomy into one
// operator-visible notice. Transport failures write no correlation row so a
// remote redelivery check stays meaningful.
func (portal *Portal) reportSendFailure(ctx context.Context, err error) {
	var remoteErr *platform.RemoteError
	var transportErr *platform.TransportError
	switch {
	case errors.As(err, &remoteErr):
		portal.sendErrorNotice(ctx, fmt.Sprintf("the remote platform rejected the message: %s", remoteErr.Message))
		outboundSends.WithLabelValues(string(portal.Network), "rejected").Inc()
	case errors.As(err, &transportErr):
		portal.sendErrorNotice(ctx, "the message could not be delivered (network failure)")
		outboundSends.WithLabelValues(string(portal.Network), "transport_error").Inc()
	default:
		portal.sendErrorNotice(ctx, "the message could not be delivered")
		outboundSends.WithLabelValues(string(portal.Network), "error").Inc()
	}
	portal.log.Err(err).Msg("Failed to send message to remote network")
}

func (portal *Portal) sendErrorNotice(ctx context.Context, reason string) {
	if portal.MXID == "" {
		return
	}
	_, err := portal.bridge.Matrix.Bot().SendNotice(ctx, portal.MXID, "⚠ Your message was not bridged: "+reason)
	if err != nil {
		portal.log.Warn().Err(err).Msg("Failed to send error notice")
	}
}

// HandleMatrixReaction bridges a Matrix reaction annotation outward. Reacting
// twice replaces: once the remote send succeeds the old annotation is redacted
// and the correlation row swapped transactionally.
func (portal *Portal) HandleMatrixReaction(ctx context.Context, sender *User, evt *event.Event) error {
	content, ok := evt.Content.Parsed.(*event.ReactionEventContent)
	if !ok {
		return nil
	}
	portal.sendLock.Lock()
	defer portal.sendLock.Unlock()

	msg, err := portal.bridge.DB.Message.GetByMXID(ctx, content.RelatesTo.EventID, portal.MXID)
	if err != nil {
		return fmt.Errorf("failed to look up reaction target: %w", err)
	}
	if msg == nil {
		portal.log.Debug().Str("target", content.RelatesTo.EventID.String()).
			Msg("Ignoring reaction to unbridged event")
		return nil
	}
	adapter, err := portal.bridge.Adapter(portal.Network)
	if err != nil {
		return err
	}
	app, err := portal.bridge.DB.Application.GetByRemoteID(ctx, portal.Key.AppID)
	if err != nil {
		return fmt.Errorf("failed to get application: %w", err)
	}
	if app == nil {
		return nil
	}

	existing, err := portal.bridge.DB.Reaction.GetBySender(ctx, msg.RemoteMessageID, sender.MXID)
	if err != nil {
		return fmt.Errorf("failed to look up existing reaction: %w", err)
	}

	err = adapter.SendReaction(ctx, app.Credentials(), portal.Key.RemoteChatID, msg.RemoteMessageID, content.RelatesTo.Key)
	if err != nil {
		portal.reportSendFailure(ctx, err)
		return nil
	}
	// Redact the replaced annotation only once the remote send went through,
	// so a failed send leaves the previous reaction fully intact.
	if existing != nil {
		if err = portal.bridge.Matrix.Bot().RedactEvent(ctx, existing.RoomID, existing.EventMXID); err != nil {
			portal.log.Warn().Err(err).Msg("Failed to redact previous reaction")
		}
	}
	reaction := portal.bridge.DB.Reaction.New()
	reaction.EventMXID = evt.ID
	reaction.RoomID = portal.MXID
	reaction.SenderMXID = sender.MXID
	reaction.RemoteMessageID = msg.RemoteMessageID
	reaction.Emoji = content.RelatesTo.Key
	reaction.Timestamp = time.UnixMilli(evt.Timestamp)
	if err = portal.bridge.DB.Reaction.Replace(ctx, reaction); err != nil {
		return fmt.Errorf("failed to save reaction: %w", err)
	}
	return nil
}

// HandleMatrixRedaction handles a user redacting their own reaction: the
// remote reaction is cleared and the row removed. Message redactions can't be
// expressed on either platform API and are only logged.
func (portal *Portal) HandleMatrixRedaction(ctx context.Context, sender *User, evt *event.Event) error {
	reaction, err := portal.bridge.DB.Reaction.GetByMXID(ctx, evt.Redacts, portal.MXID)
	if err != nil {
		return fmt.Errorf("failed to look up redacted reaction: %w", err)
	}
	if reaction == nil {
		portal.log.Debug().Str("target", evt.Redacts.String()).Msg("Ignoring redaction of untracked event")
		return nil
	}
	adapter, err := portal.bridge.Adapter(portal.Network)
	if err != nil {
		return err
	}
	app, err := portal.bridge.DB.Application.GetByRemoteID(ctx, portal.Key.AppID)
	if err != nil {
		return fmt.Errorf("failed to get application: %w", err)
	}
	if app == nil {
		return nil
	}
	err = adapter.SendReaction(ctx, app.Credentials(), portal.Key.RemoteChatID, reaction.RemoteMessageID, "")
	if err != nil {
		portal.reportSendFailure(ctx, err)
		return nil
	}
	err = portal.bridge.DB.Reaction.DeleteByMXID(ctx, reaction.EventMXID, reaction.RoomID, reaction.SenderMXID)
	if err != nil {
		return fmt.Errorf("failed to delete reaction: %w", err)
	}
	return nil
}

// HandleMatrixReadReceipt forwards a read receipt to the remote side. A
// receipt on an unbridged event (a notice, a reaction) marks the latest
// bridged message read instead.
func (portal *Portal) HandleMatrixReadReceipt(ctx context.Context, sender *User, eventID id.EventID) error {
	portal.sendLock.Lock()
	defer portal.sendLock.Unlock()

	msg, err := portal.bridge.DB.Message.GetByMXID(ctx, eventID, portal.MXID)
	if err != nil {
		return fmt.Errorf("failed to look up read receipt target: %w", err)
	}
	if msg == nil {
		msg, err = portal.bridge.DB.Message.GetLastInRoom(ctx, portal.MXID)
		if err != nil {
			return fmt.Errorf("failed to look up latest message: %w", err)
		}
	}
	if msg == nil {
		return nil
	}
	adapter, err := portal.bridge.Adapter(portal.Network)
	if err != nil {
		return err
	}
	app, err := portal.bridge.DB.Application.GetByRemoteID(ctx, portal.Key.AppID)
	if err != nil {
		return fmt.Errorf("failed to get application: %w", err)
	}
	if app == nil {
		return nil
	}
	err = adapter.MarkRead(ctx, app.Credentials(), portal.Key.RemoteChatID, msg.RemoteMessageID)
	if err != nil {
		portal.log.Warn().Err(err).Msg("Failed to forward read receipt")
	}
	return nil
}

// HandleMatrixLeave tears the portal down when the real user leaves the room.
// The next remote message recreates everything from scratch; puppet rows stay.
func (portal *Portal) HandleMatrixLeave(ctx context.Context, sender *User) error {
	portal.log.Info().Str("user_mxid", sender.MXID.String()).Msg("User left portal room, cleaning up")
	return portal.Delete(ctx)
}

// Delete removes the portal and all of its correlation state. The ghost
// identity and the application registration are not touched.
func (portal *Portal) Delete(ctx context.Context) error {
	if portal.MXID != "" {
		if err := portal.bridge.DB.Message.DeleteAllInRoom(ctx, portal.MXID); err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := portal.bridge.DB.Reaction.DeleteAllInRoom(ctx, portal.MXID); err != nil {
			return fmt.Errorf("failed to delete reactions: %w", err)
		}
	}
	if err := portal.Portal.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete portal row: %w", err)
	}
	portal.bridge.portalsLock.Lock()
	delete(portal.bridge.portalsByKey, portal.Key)
	if portal.MXID != "" {
		delete(portal.bridge.portalsByMXID, portal.MXID)
	}
	portal.bridge.portalsLock.Unlock()
	return nil
}
