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

// Package whatsapp implements the platform.Adapter for the WhatsApp Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lrhodin/cloudbridge/pkg/platform"
)

type Client struct {
	baseURL    string
	apiVersion string
	http       *http.Client
	log        zerolog.Logger
}

var _ platform.Adapter = (*Client)(nil)

func NewClient(baseURL, apiVersion string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiVersion: apiVersion,
		http:       &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "whatsapp_client").Logger(),
	}
}

func (c *Client) Network() platform.Network {
	return platform.NetworkWhatsApp
}

type sendRequest struct {
	MessagingProduct string      `json:"messaging_product"`
	RecipientType    string      `json:"recipient_type,omitempty"`
	To               string      `json:"to,omitempty"`
	Type             string      `json:"type,omitempty"`
	Text             *wsText     `json:"text,omitempty"`
	Image            *mediaLink  `json:"image,omitempty"`
	Video            *mediaLink  `json:"video,omitempty"`
	Audio            *mediaLink  `json:"audio,omitempty"`
	Document         *mediaLink  `json:"document,omitempty"`
	Reaction         *wsReaction `json:"reaction,omitempty"`
	Context          *wsContext  `json:"context,omitempty"`
	// Status/MessageID are used for read receipts instead of a message body.
	Status    string `json:"status,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

type mediaLink struct {
	Link     string `json:"link"`
	Filename string `json:"filename,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	ErrorData struct {
		Details string `json:"details"`
	} `json:"error_data"`
}

func (c *Client) messagesURL(creds platform.Credentials) string {
	return fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, creds.SecondaryID)
}

func (c *Client) SendMessage(ctx context.Context, creds platform.Credentials, msg *platform.OutgoingMessage) (string, error) {
	req := &sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               msg.Recipient,
	}
	switch msg.Kind {
	case platform.MessageText:
		req.Type = "text"
		req.Text = &wsText{Body: msg.Text}
	case platform.MessageImage:
		req.Type = "image"
		req.Image = &mediaLink{Link: msg.MediaURL}
	case platform.MessageVideo:
		req.Type = "video"
		req.Video = &mediaLink{Link: msg.MediaURL}
	case platform.MessageAudio:
		req.Type = "audio"
		req.Audio = &mediaLink{Link: msg.MediaURL}
	case platform.MessageFile:
		req.Type = "document"
		req.Document = &mediaLink{Link: msg.MediaURL, Filename: "File"}
	default:
		return "", fmt.Errorf("%w: %s", platform.ErrUnsupportedType, msg.Kind)
	}
	if msg.ReplyToID != "" {
		req.Context = &wsContext{ID: msg.ReplyToID}
	}
	resp, err := c.post(ctx, creds, c.messagesURL(creds), req)
	if err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 {
		return "", &platform.RemoteError{Message: "send response contained no message id"}
	}
	return resp.Messages[0].ID, nil
}

func (c *Client) SendReaction(ctx context.Context, creds platform.Credentials, recipient, messageID, emoji string) error {
	// An empty emoji removes the reaction; the Cloud API models both as the
	// same message type.
	_, err := c.post(ctx, creds, c.messagesURL(creds), &sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipient,
		Type:             "reaction",
		Reaction:         &wsReaction{MessageID: messageID, Emoji: emoji},
	})
	return err
}

func (c *Client) MarkRead(ctx context.Context, creds platform.Credentials, recipient, messageID string) error {
	_, err := c.post(ctx, creds, c.messagesURL(creds), &sendRequest{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	})
	return err
}

// GetProfile is a no-op on the Cloud API: contact names only arrive inside
// webhook payloads, so the returned profile carries just the id and the core
// falls back to the event's sender name.
func (c *Client) GetProfile(_ context.Context, _ platform.Credentials, accountID string) (*platform.Profile, error) {
	return &platform.Profile{ID: accountID}, nil
}

type mediaResponse struct {
	URL   string    `json:"url"`
	Error *apiError `json:"error,omitempty"`
}

// DownloadMedia resolves a media id to its CDN URL, then fetches the bytes.
// Both requests need the bearer token.
func (c *Client) DownloadMedia(ctx context.Context, creds platform.Credentials, ref string) ([]byte, error) {
	body, err := c.get(ctx, creds, fmt.Sprintf("%s/%s/%s", c.baseURL, c.apiVersion, ref))
	if err != nil {
		return nil, err
	}
	var media mediaResponse
	if err = json.Unmarshal(body, &media); err != nil {
		return nil, fmt.Errorf("failed to decode media response: %w", err)
	}
	if media.Error != nil {
		return nil, &platform.RemoteError{Code: media.Error.Code, Type: media.Error.Type, Message: media.Error.Message}
	}
	if media.URL == "" {
		return nil, &platform.RemoteError{Message: "media response contained no url"}
	}
	return c.get(ctx, creds, media.URL)
}

func (c *Client) post(ctx context.Context, creds platform.Credentials, reqURL string, payload *sendRequest) (*sendResponse, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &platform.TransportError{Err: err}
	}
	defer httpResp.Body.Close()
	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &platform.TransportError{Err: err}
	}
	var resp sendResponse
	if err = json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode send response: %w", err)
	}
	if resp.Error != nil {
		return nil, &platform.RemoteError{Code: resp.Error.Code, Type: resp.Error.Type, Message: resp.Error.Message}
	}
	if httpResp.StatusCode >= 400 {
		return nil, &platform.RemoteError{Code: httpResp.StatusCode, Message: string(respBody)}
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, creds platform.Credentials, reqURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &platform.TransportError{Err: err}
	}
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &platform.TransportError{Err: err}
	}
	if httpResp.StatusCode >= 400 {
		return nil, &platform.RemoteError{Code: httpResp.StatusCode, Message: string(body)}
	}
	return body, nil
}
