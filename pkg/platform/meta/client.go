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

// Package meta implements the platform.Adapter for the Meta Messenger
// Platform (Graph API send endpoint + page webhooks).
package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
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
		log:        log.With().Str("component", "meta_client").Logger(),
	}
}

func (c *Client) Network() platform.Network {
	return platform.NetworkMeta
}

type sendRequest struct {
	Recipient idRef           `json:"recipient"`
	Message   json.RawMessage `json:"message,omitempty"`
	ReplyTo   *replyTo        `json:"reply_to,omitempty"`
	// SenderAction is used for mark_seen; mutually exclusive with Message.
	SenderAction string    `json:"sender_action,omitempty"`
	Reaction     *reaction `json:"reaction,omitempty"`
}

type sendResponse struct {
	RecipientID string    `json:"recipient_id"`
	MessageID   string    `json:"message_id"`
	Error       *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (c *Client) messagesURL(creds platform.Credentials) string {
	return fmt.Sprintf("%s/%s/%s/messages?access_token=%s",
		c.baseURL, c.apiVersion, creds.SecondaryID, url.QueryEscape(creds.AccessToken))
}

func (c *Client) SendMessage(ctx context.Context, creds platform.Credentials, msg *platform.OutgoingMessage) (string, error) {
	var content json.RawMessage
	switch msg.Kind {
	case platform.MessageText:
		content, _ = json.Marshal(map[string]any{"text": msg.Text})
	case platform.MessageImage, platform.MessageVideo, platform.MessageAudio, platform.MessageFile:
		content, _ = json.Marshal(map[string]any{
			"attachment": map[string]any{
				"type": string(msg.Kind),
				"payload": map[string]any{
					"url":         msg.MediaURL,
					"is_reusable": true,
				},
			},
		})
	default:
		return "", fmt.Errorf("%w: %s", platform.ErrUnsupportedType, msg.Kind)
	}
	req := &sendRequest{
		Recipient: idRef{ID: msg.Recipient},
		Message:   content,
	}
	if msg.ReplyToID != "" {
		req.ReplyTo = &replyTo{MID: msg.ReplyToID}
	}
	resp, err := c.post(ctx, c.messagesURL(creds), req)
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

func (c *Client) SendReaction(ctx context.Context, creds platform.Credentials, recipient, messageID, emoji string) error {
	action := "react"
	if emoji == "" {
		action = "unreact"
	}
	_, err := c.post(ctx, c.messagesURL(creds), &sendRequest{
		Recipient: idRef{ID: recipient},
		Reaction: &reaction{
			MID:    messageID,
			Action: action,
			Emoji:  emoji,
		},
	})
	return err
}

func (c *Client) MarkRead(ctx context.Context, creds platform.Credentials, recipient, messageID string) error {
	_, err := c.post(ctx, c.messagesURL(creds), &sendRequest{
		Recipient:    idRef{ID: recipient},
		SenderAction: "mark_seen",
	})
	return err
}

type profileResponse struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Error     *apiError `json:"error,omitempty"`
}

func (c *Client) GetProfile(ctx context.Context, creds platform.Credentials, accountID string) (*platform.Profile, error) {
	reqURL := fmt.Sprintf("%s/%s?fields=first_name,last_name,name,username&access_token=%s",
		c.baseURL, url.PathEscape(accountID), url.QueryEscape(creds.AccessToken))
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	var profile profileResponse
	if err = json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", err)
	}
	if profile.Error != nil {
		return nil, &platform.RemoteError{Code: profile.Error.Code, Type: profile.Error.Type, Message: profile.Error.Message}
	}
	name := profile.Name
	if name == "" {
		name = profile.FirstName
		if profile.LastName != "" {
			name += " " + profile.LastName
		}
	}
	return &platform.Profile{ID: accountID, Name: name, Username: profile.Username}, nil
}

// DownloadMedia fetches attachment bytes. Meta webhooks carry direct CDN URLs,
// so ref is fetched as-is.
func (c *Client) DownloadMedia(ctx context.Context, _ platform.Credentials, ref string) ([]byte, error) {
	return c.get(ctx, ref)
}

func (c *Client) post(ctx context.Context, reqURL string, payload *sendRequest) (*sendResponse, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
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

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}
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
