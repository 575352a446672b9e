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
	"errors"
	"fmt"
)

var (
	// ErrNotRegistered means the event's remote application id has no
	// registered Application. The event is dropped and acked.
	ErrNotRegistered = errors.New("remote application is not registered")
	// ErrUnknownEvent means the payload doesn't match any event variant the
	// adapter handles (including echoes of the bridge's own messages).
	ErrUnknownEvent = errors.New("unrecognized event payload")
	// ErrUnsupportedType means a message kind the bridge cannot translate.
	ErrUnsupportedType = errors.New("unsupported message type")
)

// RemoteError is a structured rejection from the remote API: the request
// reached the platform and the platform said no. The body is kept for the
// Matrix-side notice.
type RemoteError struct {
	Code    int
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("remote API rejected request: %s (%s, code %d)", e.Message, e.Type, e.Code)
	}
	return fmt.Sprintf("remote API rejected request: %s (code %d)", e.Message, e.Code)
}

// TransportError is a connection-level failure, including timeouts. The
// request may or may not have reached the platform; no correlation record is
// written so remote-side redelivery stays safe.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
