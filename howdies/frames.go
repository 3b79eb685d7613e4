// Package howdies contains the client side of the Howdies chat service: the one-shot
// session token exchange, the JSON frame codec and the websocket transport.
package howdies

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Frame handler discriminators.
const (
	HandlerLogin       = "login"
	HandlerJoinRoom    = "joinchatroom"
	HandlerUserKicked  = "userkicked"
	HandlerRoomMessage = "chatroommessage"
	HandlerPing        = "ping"
	HandlerPong        = "pong"
)

// ID is an opaque server identifier (user or room). The service sends some ids as
// numbers and some as strings, so the original JSON kind is kept for re-encoding.
type ID struct {
	v   string
	num bool
}

// StringID builds an ID that encodes as a JSON string.
func StringID(s string) ID { return ID{v: s} }

// NumberID builds an ID that encodes as a JSON number.
func NumberID(n int64) ID { return ID{v: strconv.FormatInt(n, 10), num: true} }

func (id ID) String() string { return id.v }

// IsZero reports whether the id was absent.
func (id ID) IsZero() bool { return id.v == "" }

// Same compares ids by their textual form, so 42 and "42" match.
func (id ID) Same(other ID) bool { return id.v != "" && id.v == other.v }

func (id ID) MarshalJSON() ([]byte, error) {
	if id.num {
		return []byte(id.v), nil
	}
	return json.Marshal(id.v)
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ID{}
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID{v: s}
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("id must be string or number: %w", err)
		}
		*id = ID{v: n.String(), num: true}
		return nil
	}
}

// Outbound frames ------------------------------------------------------------

type LoginFrame struct {
	Handler  string `json:"handler"`
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

type JoinRoomFrame struct {
	Handler      string `json:"handler"`
	Name         string `json:"name"`
	RoomPassword string `json:"roomPassword"`
}

type RoomMessageFrame struct {
	Handler string `json:"handler"`
	Type    string `json:"type"`
	RoomID  ID     `json:"roomid"`
	Text    string `json:"text"`
}

func NewLogin(username, password, token string) LoginFrame {
	return LoginFrame{Handler: HandlerLogin, Username: username, Password: password, Token: token}
}

func NewJoinRoom(name string) JoinRoomFrame {
	return JoinRoomFrame{Handler: HandlerJoinRoom, Name: name}
}

func NewRoomMessage(roomID ID, text string) RoomMessageFrame {
	return RoomMessageFrame{Handler: HandlerRoomMessage, Type: "text", RoomID: roomID, Text: text}
}

// Inbound frames -------------------------------------------------------------

// Frame is any decoded inbound frame.
type Frame interface{ handler() string }

type LoginResult struct {
	Status string `json:"status"`
	UserID ID     `json:"userID"`
}

// OK reports a successful login.
func (f LoginResult) OK() bool { return f.Status == "success" }

type JoinResult struct {
	Error  *int   `json:"error"`
	RoomID ID     `json:"roomid"`
	Name   string `json:"name"`
}

// OK reports a confirmed join (error code present and zero).
func (f JoinResult) OK() bool { return f.Error != nil && *f.Error == 0 }

type KickNotice struct {
	UserID ID `json:"userid"`
	RoomID ID `json:"roomid"`
}

type ChatMessage struct {
	UserID   ID     `json:"userid"`
	RoomID   ID     `json:"roomid"`
	Text     string `json:"text"`
	Username string `json:"username"`
}

type Heartbeat struct{ Kind string }

func (LoginResult) handler() string { return HandlerLogin }
func (JoinResult) handler() string  { return HandlerJoinRoom }
func (KickNotice) handler() string  { return HandlerUserKicked }
func (ChatMessage) handler() string { return HandlerRoomMessage }
func (h Heartbeat) handler() string { return h.Kind }

type envelope struct {
	Handler string `json:"handler"`
}

// PeekHandler returns the handler field without decoding the rest of the frame.
func PeekHandler(raw []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", err
	}
	return env.Handler, nil
}

// IsHeartbeat reports whether raw is a ping or pong frame.
func IsHeartbeat(raw []byte) bool {
	h, err := PeekHandler(raw)
	return err == nil && (h == HandlerPing || h == HandlerPong)
}

// ParseFrame decodes one inbound frame. Unknown handlers and malformed payloads
// return a *ParseError.
func ParseFrame(raw []byte) (Frame, error) {
	h, err := PeekHandler(raw)
	if err != nil {
		return nil, &ParseError{Raw: truncate(raw), Err: err}
	}
	var f Frame
	switch h {
	case HandlerPing, HandlerPong:
		return Heartbeat{Kind: h}, nil
	case HandlerLogin:
		var v LoginResult
		err = json.Unmarshal(raw, &v)
		f = v
	case HandlerJoinRoom:
		var v JoinResult
		err = json.Unmarshal(raw, &v)
		f = v
	case HandlerUserKicked:
		var v KickNotice
		err = json.Unmarshal(raw, &v)
		f = v
	case HandlerRoomMessage:
		var v ChatMessage
		err = json.Unmarshal(raw, &v)
		f = v
	default:
		return nil, &ParseError{Handler: h, Raw: truncate(raw), Err: ErrUnknownHandler}
	}
	if err != nil {
		return nil, &ParseError{Handler: h, Raw: truncate(raw), Err: err}
	}
	return f, nil
}

func truncate(raw []byte) string {
	const max = 256
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
