package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/npezzotti/gochat-realtime/internal/types"
)

// payload is one decoded inbound event. validate runs before the payload
// reaches any handler.
type payload interface {
	validate() error
}

type ChannelJoin struct{ ChannelId string }
type ChannelLeave struct{ ChannelId string }
type DMJoin struct{ DmId string }
type DMLeave struct{ DmId string }
type ServerSubscribe struct{ ServerId string }
type ServerUnsubscribe struct{ ServerId string }

type MessageSend struct {
	ChannelId string `json:"channelId"`
	Content   string `json:"content"`
}

type DMSend struct {
	DmId    string `json:"dmId"`
	Content string `json:"content"`
}

type MessageEdit struct {
	MessageId string `json:"messageId"`
	Content   string `json:"content"`
}

// MessageDelete carries the client's view of the channel, which is ignored;
// the room is resolved from the stored message.
type MessageDelete struct {
	MessageId string `json:"messageId"`
	ChannelId string `json:"channelId"`
}

type MessageReact struct {
	MessageId string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type MessageReply struct {
	ParentId  string `json:"parentId"`
	Content   string `json:"content"`
	ChannelId string `json:"channelId"`
}

type MessagePin struct {
	MessageId string `json:"messageId"`
	ChannelId string `json:"channelId"`
}

type MessageUnpin MessagePin

// TypingTarget is either a bare channel id string or an object naming a
// channel or a DM.
type TypingTarget struct {
	ChannelId string `json:"channelId,omitempty"`
	DmId      string `json:"dmId,omitempty"`
}

func (t *TypingTarget) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		*t = TypingTarget{ChannelId: id}
		return nil
	}

	type target TypingTarget
	var v target
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*t = TypingTarget(v)
	return nil
}

func (t TypingTarget) room() string {
	if t.DmId != "" {
		return DMRoom(t.DmId)
	}
	return ChannelRoom(t.ChannelId)
}

func (t TypingTarget) id() string {
	if t.DmId != "" {
		return t.DmId
	}
	return t.ChannelId
}

type TypingStart struct{ Target TypingTarget }
type TypingStop struct{ Target TypingTarget }

type SetStatus struct{ Status types.PresenceStatus }

type SetCustomStatus struct {
	Status    *string    `json:"status"`
	Emoji     *string    `json:"emoji"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func required(v, field string) error {
	if strings.TrimSpace(v) == "" {
		return validationError(field + " is required")
	}
	return nil
}

func (p ChannelJoin) validate() error       { return required(p.ChannelId, "channelId") }
func (p ChannelLeave) validate() error      { return required(p.ChannelId, "channelId") }
func (p DMJoin) validate() error            { return required(p.DmId, "dmId") }
func (p DMLeave) validate() error           { return required(p.DmId, "dmId") }
func (p ServerSubscribe) validate() error   { return required(p.ServerId, "serverId") }
func (p ServerUnsubscribe) validate() error { return required(p.ServerId, "serverId") }
func (p MessageSend) validate() error       { return required(p.ChannelId, "channelId") }
func (p DMSend) validate() error            { return required(p.DmId, "dmId") }
func (p MessageEdit) validate() error       { return required(p.MessageId, "messageId") }
func (p MessageDelete) validate() error     { return required(p.MessageId, "messageId") }
func (p MessageReply) validate() error      { return required(p.ParentId, "parentId") }
func (p MessagePin) validate() error        { return required(p.MessageId, "messageId") }
func (p MessageUnpin) validate() error      { return required(p.MessageId, "messageId") }
func (p TypingStart) validate() error       { return required(p.Target.id(), "channelId") }
func (p TypingStop) validate() error        { return required(p.Target.id(), "channelId") }

func (p MessageReact) validate() error {
	if err := required(p.MessageId, "messageId"); err != nil {
		return err
	}
	return required(p.Emoji, "emoji")
}

func (p SetStatus) validate() error {
	if !p.Status.Valid() {
		return validationError("Invalid status")
	}
	return nil
}

func (p SetCustomStatus) validate() error { return nil }

type decodeFunc func(data json.RawMessage) (payload, error)

// decodeObject decodes a JSON object payload into T.
func decodeObject[T payload]() decodeFunc {
	return func(data json.RawMessage) (payload, error) {
		var v T
		if len(data) == 0 {
			return nil, validationError("Missing event data")
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, validationError("Invalid event data")
		}
		return v, nil
	}
}

// decodeString decodes a bare JSON string payload and wraps it with wrap.
func decodeString(wrap func(string) payload) decodeFunc {
	return func(data json.RawMessage) (payload, error) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, validationError("Invalid event data")
		}
		return wrap(s), nil
	}
}

func decodeTyping(wrap func(TypingTarget) payload) decodeFunc {
	return func(data json.RawMessage) (payload, error) {
		var t TypingTarget
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, validationError("Invalid event data")
		}
		return wrap(t), nil
	}
}

var decoders = map[string]decodeFunc{
	EventChannelJoin:       decodeString(func(s string) payload { return ChannelJoin{ChannelId: s} }),
	EventChannelLeave:      decodeString(func(s string) payload { return ChannelLeave{ChannelId: s} }),
	EventDMJoin:            decodeString(func(s string) payload { return DMJoin{DmId: s} }),
	EventDMLeave:           decodeString(func(s string) payload { return DMLeave{DmId: s} }),
	EventServerSubscribe:   decodeString(func(s string) payload { return ServerSubscribe{ServerId: s} }),
	EventServerUnsubscribe: decodeString(func(s string) payload { return ServerUnsubscribe{ServerId: s} }),
	EventSetStatus:         decodeString(func(s string) payload { return SetStatus{Status: types.PresenceStatus(s)} }),
	EventTypingStart:       decodeTyping(func(t TypingTarget) payload { return TypingStart{Target: t} }),
	EventTypingStop:        decodeTyping(func(t TypingTarget) payload { return TypingStop{Target: t} }),
	EventMessageSend:       decodeObject[MessageSend](),
	EventDMSend:            decodeObject[DMSend](),
	EventMessageEdit:       decodeObject[MessageEdit](),
	EventMessageDelete:     decodeObject[MessageDelete](),
	EventMessageReact:      decodeObject[MessageReact](),
	EventMessageReply:      decodeObject[MessageReply](),
	EventMessagePin:        decodeObject[MessagePin](),
	EventMessageUnpin:      decodeObject[MessageUnpin](),
	EventSetCustomStatus:   decodeObject[SetCustomStatus](),
}

// decodeEvent turns a raw inbound message into a validated payload.
func decodeEvent(msg *ClientMessage) (payload, error) {
	decode, ok := decoders[msg.Event]
	if !ok {
		return nil, validationError("Unknown event")
	}

	p, err := decode(msg.Data)
	if err != nil {
		return nil, err
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}
