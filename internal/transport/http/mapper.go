package http

import (
	"encoding/json"

	"github.com/vovakirdan/wirechat-presence/internal/core"
	"github.com/vovakirdan/wirechat-presence/internal/proto"
	"github.com/vovakirdan/wirechat-presence/internal/service/chat"
)

// inboundAction is a decoded client frame.
type inboundAction struct {
	heartbeat bool
	send      chat.SendInput
}

func decodeInbound(inbound proto.Inbound) (*inboundAction, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeStatus:
		return &inboundAction{heartbeat: true}, nil
	case proto.InboundTypeMsg:
		var msg proto.MsgData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return nil, &proto.Error{Code: core.ErrCodeInvalidArgument, Msg: "malformed msg data"}
		}
		return &inboundAction{send: chat.SendInput{
			To:   msg.To,
			Text: msg.Text,
			Kind: core.MessageKind(msg.Type),
		}}, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeInvalidArgument, Msg: "unknown message type"}
	}
}

func messageFromCore(m core.Message) proto.Message {
	return proto.Message{
		ID:   m.ID,
		From: m.From,
		To:   m.To,
		Text: m.Text,
		Type: string(m.Kind),
		Time: m.Time,
	}
}

var eventNames = map[core.EventKind]string{
	core.EventMessageCreated: proto.EventMessage,
	core.EventMessageUpdated: proto.EventMessageUpdated,
	core.EventMessageDeleted: proto.EventMessageDeleted,
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: eventNames[event.Kind],
		Data:  messageFromCore(event.Message),
	}
}

func outboundFromError(err error) proto.Outbound {
	coreErr := core.AsCoreError(err)
	return proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: coreErr.Code, Msg: coreErr.Message},
	}
}
