package rtnlremote

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/ndb/pkg/rtnl"
)

// wireAttr is one rtnl.Attrs entry carried over the wire. kind records
// which of Attrs' four permitted value types (string, int64, []byte,
// net.HardwareAddr/net.IP) Value holds, since a bare structpb.Value
// cannot distinguish a MAC from an IP from an opaque byte string.
type wireAttr struct {
	Key   uint16 `json:"key"`
	Kind  string `json:"kind"`
	Str   string `json:"str,omitempty"`
	Int   int64  `json:"int,omitempty"`
	Bytes []byte `json:"bytes,omitempty"`
}

const (
	kindString = "string"
	kindInt64  = "int64"
	kindBytes  = "bytes"
	kindMAC    = "mac"
	kindIP     = "ip"
)

type wireMsg struct {
	Family uint16           `json:"family"`
	Action uint8            `json:"action"`
	Header map[string]int64 `json:"header"`
	Attrs  []wireAttr       `json:"attrs"`
}

type wireRequest struct {
	Family uint16           `json:"family"`
	Action uint8            `json:"action"`
	Header map[string]int64 `json:"header"`
	Attrs  []wireAttr       `json:"attrs"`
}

type wireResponse struct {
	Msgs []wireMsg `json:"msgs,omitempty"`
}

func encodeAttrs(attrs rtnl.Attrs) ([]wireAttr, error) {
	out := make([]wireAttr, 0, len(attrs))
	for k, v := range attrs {
		a := wireAttr{Key: k}
		switch val := v.(type) {
		case string:
			a.Kind, a.Str = kindString, val
		case int64:
			a.Kind, a.Int = kindInt64, val
		case []byte:
			a.Kind, a.Bytes = kindBytes, val
		case net.HardwareAddr:
			a.Kind, a.Bytes = kindMAC, []byte(val)
		case net.IP:
			a.Kind, a.Bytes = kindIP, []byte(val)
		default:
			return nil, fmt.Errorf("rtnlremote: attr %d: unsupported value type %T", k, v)
		}
		out = append(out, a)
	}
	return out, nil
}

func decodeAttrs(in []wireAttr) (rtnl.Attrs, error) {
	out := make(rtnl.Attrs, len(in))
	for _, a := range in {
		switch a.Kind {
		case kindString:
			out[a.Key] = a.Str
		case kindInt64:
			out[a.Key] = a.Int
		case kindBytes:
			out[a.Key] = a.Bytes
		case kindMAC:
			out[a.Key] = net.HardwareAddr(a.Bytes)
		case kindIP:
			out[a.Key] = net.IP(a.Bytes)
		default:
			return nil, fmt.Errorf("rtnlremote: attr %d: unknown wire kind %q", a.Key, a.Kind)
		}
	}
	return out, nil
}

func encodeMsg(m rtnl.Msg) (wireMsg, error) {
	attrs, err := encodeAttrs(m.Attrs)
	if err != nil {
		return wireMsg{}, err
	}
	return wireMsg{
		Family: uint16(m.Family),
		Action: uint8(m.Action),
		Header: m.Header,
		Attrs:  attrs,
	}, nil
}

func decodeMsg(w wireMsg) (rtnl.Msg, error) {
	attrs, err := decodeAttrs(w.Attrs)
	if err != nil {
		return rtnl.Msg{}, err
	}
	return rtnl.Msg{
		Family: rtnl.Family(w.Family),
		Action: rtnl.Action(w.Action),
		Header: w.Header,
		Attrs:  attrs,
	}, nil
}

// toStruct packs any JSON-serializable wire value into a structpb.Struct
// with a single base64 field, keeping int64 precision and []byte content
// that structpb's native number/string types cannot carry losslessly.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rtnlremote: marshal payload: %w", err)
	}
	return structpb.NewStruct(map[string]any{
		"json": base64.StdEncoding.EncodeToString(raw),
	})
}

func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return fmt.Errorf("rtnlremote: nil payload")
	}
	field, ok := s.Fields["json"]
	if !ok {
		return fmt.Errorf("rtnlremote: payload missing \"json\" field")
	}
	raw, err := base64.StdEncoding.DecodeString(field.GetStringValue())
	if err != nil {
		return fmt.Errorf("rtnlremote: decode payload: %w", err)
	}
	return json.Unmarshal(raw, v)
}

func encodeRequest(req rtnl.Request) (*structpb.Struct, error) {
	attrs, err := encodeAttrs(req.Attrs)
	if err != nil {
		return nil, err
	}
	return toStruct(wireRequest{
		Family: uint16(req.Family),
		Action: uint8(req.Action),
		Header: req.Header,
		Attrs:  attrs,
	})
}

func decodeRequest(s *structpb.Struct) (rtnl.Request, error) {
	var w wireRequest
	if err := fromStruct(s, &w); err != nil {
		return rtnl.Request{}, err
	}
	attrs, err := decodeAttrs(w.Attrs)
	if err != nil {
		return rtnl.Request{}, err
	}
	return rtnl.Request{
		Family: rtnl.Family(w.Family),
		Action: rtnl.Action(w.Action),
		Header: w.Header,
		Attrs:  attrs,
	}, nil
}

func encodeResponse(msgs []rtnl.Msg) (*structpb.Struct, error) {
	wmsgs := make([]wireMsg, 0, len(msgs))
	for _, m := range msgs {
		wm, err := encodeMsg(m)
		if err != nil {
			return nil, err
		}
		wmsgs = append(wmsgs, wm)
	}
	return toStruct(wireResponse{Msgs: wmsgs})
}

func decodeResponseMsgs(s *structpb.Struct) ([]rtnl.Msg, error) {
	var w wireResponse
	if err := fromStruct(s, &w); err != nil {
		return nil, err
	}
	out := make([]rtnl.Msg, 0, len(w.Msgs))
	for _, wm := range w.Msgs {
		m, err := decodeMsg(wm)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func encodeEvent(m rtnl.Msg) (*structpb.Struct, error) {
	wm, err := encodeMsg(m)
	if err != nil {
		return nil, err
	}
	return toStruct(wm)
}

func decodeEvent(s *structpb.Struct) (rtnl.Msg, error) {
	var wm wireMsg
	if err := fromStruct(s, &wm); err != nil {
		return rtnl.Msg{}, err
	}
	return decodeMsg(wm)
}
