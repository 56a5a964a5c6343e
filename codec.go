package realtime

import (
	"encoding/json"
	"fmt"
)

// Frame is the unit exchanged with the server. JoinRef and Ref may be empty,
// meaning absent on the wire. Payload holds either a map[string]any
// (structured JSON payload) or a []byte (opaque binary blob) — Encode
// selects the wire form from which of the two is present. A binary reply
// decodes to a map whose "response" is a []byte, and encodes back to binary.
type Frame struct {
	JoinRef string
	Ref     string
	Topic   string
	Event   string
	Payload any
}

const (
	binaryKindPush      byte = 0
	binaryKindReply     byte = 1
	binaryKindBroadcast byte = 2
)

const replyEvent = "phx_reply"

// EncodeFrame serializes f to its wire form. It returns isBinary so the
// caller can choose the transport's text or binary message type. Binary
// framing is selected when f.Payload is a []byte, or when f is a reply whose
// payload's "response" is a []byte (the shape DecodeFrame gives a binary
// reply); JSON array framing otherwise.
func EncodeFrame(f *Frame) (data []byte, isBinary bool, err error) {
	if raw, ok := f.Payload.([]byte); ok {
		data, err = encodeBinaryFrame(f, raw)
		return data, true, err
	}
	if f.Event == replyEvent {
		if m, ok := f.Payload.(map[string]any); ok {
			if raw, ok := m["response"].([]byte); ok {
				data, err = encodeBinaryFrame(f, raw)
				return data, true, err
			}
		}
	}
	data, err = encodeJSONFrame(f)
	return data, false, err
}

func encodeJSONFrame(f *Frame) ([]byte, error) {
	joinRef := any(nil)
	if f.JoinRef != "" {
		joinRef = f.JoinRef
	}
	ref := any(nil)
	if f.Ref != "" {
		ref = f.Ref
	}
	arr := [5]any{joinRef, ref, f.Topic, f.Event, f.Payload}
	return json.Marshal(arr)
}

func encodeBinaryFrame(f *Frame, payload []byte) ([]byte, error) {
	for _, s := range []string{f.JoinRef, f.Ref, f.Topic, f.Event} {
		if len(s) > 255 {
			return nil, fmt.Errorf("%w: field too long for binary framing (%d bytes)", ErrBadFrame, len(s))
		}
	}

	switch {
	case f.Event == replyEvent:
		status, response := splitReplyPayload(f.Payload)
		if response != nil {
			payload = response
		}
		if len(status) > 255 {
			return nil, fmt.Errorf("%w: reply status too long for binary framing", ErrBadFrame)
		}
		buf := make([]byte, 0, 5+len(f.JoinRef)+len(f.Ref)+len(f.Topic)+len(status)+len(payload))
		buf = append(buf, binaryKindReply, byte(len(f.JoinRef)), byte(len(f.Ref)), byte(len(f.Topic)), byte(len(status)))
		buf = append(buf, f.JoinRef...)
		buf = append(buf, f.Ref...)
		buf = append(buf, f.Topic...)
		buf = append(buf, status...)
		buf = append(buf, payload...)
		return buf, nil

	case f.JoinRef == "" && f.Ref == "":
		buf := make([]byte, 0, 3+len(f.Topic)+len(f.Event)+len(payload))
		buf = append(buf, binaryKindBroadcast, byte(len(f.Topic)), byte(len(f.Event)))
		buf = append(buf, f.Topic...)
		buf = append(buf, f.Event...)
		buf = append(buf, payload...)
		return buf, nil

	default:
		buf := make([]byte, 0, 4+len(f.JoinRef)+len(f.Topic)+len(f.Event)+len(payload))
		buf = append(buf, binaryKindPush, byte(len(f.JoinRef)), byte(len(f.Topic)), byte(len(f.Event)))
		buf = append(buf, f.JoinRef...)
		buf = append(buf, f.Topic...)
		buf = append(buf, f.Event...)
		buf = append(buf, payload...)
		return buf, nil
	}
}

// splitReplyPayload extracts the "status"/"response" fields out of a reply
// payload shaped like {"status": "...", "response": ...}, for binary framing
// where status travels in the event field and response is the raw tail.
func splitReplyPayload(payload any) (status string, response []byte) {
	m, ok := payload.(map[string]any)
	if !ok {
		return "", nil
	}
	if s, ok := m["status"].(string); ok {
		status = s
	}
	switch r := m["response"].(type) {
	case []byte:
		response = r
	case nil:
		response = nil
	default:
		if b, err := json.Marshal(r); err == nil {
			response = b
		}
	}
	return status, response
}

// DecodeFrame parses data into a Frame. isBinaryMessage must reflect the
// transport's own framing (text vs binary websocket message) — the codec
// dispatches on that, not by sniffing bytes.
func DecodeFrame(data []byte, isBinaryMessage bool) (*Frame, error) {
	if isBinaryMessage {
		return decodeBinaryFrame(data)
	}
	return decodeJSONFrame(data)
}

func decodeBinaryFrame(data []byte) (*Frame, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty binary frame", ErrBadFrame)
	}
	kind := data[0]

	readLenPrefixed := func(lens []int, after int) ([]string, []byte, error) {
		pos := after
		fields := make([]string, len(lens))
		for i, l := range lens {
			if pos+l > len(data) {
				return nil, nil, fmt.Errorf("%w: declared length reads past end of buffer", ErrBadFrame)
			}
			fields[i] = string(data[pos : pos+l])
			pos += l
		}
		return fields, data[pos:], nil
	}

	switch kind {
	case binaryKindPush:
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: push header too short", ErrBadFrame)
		}
		joinRefLen, topicLen, eventLen := int(data[1]), int(data[2]), int(data[3])
		fields, rest, err := readLenPrefixed([]int{joinRefLen, topicLen, eventLen}, 4)
		if err != nil {
			return nil, err
		}
		return &Frame{JoinRef: fields[0], Topic: fields[1], Event: fields[2], Payload: rest}, nil

	case binaryKindReply:
		if len(data) < 5 {
			return nil, fmt.Errorf("%w: reply header too short", ErrBadFrame)
		}
		joinRefLen, refLen, topicLen, eventLen := int(data[1]), int(data[2]), int(data[3]), int(data[4])
		fields, rest, err := readLenPrefixed([]int{joinRefLen, refLen, topicLen, eventLen}, 5)
		if err != nil {
			return nil, err
		}
		return &Frame{
			JoinRef: fields[0],
			Ref:     fields[1],
			Topic:   fields[2],
			Event:   replyEvent,
			Payload: map[string]any{"status": fields[3], "response": rest},
		}, nil

	case binaryKindBroadcast:
		if len(data) < 3 {
			return nil, fmt.Errorf("%w: broadcast header too short", ErrBadFrame)
		}
		topicLen, eventLen := int(data[1]), int(data[2])
		fields, rest, err := readLenPrefixed([]int{topicLen, eventLen}, 3)
		if err != nil {
			return nil, err
		}
		return &Frame{Topic: fields[0], Event: fields[1], Payload: rest}, nil

	default:
		return nil, fmt.Errorf("%w: unknown binary frame kind %d", ErrBadFrame, kind)
	}
}

func decodeJSONFrame(data []byte) (*Frame, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) < 5 {
			return nil, fmt.Errorf("%w: array frame must have 5 elements, got %d", ErrBadFrame, len(arr))
		}
		f := &Frame{}
		if err := unmarshalOptionalString(arr[0], &f.JoinRef); err != nil {
			return nil, fmt.Errorf("%w: invalid join_ref: %v", ErrBadFrame, err)
		}
		if err := unmarshalOptionalString(arr[1], &f.Ref); err != nil {
			return nil, fmt.Errorf("%w: invalid ref: %v", ErrBadFrame, err)
		}
		if err := json.Unmarshal(arr[2], &f.Topic); err != nil {
			return nil, fmt.Errorf("%w: invalid topic: %v", ErrBadFrame, err)
		}
		if err := json.Unmarshal(arr[3], &f.Event); err != nil {
			return nil, fmt.Errorf("%w: invalid event: %v", ErrBadFrame, err)
		}
		var payload map[string]any
		if len(arr[4]) > 0 && string(arr[4]) != "null" {
			if err := json.Unmarshal(arr[4], &payload); err != nil {
				return nil, fmt.Errorf("%w: invalid payload: %v", ErrBadFrame, err)
			}
		}
		f.Payload = payload
		return f, nil
	}

	// Fall back to object form: {join_ref, ref, topic, event, payload}.
	var obj struct {
		JoinRef string         `json:"join_ref"`
		Ref     string         `json:"ref"`
		Topic   string         `json:"topic"`
		Event   string         `json:"event"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: not a 5-tuple or object frame: %v", ErrBadFrame, err)
	}
	if obj.Topic == "" && obj.Event == "" {
		return nil, fmt.Errorf("%w: object frame missing topic/event", ErrBadFrame)
	}
	return &Frame{JoinRef: obj.JoinRef, Ref: obj.Ref, Topic: obj.Topic, Event: obj.Event, Payload: obj.Payload}, nil
}

func unmarshalOptionalString(raw json.RawMessage, dst *string) error {
	if len(raw) == 0 || string(raw) == "null" {
		*dst = ""
		return nil
	}
	return json.Unmarshal(raw, dst)
}
