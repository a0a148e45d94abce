package zmqhal

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Request is a command to the hardware daemon. The op travels in the first
// message frame, the encoded request in the second.
//
//	1: pin   (varint)
//	2: value (varint, zigzag)
//	3: args  (repeated string)
type Request struct {
	Op    string
	Pin   int32
	Value int64
	Args  []string
}

// Response is the daemon's reply to a Request
//
//	1: status (varint, 0 = ok)
//	2: error  (string)
//	3: value  (varint, zigzag)
//	4: aux    (varint, zigzag)
//	5: data   (bytes)
type Response struct {
	Status Status
	Error  string
	Value  int64
	Aux    int64
	Data   []byte
}

// Event is published by the daemon when an input pin changes
//
//	1: pin   (varint)
//	2: level (bool)
type Event struct {
	Pin   int32
	Level bool
}

// Status is the daemon's result code
type Status int32

const (
	StatusOK Status = iota
	StatusBusy
	StatusNoCard
	StatusFailed
)

// ErrMalformed is returned for undecodable daemon messages
var ErrMalformed = errors.New("malformed daemon message")

// MarshalRequest serializes a request
func MarshalRequest(r *Request) []byte {
	var b []byte
	if r.Pin != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Pin))
	}
	if r.Value != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.Value))
	}
	for _, arg := range r.Args {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, arg)
	}
	return b
}

// UnmarshalRequest deserializes a request body; op comes from the first frame
func UnmarshalRequest(op string, data []byte) (*Request, error) {
	r := &Request{Op: op}
	err := walk(data, func(num protowire.Number, typ protowire.Type, v uint64, bytes []byte) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			r.Pin = int32(v)
		case num == 2 && typ == protowire.VarintType:
			r.Value = protowire.DecodeZigZag(v)
		case num == 3 && typ == protowire.BytesType:
			r.Args = append(r.Args, string(bytes))
		}
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// MarshalResponse serializes a response
func MarshalResponse(r *Response) []byte {
	var b []byte
	if r.Status != StatusOK {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Status))
	}
	if r.Error != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, r.Error)
	}
	if r.Value != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.Value))
	}
	if r.Aux != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.Aux))
	}
	if len(r.Data) > 0 {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Data)
	}
	return b
}

// UnmarshalResponse deserializes a response
func UnmarshalResponse(data []byte) (*Response, error) {
	r := &Response{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, v uint64, bytes []byte) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			r.Status = Status(v)
		case num == 2 && typ == protowire.BytesType:
			r.Error = string(bytes)
		case num == 3 && typ == protowire.VarintType:
			r.Value = protowire.DecodeZigZag(v)
		case num == 4 && typ == protowire.VarintType:
			r.Aux = protowire.DecodeZigZag(v)
		case num == 5 && typ == protowire.BytesType:
			r.Data = append([]byte(nil), bytes...)
		}
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// MarshalEvent serializes an event
func MarshalEvent(e *Event) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Pin))
	if e.Level {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

// UnmarshalEvent deserializes an event
func UnmarshalEvent(data []byte) (*Event, error) {
	e := &Event{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			e.Pin = int32(v)
		case num == 2 && typ == protowire.VarintType:
			e.Level = protowire.DecodeBool(v)
		}
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// walk visits every varint and bytes field of data. Fields of other wire
// types are skipped.
func walk(data []byte, visit func(num protowire.Number, typ protowire.Type, v uint64, bytes []byte)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(n))
			}
			visit(num, typ, v, nil)
			data = data[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(n))
			}
			visit(num, typ, 0, v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}
