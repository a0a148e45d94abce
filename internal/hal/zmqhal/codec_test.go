package zmqhal

import (
	"errors"
	"reflect"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestRequestRoundTrip(t *testing.T) {
	req := &Request{Op: OpWiFiConnect, Pin: 12, Value: -15000, Args: []string{"field-ap", ""}}
	got, err := UnmarshalRequest(OpWiFiConnect, MarshalRequest(req))
	if err != nil {
		t.Fatalf("UnmarshalRequest: %v", err)
	}
	if !reflect.DeepEqual(got, req) {
		t.Errorf("got %+v, want %+v", got, req)
	}
}

func TestResponseZeroValueIsEmpty(t *testing.T) {
	if b := MarshalResponse(&Response{}); len(b) != 0 {
		t.Errorf("ok response encodes to %d bytes", len(b))
	}
	resp, err := UnmarshalResponse(nil)
	if err != nil || resp.Status != StatusOK {
		t.Errorf("empty response = %+v, %v", resp, err)
	}
}

func TestResponseSkipsUnknownFields(t *testing.T) {
	b := MarshalResponse(&Response{Value: 1950, Aux: 2419, Data: []byte{0xFF, 0xD8}})
	b = protowire.AppendTag(b, 9, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 7)
	b = protowire.AppendTag(b, 10, protowire.BytesType)
	b = protowire.AppendString(b, "firmware 1.2")

	resp, err := UnmarshalResponse(b)
	if err != nil {
		t.Fatalf("UnmarshalResponse: %v", err)
	}
	if resp.Value != 1950 || resp.Aux != 2419 || string(resp.Data) != "\xFF\xD8" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	b := MarshalResponse(&Response{Status: StatusFailed, Error: "sensor timeout"})
	for _, n := range []int{1, 3, len(b) - 1} {
		if _, err := UnmarshalResponse(b[:n]); !errors.Is(err, ErrMalformed) {
			t.Errorf("truncated at %d: err = %v, want ErrMalformed", n, err)
		}
	}
}

func TestEvent(t *testing.T) {
	ev, err := UnmarshalEvent(MarshalEvent(&Event{Pin: 12, Level: true}))
	if err != nil {
		t.Fatalf("UnmarshalEvent: %v", err)
	}
	if ev.Pin != 12 || !ev.Level {
		t.Errorf("event = %+v", ev)
	}

	ev, _ = UnmarshalEvent(MarshalEvent(&Event{Pin: 12}))
	if ev.Level {
		t.Error("falling edge decoded as high")
	}
}
