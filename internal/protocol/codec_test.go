package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBatchKeepsPayloadVerbatim(t *testing.T) {
	payload := json.RawMessage(`{"sdp":"v=0\r\n","type":"offer"}`)
	data, err := EncodeBatch([]*Message{
		{Type: TypeSignal, RoomID: "stream-1", Kind: KindOffer, Payload: payload},
		NewPing(2),
	})
	if err != nil {
		t.Fatalf("EncodeBatch() error = %v", err)
	}

	msgs, err := DecodeBatch(data)
	if err != nil {
		t.Fatalf("DecodeBatch() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if string(msgs[0].Payload) != string(payload) {
		t.Errorf("payload = %s, want %s", msgs[0].Payload, payload)
	}
	if msgs[1].Type != TypePing || msgs[1].Seq != 2 {
		t.Errorf("second message = %+v", msgs[1])
	}
}

func TestDecodeBatchRejectsOversized(t *testing.T) {
	msgs := make([]*Message, MaxBatchSize+1)
	for i := range msgs {
		msgs[i] = NewPing(uint64(i))
	}
	data, err := EncodeBatch(msgs)
	if err != nil {
		t.Fatalf("EncodeBatch() error = %v", err)
	}
	if _, err := DecodeBatch(data); err == nil {
		t.Fatal("DecodeBatch() accepted an oversized batch")
	}
}

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"room_id":"x"}`))
	if err == nil || !strings.Contains(err.Error(), "missing type") {
		t.Fatalf("Decode() error = %v, want missing type", err)
	}
}

func TestValidators(t *testing.T) {
	if !RoleViewer.Valid() || Role("host").Valid() {
		t.Error("Role.Valid mismatch")
	}
	if !KindCandidate.Valid() || SignalKind("bye").Valid() {
		t.Error("SignalKind.Valid mismatch")
	}
}
