package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	schema := NewSchema()
	schema.Register("wired.chat.send_say", map[string]FieldSpec{
		"wired.chat.id":  req(TypeUint32),
		"wired.chat.say": req(TypeString),
	})

	var buf bytes.Buffer
	codec := NewCodec(&buf, schema)

	msg := New("wired.chat.send_say").
		SetUint32("wired.chat.id", 1).
		SetString("wired.chat.say", "hello").
		WithTxn(42, true)

	if err := codec.WriteMessage(msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	got, err := codec.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Name != "wired.chat.send_say" {
		t.Fatalf("name = %q", got.Name)
	}
	if !got.HasTxn || got.Transaction != 42 {
		t.Fatalf("transaction not round-tripped: %+v", got)
	}
	id, ok := got.GetUint32("wired.chat.id")
	if !ok || id != 1 {
		t.Fatalf("chat id = %v, %v", id, ok)
	}
	say, ok := got.GetString("wired.chat.say")
	if !ok || say != "hello" {
		t.Fatalf("say = %q, %v", say, ok)
	}
}

func TestCodecRejectsUnregisteredMessage(t *testing.T) {
	schema := NewSchema()
	var buf bytes.Buffer
	codec := NewCodec(&buf, schema)

	if err := codec.WriteMessage(New("wired.nonsense")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	_, err := codec.ReadMessage()
	if !errors.Is(err, ErrUnrecognizedMessage) {
		t.Fatalf("expected ErrUnrecognizedMessage, got %v", err)
	}
}

func TestCodecRejectsMissingRequiredField(t *testing.T) {
	schema := NewSchema()
	schema.Register("wired.chat.send_say", map[string]FieldSpec{
		"wired.chat.id":  req(TypeUint32),
		"wired.chat.say": req(TypeString),
	})
	var buf bytes.Buffer
	codec := NewCodec(&buf, schema)

	if err := codec.WriteMessage(New("wired.chat.send_say").SetUint32("wired.chat.id", 1)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	_, err := codec.ReadMessage()
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestCodecTransactionEcho(t *testing.T) {
	req := New("wired.send_ping").WithTxn(7, true)
	reply := New("wired.ping").EchoTxn(req)
	if !reply.HasTxn || reply.Transaction != 7 {
		t.Fatalf("EchoTxn did not copy transaction: %+v", reply)
	}

	noTxnReq := New("wired.send_ping")
	reply2 := New("wired.ping").EchoTxn(noTxnReq)
	if reply2.HasTxn {
		t.Fatalf("EchoTxn set HasTxn with no source transaction")
	}
}

func TestFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 0xff, 0xff, 0xff}) // huge declared length
	codec := NewCodec(&buf, NewSchema())
	_, err := codec.ReadMessage()
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}
