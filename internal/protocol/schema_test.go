package protocol

import (
	"bytes"
	"testing"
)

// TestDefaultSchemaAcceptsDynamicAccountFields guards against the create/
// edit account messages drifting out of sync with the per-privilege and
// per-limit field names internal/server's account handlers build, since
// ReadMessage verifies inbound messages against exactly this table.
func TestDefaultSchemaAcceptsDynamicAccountFields(t *testing.T) {
	schema := DefaultSchema()
	var buf bytes.Buffer
	codec := NewCodec(&buf, schema)

	msg := New("wired.account.create_user").
		SetString("wired.account.name", "newuser").
		SetString("wired.account.full_name", "New User").
		SetBool("wired.account.privilege."+AccountPrivilegeNames[0], true).
		SetInt64("wired.account.limit."+AccountLimitNames[0], 1024)

	if err := codec.WriteMessage(msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	got, err := codec.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage rejected a well-formed create_user message: %v", err)
	}
	if v, ok := got.GetBool("wired.account.privilege." + AccountPrivilegeNames[0]); !ok || !v {
		t.Fatalf("expected privilege field to round-trip, got %v %v", v, ok)
	}
}

func TestDefaultSchemaRejectsUnknownAccountField(t *testing.T) {
	schema := DefaultSchema()
	var buf bytes.Buffer
	codec := NewCodec(&buf, schema)

	msg := New("wired.account.create_user").
		SetString("wired.account.name", "newuser").
		SetString("wired.account.privilege.not_a_real_privilege", "nonsense")

	if err := codec.WriteMessage(msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if _, err := codec.ReadMessage(); err != ErrInvalidMessage {
		t.Fatalf("expected ErrInvalidMessage for an unregistered field, got %v", err)
	}
}
