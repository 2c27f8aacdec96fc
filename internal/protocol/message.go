// Package protocol implements the Wired wire format: a framed, encrypted
// stream of named, typed messages exchanged between client and server.
//
// A Message is deliberately not a generated struct per name. It is a
// (name, field-map) value, matching how the original implementation builds
// messages by name and sets fields one at a time at runtime. Handlers never
// depend on a per-message Go type; they read fields out of the map by name
// and let the schema (schema.go) reject anything that doesn't fit the
// closed shape for that message name.
package protocol

import "fmt"

// FieldType is the closed set of field value types the wire format knows
// how to frame.
type FieldType byte

const (
	TypeBool FieldType = iota
	TypeInt32
	TypeInt64
	TypeUint32
	TypeUint64
	TypeString
	TypeDate
	TypeUUID
	TypeData
	TypeList
	TypeOOBData
)

// Field is a single named, typed value inside a Message.
type Field struct {
	Type  FieldType
	Value any // concrete Go type depends on Type, see codec.go
}

// Message is a name plus a set of named fields. The "wired.transaction"
// field, when present, is surfaced separately via Transaction/HasTxn
// since nearly every handler needs to read and echo it.
type Message struct {
	Name        string
	Fields      map[string]Field
	Transaction uint32
	HasTxn      bool
}

// New creates an empty message with the given name.
func New(name string) *Message {
	return &Message{Name: name, Fields: make(map[string]Field)}
}

// WithTxn sets the transaction id, mirroring it onto a reply message.
func (m *Message) WithTxn(txn uint32, has bool) *Message {
	m.Transaction = txn
	m.HasTxn = has
	return m
}

// EchoTxn copies the transaction id (if any) from req onto m. Every direct
// reply and terminator for a request must carry the same transaction id
// (U6).
func (m *Message) EchoTxn(req *Message) *Message {
	if req != nil && req.HasTxn {
		m.Transaction = req.Transaction
		m.HasTxn = true
	}
	return m
}

func (m *Message) SetBool(name string, v bool) *Message {
	m.Fields[name] = Field{Type: TypeBool, Value: v}
	return m
}

func (m *Message) SetString(name string, v string) *Message {
	m.Fields[name] = Field{Type: TypeString, Value: v}
	return m
}

func (m *Message) SetUint32(name string, v uint32) *Message {
	m.Fields[name] = Field{Type: TypeUint32, Value: v}
	return m
}

func (m *Message) SetUint64(name string, v uint64) *Message {
	m.Fields[name] = Field{Type: TypeUint64, Value: v}
	return m
}

func (m *Message) SetInt64(name string, v int64) *Message {
	m.Fields[name] = Field{Type: TypeInt64, Value: v}
	return m
}

func (m *Message) SetData(name string, v []byte) *Message {
	m.Fields[name] = Field{Type: TypeData, Value: v}
	return m
}

func (m *Message) SetList(name string, v []map[string]Field) *Message {
	m.Fields[name] = Field{Type: TypeList, Value: v}
	return m
}

func (m *Message) GetString(name string) (string, bool) {
	f, ok := m.Fields[name]
	if !ok {
		return "", false
	}
	v, ok := f.Value.(string)
	return v, ok
}

func (m *Message) GetBool(name string) (bool, bool) {
	f, ok := m.Fields[name]
	if !ok {
		return false, false
	}
	v, ok := f.Value.(bool)
	return v, ok
}

func (m *Message) GetUint32(name string) (uint32, bool) {
	f, ok := m.Fields[name]
	if !ok {
		return 0, false
	}
	v, ok := f.Value.(uint32)
	return v, ok
}

func (m *Message) GetUint64(name string) (uint64, bool) {
	f, ok := m.Fields[name]
	if !ok {
		return 0, false
	}
	v, ok := f.Value.(uint64)
	return v, ok
}

func (m *Message) GetInt64(name string) (int64, bool) {
	f, ok := m.Fields[name]
	if !ok {
		return 0, false
	}
	v, ok := f.Value.(int64)
	return v, ok
}

func (m *Message) GetData(name string) ([]byte, bool) {
	f, ok := m.Fields[name]
	if !ok {
		return nil, false
	}
	v, ok := f.Value.([]byte)
	return v, ok
}

func (m *Message) String() string {
	return fmt.Sprintf("%s{%d fields, txn=%v}", m.Name, len(m.Fields), m.Transaction)
}
