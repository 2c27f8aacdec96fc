package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single encoded message (not counting the oob-data
// stream that may follow a transfer message, which is read separately by
// the transfer engine).
const MaxFrameSize = 1 << 20 // 1 MiB

// Codec frames and (de)serializes Messages over an established stream.
// It is symmetric: the same Codec type reads and writes for both client
// and server roles, matching the protocol's requirement that both peers
// speak the same shape (§4.A).
type Codec struct {
	r      *bufio.Reader
	w      io.Writer
	schema *Schema
}

func NewCodec(rw io.ReadWriter, schema *Schema) *Codec {
	return &Codec{r: bufio.NewReader(rw), w: rw, schema: schema}
}

// ReadMessage reads one framed message and verifies it against the schema.
// A short read, a frame over MaxFrameSize, or a schema violation returns a
// distinct error: callers use errors.Is against ErrUnrecognizedMessage /
// ErrInvalidMessage to choose the §7.a/§7.f response.
func (c *Codec) ReadMessage() (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, frameLen)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
	}

	msg, err := decodeMessage(payload)
	if err != nil {
		return nil, err
	}
	if c.schema != nil {
		if verr := c.schema.Verify(msg); verr != nil {
			return msg, verr
		}
	}
	return msg, nil
}

// WriteMessage frames and writes m. Writes on a single Codec must be
// externally serialized by the caller (the session's socket mutex, §4.D)
// so that a broadcast and a direct reply never interleave bytes.
func (c *Codec) WriteMessage(m *Message) error {
	payload, err := encodeMessage(m)
	if err != nil {
		return err
	}
	return c.WriteRaw(payload)
}

// WriteRaw frames and writes an already-encoded message payload, the
// replay path the search index (§4.G) uses to send a pre-serialized
// file.search_list row without re-encoding it.
func (c *Codec) WriteRaw(payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := c.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := c.w.Write(payload)
	return err
}

// EncodeMessage exposes the wire payload encoding (without the frame
// length prefix) for callers that need to pre-serialize a message, such
// as the search indexer building replayable file.search_list rows.
func EncodeMessage(m *Message) ([]byte, error) { return encodeMessage(m) }

// DecodeMessage exposes the wire payload decoding (without the frame
// length prefix) for callers that need to inspect or patch a
// pre-serialized message, such as a search hit's stored
// file.search_list row.
func DecodeMessage(payload []byte) (*Message, error) { return decodeMessage(payload) }

// --- wire encoding ---------------------------------------------------------
//
// payload := nameLen(u16) name
//            flags(u8)            bit0: transaction present
//            [transaction(u32)]
//            fieldCount(u16)
//            field[fieldCount]
//
// field := keyLen(u16) key typeTag(u8) value
//
// value encoding by typeTag:
//   bool    : 1 byte
//   int32   : 4 bytes BE
//   int64   : 8 bytes BE
//   uint32  : 4 bytes BE
//   uint64  : 8 bytes BE
//   string  : u32 len + utf8 bytes
//   date    : 8 bytes BE (unix nanoseconds, int64)
//   uuid    : 16 raw bytes
//   data    : u32 len + raw bytes
//   list    : u32 count + count * (u16 fieldCount + fields, recursively)
//   oobdata : u64 declared length (the raw stream itself is NOT part of
//             the message payload; it is read/written directly against
//             the underlying stream by the transfer engine immediately
//             after this message)

func encodeMessage(m *Message) ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = appendU16String(buf, m.Name)

	flags := byte(0)
	if m.HasTxn {
		flags |= 1
	}
	buf = append(buf, flags)
	if m.HasTxn {
		buf = appendU32(buf, m.Transaction)
	}

	buf = appendU16(buf, uint16(len(m.Fields)))
	for k, f := range m.Fields {
		var err error
		buf, err = encodeField(buf, k, f)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func encodeField(buf []byte, key string, f Field) ([]byte, error) {
	buf = appendU16String(buf, key)
	buf = append(buf, byte(f.Type))

	switch f.Type {
	case TypeBool:
		v, _ := f.Value.(bool)
		if v {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case TypeInt32:
		v, _ := f.Value.(int32)
		buf = appendU32(buf, uint32(v))
	case TypeInt64, TypeDate:
		v, _ := f.Value.(int64)
		buf = appendU64(buf, uint64(v))
	case TypeUint32:
		v, _ := f.Value.(uint32)
		buf = appendU32(buf, v)
	case TypeUint64, TypeOOBData:
		v, _ := f.Value.(uint64)
		buf = appendU64(buf, v)
	case TypeString:
		v, _ := f.Value.(string)
		buf = appendU32String(buf, v)
	case TypeUUID:
		v, _ := f.Value.([16]byte)
		buf = append(buf, v[:]...)
	case TypeData:
		v, _ := f.Value.([]byte)
		buf = appendU32(buf, uint32(len(v)))
		buf = append(buf, v...)
	case TypeList:
		v, _ := f.Value.([]map[string]Field)
		buf = appendU32(buf, uint32(len(v)))
		for _, row := range v {
			buf = appendU16(buf, uint16(len(row)))
			for k2, f2 := range row {
				var err error
				buf, err = encodeField(buf, k2, f2)
				if err != nil {
					return nil, err
				}
			}
		}
	default:
		return nil, fmt.Errorf("protocol: unknown field type %d", f.Type)
	}
	return buf, nil
}

func decodeMessage(payload []byte) (*Message, error) {
	r := &reader{buf: payload}

	name, err := r.readU16String()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	flags, err := r.readByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	m := New(name)
	if flags&1 != 0 {
		txn, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
		}
		m.Transaction = txn
		m.HasTxn = true
	}
	count, err := r.readU16()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	for i := 0; i < int(count); i++ {
		key, field, err := decodeField(r)
		if err != nil {
			return nil, err
		}
		m.Fields[key] = field
	}
	return m, nil
}

func decodeField(r *reader) (string, Field, error) {
	key, err := r.readU16String()
	if err != nil {
		return "", Field{}, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	typeByte, err := r.readByte()
	if err != nil {
		return "", Field{}, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	t := FieldType(typeByte)

	var value any
	switch t {
	case TypeBool:
		b, err := r.readByte()
		if err != nil {
			return "", Field{}, fmt.Errorf("%w: %v", ErrShortRead, err)
		}
		value = b != 0
	case TypeInt32:
		v, err := r.readU32()
		if err != nil {
			return "", Field{}, fmt.Errorf("%w: %v", ErrShortRead, err)
		}
		value = int32(v)
	case TypeInt64, TypeDate:
		v, err := r.readU64()
		if err != nil {
			return "", Field{}, fmt.Errorf("%w: %v", ErrShortRead, err)
		}
		value = int64(v)
	case TypeUint32:
		v, err := r.readU32()
		if err != nil {
			return "", Field{}, fmt.Errorf("%w: %v", ErrShortRead, err)
		}
		value = v
	case TypeUint64, TypeOOBData:
		v, err := r.readU64()
		if err != nil {
			return "", Field{}, fmt.Errorf("%w: %v", ErrShortRead, err)
		}
		value = v
	case TypeString:
		v, err := r.readU32String()
		if err != nil {
			return "", Field{}, fmt.Errorf("%w: %v", ErrShortRead, err)
		}
		value = v
	case TypeUUID:
		var v [16]byte
		if err := r.readExact(v[:]); err != nil {
			return "", Field{}, fmt.Errorf("%w: %v", ErrShortRead, err)
		}
		value = v
	case TypeData:
		v, err := r.readU32Bytes()
		if err != nil {
			return "", Field{}, fmt.Errorf("%w: %v", ErrShortRead, err)
		}
		value = v
	case TypeList:
		n, err := r.readU32()
		if err != nil {
			return "", Field{}, fmt.Errorf("%w: %v", ErrShortRead, err)
		}
		rows := make([]map[string]Field, 0, n)
		for i := uint32(0); i < n; i++ {
			fc, err := r.readU16()
			if err != nil {
				return "", Field{}, fmt.Errorf("%w: %v", ErrShortRead, err)
			}
			row := make(map[string]Field, fc)
			for j := 0; j < int(fc); j++ {
				k2, f2, err := decodeField(r)
				if err != nil {
					return "", Field{}, err
				}
				row[k2] = f2
			}
			rows = append(rows, row)
		}
		value = rows
	default:
		return "", Field{}, ErrInvalidMessage
	}
	return key, Field{Type: t, Value: value}, nil
}

// --- small buffer helpers ---------------------------------------------------

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU16String(buf []byte, s string) []byte {
	buf = appendU16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendU32String(buf []byte, s string) []byte {
	buf = appendU32(buf, uint32(len(s)))
	return append(buf, s...)
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) readByte() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readExact(dst []byte) error {
	if r.pos+len(dst) > len(r.buf) {
		return io.ErrUnexpectedEOF
	}
	copy(dst, r.buf[r.pos:r.pos+len(dst)])
	r.pos += len(dst)
	return nil
}

func (r *reader) readU16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) readU32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) readU64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) readU16String() (string, error) {
	n, err := r.readU16()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.buf) {
		return "", io.ErrUnexpectedEOF
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *reader) readU32String() (string, error) {
	b, err := r.readU32Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) readU32Bytes() ([]byte, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}
