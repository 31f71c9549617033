package proto

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"unicode/utf8"
)

const (
	headerKindLen  = 1
	identityLenLen = 1
	bodyLenLen     = 4

	// ReadBufferSize bounds the single read performed by Decode.
	ReadBufferSize = 64 * 1024

	// DefaultMaxBody is the body limit a Decoder applies when none is given.
	DefaultMaxBody = 1 << 20
)

// Encode lays out m as kind, sender, recipient, body with their length prefixes.
func Encode(m *Message) ([]byte, error) {
	if len(m.Sender) > MaxIdentityLen {
		return nil, &EncodingError{Field: FieldSender, Length: len(m.Sender), Limit: MaxIdentityLen}
	}
	if len(m.Recipient) > MaxIdentityLen {
		return nil, &EncodingError{Field: FieldRecipient, Length: len(m.Recipient), Limit: MaxIdentityLen}
	}
	if uint64(len(m.Body)) > math.MaxUint32 {
		return nil, &EncodingError{Field: FieldBody, Length: len(m.Body), Limit: math.MaxUint32}
	}

	buf := make([]byte, 0, m.EncodedLen())
	buf = append(buf, byte(m.Kind))
	buf = append(buf, byte(len(m.Sender)))
	buf = append(buf, m.Sender...)
	buf = append(buf, byte(len(m.Recipient)))
	buf = append(buf, m.Recipient...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Body)))
	buf = append(buf, m.Body...)
	return buf, nil
}

// Write encodes m and writes it to w in one call.
func Write(w io.Writer, m *Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// Decode performs a single bounded read from r and parses one frame from it.
// A read of zero bytes at end of stream returns (nil, nil).
//
// Decode is the reference single-read form of the codec. Frames split across
// reads are not reassembled and bytes past the first frame are discarded.
// The server and client read through a Decoder (see Conn) instead.
func Decode(r io.Reader) (*Message, error) {
	buf := make([]byte, ReadBufferSize)
	n, err := r.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, &ConnectionError{Op: "read", Err: err}
	}
	return Parse(buf[:n])
}

// Parse decodes the first frame in b. Trailing bytes are ignored.
func Parse(b []byte) (*Message, error) {
	p := parser{buf: b}

	raw, ok := p.next()
	if !ok {
		return nil, truncated(FieldKind)
	}
	kind := Kind(raw)
	if !kind.Valid() {
		return nil, &UnknownKindError{Kind: raw}
	}

	sender, err := p.identity(FieldSenderLength, FieldSender)
	if err != nil {
		return nil, err
	}
	recipient, err := p.identity(FieldRecipientLength, FieldRecipient)
	if err != nil {
		return nil, err
	}

	lenBytes, ok := p.take(bodyLenLen)
	if !ok {
		return nil, truncated(FieldBodyLength)
	}
	bodyLen := binary.BigEndian.Uint32(lenBytes)
	if uint64(bodyLen) > uint64(len(p.buf)-p.off) {
		return nil, truncated(FieldBody)
	}
	body, _ := p.take(int(bodyLen))

	return newMessage(kind, sender, recipient, body)
}

type parser struct {
	buf []byte
	off int
}

func (p *parser) next() (byte, bool) {
	if p.off >= len(p.buf) {
		return 0, false
	}
	b := p.buf[p.off]
	p.off++
	return b, true
}

func (p *parser) take(n int) ([]byte, bool) {
	if len(p.buf)-p.off < n {
		return nil, false
	}
	b := p.buf[p.off : p.off+n]
	p.off += n
	return b, true
}

func (p *parser) identity(lenField, field string) (string, error) {
	n, ok := p.next()
	if !ok {
		return "", truncated(lenField)
	}
	b, ok := p.take(int(n))
	if !ok {
		return "", truncated(field)
	}
	if !utf8.Valid(b) {
		return "", &FramingError{Field: field, Err: ErrInvalidUTF8}
	}
	return string(b), nil
}

// newMessage copies body so the result never aliases a read buffer.
func newMessage(kind Kind, sender, recipient string, body []byte) (*Message, error) {
	if kind == KindText && !utf8.Valid(body) {
		return nil, &FramingError{Field: FieldBody, Err: ErrInvalidUTF8}
	}
	m := &Message{Kind: kind, Sender: sender, Recipient: recipient}
	if len(body) > 0 {
		m.Body = append([]byte(nil), body...)
	}
	return m, nil
}

// Decoder reads consecutive frames from a byte stream, reassembling frames
// that arrive across several reads.
type Decoder struct {
	r       *bufio.Reader
	maxBody uint32
}

// NewDecoder returns a Decoder over r. maxBody <= 0 selects DefaultMaxBody.
func NewDecoder(r io.Reader, maxBody int) *Decoder {
	limit := uint32(DefaultMaxBody)
	if maxBody > 0 && uint64(maxBody) <= uint64(^uint32(0)) {
		limit = uint32(maxBody)
	}
	return &Decoder{r: bufio.NewReader(r), maxBody: limit}
}

// Decode returns the next frame, or (nil, nil) when the stream ends cleanly
// between frames.
func (d *Decoder) Decode() (*Message, error) {
	raw, err := d.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, &ConnectionError{Op: "read", Err: err}
	}
	kind := Kind(raw)
	if !kind.Valid() {
		return nil, &UnknownKindError{Kind: raw}
	}

	sender, err := d.identity(FieldSenderLength, FieldSender)
	if err != nil {
		return nil, err
	}
	recipient, err := d.identity(FieldRecipientLength, FieldRecipient)
	if err != nil {
		return nil, err
	}

	var lenBuf [bodyLenLen]byte
	if err := d.full(lenBuf[:], FieldBodyLength); err != nil {
		return nil, err
	}
	bodyLen := binary.BigEndian.Uint32(lenBuf[:])
	if bodyLen > d.maxBody {
		return nil, &FramingError{Field: FieldBody, Err: ErrFrameTooLarge}
	}
	var body []byte
	if bodyLen > 0 {
		body = make([]byte, bodyLen)
		if err := d.full(body, FieldBody); err != nil {
			return nil, err
		}
	}

	return newMessage(kind, sender, recipient, body)
}

func (d *Decoder) identity(lenField, field string) (string, error) {
	n, err := d.r.ReadByte()
	if err != nil {
		return "", d.fieldErr(err, lenField)
	}
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if err := d.full(b, field); err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", &FramingError{Field: field, Err: ErrInvalidUTF8}
	}
	return string(b), nil
}

func (d *Decoder) full(b []byte, field string) error {
	if _, err := io.ReadFull(d.r, b); err != nil {
		return d.fieldErr(err, field)
	}
	return nil
}

func (d *Decoder) fieldErr(err error, field string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return truncated(field)
	}
	return &ConnectionError{Op: "read", Err: err}
}
