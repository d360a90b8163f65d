package dbsock

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Reserved field names
	FieldCommand    = "command"
	FieldRequestSeq = "request_seq"
	FieldErrorInd   = "error_ind"
	FieldErrorMsg   = "error_msg"

	// Command of messages answering a request
	CommandResponse = "response"

	// Canonical timestamp layout on the wire. Always local time, no offset.
	TimestampLayout = "2006-01-02T15:04:05"
)

var (
	ErrMalformedMessage = errors.New("malformed message")

	timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}$`)
)

// Message is one decoded wire unit
type Message struct {
	Command string
	Fields  *Fields
}

// Codec converts between messages and their transmitted form
type Codec interface {
	Encode(seq uint64, command string, fields *Fields) ([]byte, error)
	Decode(raw []byte) (*Message, error)
}

// MessageCodec can also render an arbitrary message, as a server does for responses
type MessageCodec interface {
	Codec
	EncodeMessage(m *Message) ([]byte, error)
}

// FormatTimestamp renders t in canonical form, truncated to whole seconds
func FormatTimestamp(t time.Time) string {
	return t.In(time.Local).Format(TimestampLayout)
}

// IsTimestamp reports whether s looks like a canonical timestamp
func IsTimestamp(s string) bool {
	return timestampPattern.MatchString(s)
}

// ParseTimestamp parses a canonical timestamp as local time
func ParseTimestamp(s string) (time.Time, error) {
	if !IsTimestamp(s) {
		return time.Time{}, fmt.Errorf("not a timestamp: %q", s)
	}
	return time.ParseInLocation(TimestampLayout, s, time.Local)
}

// classify turns inbound text into a Value. Anything shaped like a timestamp becomes one,
// regardless of which field it arrived in.
func classify(s string) Value {
	if IsTimestamp(s) {
		if t, err := ParseTimestamp(s); err == nil {
			return Timestamp(t)
		}
	}
	return Text(s)
}

// -----------------------------------------------------------------------------------------------

// TextCodec implements the query-string-like format
//
//	create_store?request_seq=0;command=create_store;name=Kroger
//
// Nothing is escaped, so ';', '=' and '?' must not appear in names or values.
type TextCodec struct{}

func (TextCodec) Encode(seq uint64, command string, fields *Fields) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(command)
	b.WriteString("?" + FieldRequestSeq + "=")
	b.WriteString(strconv.FormatUint(seq, 10))
	b.WriteString(";" + FieldCommand + "=")
	b.WriteString(command)
	fields.Range(func(k string, v Value) bool {
		if k == FieldRequestSeq || k == FieldCommand {
			return true
		}
		b.WriteByte(';')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v.String())
		return true
	})
	return b.Bytes(), nil
}

// EncodeMessage renders a message without adding any reserved fields
func (TextCodec) EncodeMessage(m *Message) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(m.Command)
	sep := byte('?')
	m.Fields.Range(func(k string, v Value) bool {
		b.WriteByte(sep)
		sep = ';'
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v.String())
		return true
	})
	return b.Bytes(), nil
}

func (TextCodec) Decode(raw []byte) (*Message, error) {
	s := string(raw)
	command, params, _ := strings.Cut(s, "?")
	if command == "" {
		return nil, fmt.Errorf("%w: empty command", ErrMalformedMessage)
	}
	m := &Message{Command: command, Fields: NewFields()}
	for _, pair := range strings.Split(params, ";") {
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: bad field %q", ErrMalformedMessage, pair)
		}
		m.Fields.Set(k, classify(v))
	}
	return m, nil
}

// -----------------------------------------------------------------------------------------------

// JSONCodec implements the flat JSON object format. Outbound values are all strings except
// request_seq, which is a number.
type JSONCodec struct{}

func (c JSONCodec) Encode(seq uint64, command string, fields *Fields) ([]byte, error) {
	m := &Message{Command: command, Fields: NewFields()}
	m.Fields.Set(FieldRequestSeq, Integer(int64(seq)))
	m.Fields.Set(FieldCommand, Text(command))
	fields.Range(func(k string, v Value) bool {
		if k != FieldRequestSeq && k != FieldCommand {
			m.Fields.Set(k, Text(v.String()))
		}
		return true
	})
	return c.EncodeMessage(m)
}

// EncodeMessage writes m as a JSON object. Integer and boolean values keep their JSON types.
func (JSONCodec) EncodeMessage(m *Message) ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	n := 0
	write := func(k string, v Value) error {
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		var vb []byte
		switch v.Kind() {
		case KindInteger, KindBoolean:
			vb = []byte(v.String())
		default:
			if vb, err = json.Marshal(v.String()); err != nil {
				return err
			}
		}
		if n > 0 {
			b.WriteByte(',')
		}
		n++
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
		return nil
	}
	if !m.Fields.Has(FieldCommand) {
		if err := write(FieldCommand, Text(m.Command)); err != nil {
			return nil, err
		}
	}
	var err error
	m.Fields.Range(func(k string, v Value) bool {
		err = write(k, v)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func (JSONCodec) Decode(raw []byte) (*Message, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if tok, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	} else if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedMessage)
	}
	m := &Message{Fields: NewFields()}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		key, _ := tok.(string)
		var rv json.RawMessage
		if err := dec.Decode(&rv); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrMalformedMessage, key, err)
		}
		v, ok, err := jsonValue(rv)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrMalformedMessage, key, err)
		}
		if ok {
			m.Fields.Set(key, v)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if rest := bytes.TrimSpace(raw[dec.InputOffset():]); len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformedMessage)
	}
	cmd, ok := m.Fields.Get(FieldCommand)
	if !ok || cmd.String() == "" {
		return nil, fmt.Errorf("%w: missing command", ErrMalformedMessage)
	}
	m.Command = cmd.String()
	return m, nil
}

func jsonValue(rv json.RawMessage) (Value, bool, error) {
	trimmed := bytes.TrimSpace(rv)
	if len(trimmed) == 0 {
		return Value{}, false, errors.New("empty value")
	}
	switch trimmed[0] {
	case 'n':
		return Value{}, false, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return Value{}, false, err
		}
		return Boolean(b), true, nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Value{}, false, err
		}
		return classify(s), true, nil
	case '[', '{':
		return Text(string(trimmed)), true, nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return Value{}, false, err
	}
	if i, err := n.Int64(); err == nil {
		return Integer(i), true, nil
	}
	return Text(n.String()), true, nil
}
