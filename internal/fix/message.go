// Package fix implements the tag=value session protocol used by the broker:
// message framing, a streaming parser, and the stateful trading session.
package fix

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// SOH is the FIX field delimiter.
const SOH = "\x01"

// BeginString identifies the protocol version on every message.
const BeginString = "FIX.4.4"

// Message types used by this session.
const (
	MsgLogon              = "A"
	MsgHeartbeat          = "0"
	MsgTestRequest        = "1"
	MsgResendRequest      = "2"
	MsgReject             = "3"
	MsgLogout             = "5"
	MsgExecutionReport    = "8"
	MsgNewOrderSingle     = "D"
	MsgOrderCancelRequest = "F"
)

// Tags referenced by this session.
const (
	TagAccount             = 1
	TagBeginSeqNo          = 7
	TagBeginString         = 8
	TagBodyLength          = 9
	TagCheckSum            = 10
	TagClOrdID             = 11
	TagEndSeqNo            = 16
	TagLastQty             = 32
	TagMsgSeqNum           = 34
	TagMsgType             = 35
	TagOrderID             = 37
	TagOrderQty            = 38
	TagOrdStatus           = 39
	TagOrdType             = 40
	TagPrice               = 44
	TagSenderCompID        = 49
	TagSenderSubID         = 50
	TagSendingTime         = 52
	TagSide                = 54
	TagSymbol              = 55
	TagTargetCompID        = 56
	TagText                = 58
	TagTimeInForce         = 59
	TagTransactTime        = 60
	TagRawData             = 96
	TagEncryptMethod       = 98
	TagStopPx              = 99
	TagHeartBtInt          = 108
	TagTestReqID           = 112
	TagResetSeqNumFlag     = 141
	TagUsername            = 553
	TagExecType            = 150
	TagRefMsgType          = 372
	TagSessionRejectReason = 373
)

// Field is a single tag=value pair. Order is significant on the wire.
type Field struct {
	Tag   int
	Value string
}

// Message is an ordered list of fields. The message type (tag 35) is always
// the first field; BeginString, BodyLength and CheckSum are synthesized at
// encode time and stripped at parse time.
type Message struct {
	fields []Field
}

// NewMessage creates a message of the given type.
func NewMessage(msgType string) *Message {
	return &Message{fields: []Field{{Tag: TagMsgType, Value: msgType}}}
}

// Append adds a field. Fields are emitted in append order.
func (m *Message) Append(tag int, value string) *Message {
	m.fields = append(m.fields, Field{Tag: tag, Value: value})
	return m
}

// AppendInt adds an integer field.
func (m *Message) AppendInt(tag int, value int) *Message {
	return m.Append(tag, strconv.Itoa(value))
}

// Get returns the first value for tag.
func (m *Message) Get(tag int) (string, bool) {
	for _, f := range m.fields {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return "", false
}

// GetInt returns the first value for tag parsed as an integer.
func (m *Message) GetInt(tag int) (int, bool) {
	v, ok := m.Get(tag)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Fields returns the fields in wire order. The slice is shared with the
// message; callers must not mutate it.
func (m *Message) Fields() []Field {
	return m.fields
}

// MsgType returns the value of tag 35.
func (m *Message) MsgType() string {
	v, _ := m.Get(TagMsgType)
	return v
}

// Encode frames the message: 8=...|9=<body length>|<fields>|10=<checksum>|.
func (m *Message) Encode() []byte {
	var body bytes.Buffer
	for _, f := range m.fields {
		body.WriteString(strconv.Itoa(f.Tag))
		body.WriteByte('=')
		body.WriteString(f.Value)
		body.WriteString(SOH)
	}

	var out bytes.Buffer
	out.WriteString("8=" + BeginString + SOH)
	out.WriteString("9=" + strconv.Itoa(body.Len()) + SOH)
	out.Write(body.Bytes())

	sum := 0
	for _, b := range out.Bytes() {
		sum += int(b)
	}
	fmt.Fprintf(&out, "10=%03d%s", sum%256, SOH)
	return out.Bytes()
}

// String renders the message with visible delimiters for logs.
func (m *Message) String() string {
	return strings.ReplaceAll(string(m.Encode()), SOH, "|")
}

// Parse decodes one complete framed message. The checksum is verified and
// the framing fields (8, 9, 10) are dropped.
func Parse(raw []byte) (*Message, error) {
	end := bytes.LastIndex(raw, []byte(SOH+"10="))
	if end < 0 {
		return nil, fmt.Errorf("missing checksum field")
	}
	sum := 0
	for _, b := range raw[:end+1] {
		sum += int(b)
	}
	wantSum := fmt.Sprintf("%03d", sum%256)

	msg := &Message{}
	var gotSum string
	for _, part := range bytes.Split(raw, []byte(SOH)) {
		if len(part) == 0 {
			continue
		}
		eq := bytes.IndexByte(part, '=')
		if eq < 0 {
			return nil, fmt.Errorf("malformed field %q", part)
		}
		tag, err := strconv.Atoi(string(part[:eq]))
		if err != nil {
			return nil, fmt.Errorf("malformed tag %q", part[:eq])
		}
		value := string(part[eq+1:])
		switch tag {
		case TagBeginString, TagBodyLength:
			// framing, dropped
		case TagCheckSum:
			gotSum = value
		default:
			msg.fields = append(msg.fields, Field{Tag: tag, Value: value})
		}
	}

	if gotSum != wantSum {
		return nil, fmt.Errorf("checksum mismatch: got %s, want %s", gotSum, wantSum)
	}
	if _, ok := msg.Get(TagMsgType); !ok {
		return nil, fmt.Errorf("missing message type")
	}
	return msg, nil
}

// Parser reassembles framed messages from a byte stream.
type Parser struct {
	buf []byte
}

// Feed appends raw bytes from the wire.
func (p *Parser) Feed(data []byte) {
	p.buf = append(p.buf, data...)
}

// Next returns the next complete message, or nil when more bytes are
// needed. Garbage before a frame start is discarded.
func (p *Parser) Next() (*Message, error) {
	start := bytes.Index(p.buf, []byte("8="+BeginString+SOH))
	if start < 0 {
		// Keep a tail in case a frame start is split across reads.
		if len(p.buf) > 16 {
			p.buf = p.buf[len(p.buf)-16:]
		}
		return nil, nil
	}
	p.buf = p.buf[start:]

	lenStart := bytes.Index(p.buf, []byte(SOH+"9="))
	if lenStart < 0 {
		return nil, nil
	}
	lenEnd := bytes.Index(p.buf[lenStart+1:], []byte(SOH))
	if lenEnd < 0 {
		return nil, nil
	}
	lenEnd += lenStart + 1

	bodyLen, err := strconv.Atoi(string(p.buf[lenStart+3 : lenEnd]))
	if err != nil {
		p.buf = p.buf[1:] // resync past the bad frame start
		return nil, fmt.Errorf("malformed body length: %w", err)
	}

	// body starts after the BodyLength SOH; trailer is "10=NNN" + SOH
	total := lenEnd + 1 + bodyLen + 7
	if len(p.buf) < total {
		return nil, nil
	}

	raw := p.buf[:total]
	p.buf = p.buf[total:]
	return Parse(raw)
}
