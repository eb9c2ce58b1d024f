// Package message implements the register protocol's wire model: the
// outbound Command, the inbound Response, and the identifier used to
// correlate the two.
package message

import (
	"encoding/hex"
	"fmt"
	"strings"

	"bmvlink/pkg/checksum"
)

// Command digits, one hex nibble each, as they appear on the wire.
const (
	CmdPing      byte = '1'
	CmdVersion   byte = '3'
	CmdProductID byte = '4'
	CmdRestart   byte = '6'
	CmdGet       byte = '7'
	CmdSet       byte = '8'
	CmdAsyncSet  byte = 'A'
)

// Response status bytes.
const (
	StateOutgoing        byte = 0x00 // sent on outgoing (command) messages
	StateOK              byte = 0x00
	StateUnknownID       byte = 0x01
	StateNotSupported    byte = 0x02
	StateParameterError  byte = 0x04
)

// IsAddressed reports whether cmd carries an address/value pair on the wire.
func IsAddressed(cmd byte) bool {
	return cmd == CmdGet || cmd == CmdSet || cmd == CmdAsyncSet
}

// Message is the shared shape of outbound Commands and inbound Responses.
type Message struct {
	Command  byte
	Address  *uint16
	State    *byte
	ValueHex string // little-endian-on-the-wire hex payload, unswapped
}

// HasAddress reports whether the message carries a register address.
func (m Message) HasAddress() bool {
	return m.Address != nil
}

// Identifier is the command digit alone for non-addressed messages, or the
// command digit plus the swapped address hex for addressed ones - the key
// used to correlate a Response with the Command that caused it.
func (m Message) Identifier() string {
	if m.Address == nil {
		return string(m.Command)
	}
	addrHex, err := SwapEncode(uint64(*m.Address), 2)
	if err != nil {
		return string(m.Command)
	}
	return string(m.Command) + addrHex
}

// ValueAsUint decodes ValueHex as a swapped-on-the-wire integer of the
// given byte width (1, 2 or 4).
func (m Message) ValueAsUint(width int) (uint64, error) {
	if m.ValueHex == "" {
		return 0, fmt.Errorf("message: no value present")
	}
	return SwapDecode(m.ValueHex, width)
}

// Command is a Message prepared for transmission.
type Command struct {
	Message
	Priority      int
	MaxRetries    int
	Wire          string // fully framed, including leading ':' and trailing "\n"
}

// NewPing, NewVersion, NewProductID and NewRestart build the four
// non-addressed commands: command digit only, no address, no value.
func NewPing(priority, maxRetries int) (*Command, error) {
	return newBareCommand(CmdPing, priority, maxRetries)
}

func NewVersion(priority, maxRetries int) (*Command, error) {
	return newBareCommand(CmdVersion, priority, maxRetries)
}

func NewProductID(priority, maxRetries int) (*Command, error) {
	return newBareCommand(CmdProductID, priority, maxRetries)
}

// NewRestart builds the restart command. Per section 4.7, restart bypasses
// the queue entirely and is written directly, but callers may still want a
// framed Command value to hand to the transport.
func NewRestart() (*Command, error) {
	return newBareCommand(CmdRestart, 1, 0)
}

func newBareCommand(cmd byte, priority, maxRetries int) (*Command, error) {
	body := string(cmd)
	wire, err := frame(body)
	if err != nil {
		return nil, err
	}
	state := StateOutgoing
	return &Command{
		Message:    Message{Command: cmd, State: &state},
		Priority:   priority,
		MaxRetries: maxRetries,
		Wire:       wire,
	}, nil
}

// NewGet builds a get command for the given address: body is
// "c | swap(address) | 00", no value.
func NewGet(address uint16, priority, maxRetries int) (*Command, error) {
	return newAddressedCommand(CmdGet, address, "", priority, maxRetries)
}

// NewSet builds a set command: body is "c | swap(address) | 00 | swap(value)".
// width is the byte width of value (1, 2 or 4).
func NewSet(address uint16, value uint64, width, priority, maxRetries int) (*Command, error) {
	valueHex, err := SwapEncode(value, width)
	if err != nil {
		return nil, err
	}
	return newAddressedCommand(CmdSet, address, valueHex, priority, maxRetries)
}

// NewAsyncSet builds an async-set command. It is supported on the wire (the
// device firmware accepts it) but nothing in this driver's public surface
// constructs one by default - see the design notes on async-set reliability.
func NewAsyncSet(address uint16, value uint64, width, priority, maxRetries int) (*Command, error) {
	valueHex, err := SwapEncode(value, width)
	if err != nil {
		return nil, err
	}
	return newAddressedCommand(CmdAsyncSet, address, valueHex, priority, maxRetries)
}

func newAddressedCommand(cmd byte, address uint16, valueHex string, priority, maxRetries int) (*Command, error) {
	addrHex, err := SwapEncode(uint64(address), 2)
	if err != nil {
		return nil, err
	}
	body := string(cmd) + addrHex + "00" + valueHex
	wire, err := frame(body)
	if err != nil {
		return nil, err
	}
	addr := address
	state := StateOutgoing
	return &Command{
		Message:    Message{Command: cmd, Address: &addr, State: &state, ValueHex: valueHex},
		Priority:   priority,
		MaxRetries: maxRetries,
		Wire:       wire,
	}, nil
}

func frame(body string) (string, error) {
	framed, err := checksum.Append(strings.ToUpper(body))
	if err != nil {
		return "", err
	}
	return ":" + framed + "\n", nil
}

// Response is a Message parsed from a received line fragment.
type Response struct {
	Message
}

// IsOK, IsUnknownID, IsNotSupported and IsParameterError classify the
// response's status byte.
func (r Response) IsOK() bool              { return r.State != nil && *r.State == StateOK }
func (r Response) IsUnknownID() bool       { return r.State != nil && *r.State == StateUnknownID }
func (r Response) IsNotSupported() bool    { return r.State != nil && *r.State == StateNotSupported }
func (r Response) IsParameterError() bool  { return r.State != nil && *r.State == StateParameterError }

// ParseResponse parses one response fragment (no leading ':', no trailing
// "\n" - the caller has already split on ':' and trimmed the terminator).
// It returns an error when the fragment is too short for its command kind
// or its address or state field is not valid hex; a bad checksum is
// reported through the returned bool, with the parsed Response still
// returned so callers can inspect the identifier.
func ParseResponse(fragment string) (*Response, bool, error) {
	if len(fragment) < 1+2 {
		return nil, false, fmt.Errorf("message: response fragment %q too short", fragment)
	}
	valid := checksum.Verify(fragment)
	cmd := fragment[0]
	rest := fragment[1 : len(fragment)-2]

	if IsAddressed(cmd) {
		if len(rest) < 6 {
			return nil, false, fmt.Errorf("message: addressed response fragment %q too short", fragment)
		}
		addrHex, stateHex, valueHex := rest[0:4], rest[4:6], rest[6:]
		addrVal, err := SwapDecode(addrHex, 2)
		if err != nil {
			return nil, false, fmt.Errorf("message: bad address in %q: %w", fragment, err)
		}
		addr := uint16(addrVal)
		stateByte, err := decodeSingleByte(stateHex)
		if err != nil {
			return nil, false, fmt.Errorf("message: bad state in %q: %w", fragment, err)
		}
		return &Response{Message{Command: cmd, Address: &addr, State: &stateByte, ValueHex: valueHex}}, valid, nil
	}

	if len(rest) < 2 {
		return nil, false, fmt.Errorf("message: response fragment %q too short", fragment)
	}
	stateHex, valueHex := rest[0:2], rest[2:]
	stateByte, err := decodeSingleByte(stateHex)
	if err != nil {
		return nil, false, fmt.Errorf("message: bad state in %q: %w", fragment, err)
	}
	return &Response{Message{Command: cmd, State: &stateByte, ValueHex: valueHex}}, valid, nil
}

func decodeSingleByte(h string) (byte, error) {
	raw, err := hex.DecodeString(h)
	if err != nil || len(raw) != 1 {
		return 0, fmt.Errorf("expected one hex byte, got %q", h)
	}
	return raw[0], nil
}
