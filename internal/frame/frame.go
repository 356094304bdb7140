// Package frame extracts (id, payload) pairs from the textual CAN-FD lines
// emitted by the gateway's serial link.
package frame

import (
	"fmt"
	"strconv"
	"strings"
)

// HeartbeatID is the CAN id whose arrival advances the slot clock. Its
// payload carries no semantic content.
const HeartbeatID uint16 = 0xEA

const linePrefix = "CAN FD RX: "

// Frame is a transient (id, payload) pair, discarded once decoded.
type Frame struct {
	ID      uint16
	Payload []byte
}

// MalformedLine is returned when a line cannot be parsed into a Frame.
type MalformedLine struct {
	Line   string
	Reason string
}

func (e *MalformedLine) Error() string {
	return fmt.Sprintf("malformed CAN FD line: %s: %q", e.Reason, e.Line)
}

// Parse extracts (id, bytes) from one textual line of the form:
//
//	CAN FD RX: ID=0x<hex>, DLC=<n>, Data=<hex-bytes space-separated>
//
// Parse is pure and stateless; lines that don't start with the expected
// prefix are the caller's responsibility to filter (see ShouldParse).
func Parse(line string) (Frame, error) {
	rest, ok := strings.CutPrefix(line, linePrefix)
	if !ok {
		return Frame{}, &MalformedLine{Line: line, Reason: "missing prefix"}
	}

	fields := strings.Split(rest, ",")
	if len(fields) == 0 {
		return Frame{}, &MalformedLine{Line: line, Reason: "no fields"}
	}

	idField := strings.TrimSpace(fields[0])
	idHex, ok := strings.CutPrefix(idField, "ID=0x")
	if !ok {
		return Frame{}, &MalformedLine{Line: line, Reason: "missing ID=0x"}
	}
	id, err := strconv.ParseUint(idHex, 16, 16)
	if err != nil {
		return Frame{}, &MalformedLine{Line: line, Reason: "bad id: " + err.Error()}
	}

	dataIdx := strings.Index(rest, "Data=")
	if dataIdx < 0 {
		return Frame{}, &MalformedLine{Line: line, Reason: "missing Data="}
	}
	dataPart := strings.TrimSpace(rest[dataIdx+len("Data="):])

	var payload []byte
	if dataPart != "" {
		for _, tok := range strings.Fields(dataPart) {
			b, err := strconv.ParseUint(tok, 16, 8)
			if err != nil {
				return Frame{}, &MalformedLine{Line: line, Reason: "bad data byte: " + err.Error()}
			}
			payload = append(payload, byte(b))
		}
	}

	return Frame{ID: uint16(id), Payload: payload}, nil
}

// ShouldParse reports whether line is a candidate CAN-FD frame line at all.
// Non-matching lines (empty, comments, garbage) are silently dropped upstream
// rather than treated as malformed.
func ShouldParse(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), linePrefix)
}

// IsHeartbeat reports whether f is the heartbeat frame.
func (f Frame) IsHeartbeat() bool {
	return f.ID == HeartbeatID
}
