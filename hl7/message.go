// Package hl7 implements just enough of HL7 v2.5.1 ER7 to build and parse
// the segment types this bridge exchanges with the LIS: MSH, PID, SPM, ORC,
// OBR, OBX, NTE, QPD, RCP, MSA. No ecosystem HL7 library turned up anywhere
// in the retrieved corpus, so this follows the pattern every example repo
// that touches HL7 uses: split on CR, then on the encoding characters,
// using the standard library.
package hl7

import "strings"

// Encoding characters, per MSH-2.
const (
	FieldSep     = '|'
	ComponentSep = '^'
	RepeatSep    = '\\'
	EscapeChar   = '&'
)

// Segment is one HL7 segment: a type (e.g. "MSH") and its pipe-delimited
// fields, Fields[0] being the segment type itself for every segment,
// including MSH. Because MSH-1 is the field separator itself, MSH's
// encoding characters (MSH-2) occupy Fields[1], so MSH-n is Fields[n-1].
type Segment struct {
	Type   string
	Fields []string
}

// Field returns Fields[i], or "" if the segment has fewer fields.
func (s Segment) Field(i int) string {
	if i < 0 || i >= len(s.Fields) {
		return ""
	}

	return s.Fields[i]
}

// Message is an ordered list of segments.
type Message struct {
	Segments []Segment
}

// First returns the first segment of the given type, and true if found.
func (m Message) First(segType string) (Segment, bool) {
	for _, s := range m.Segments {
		if s.Type == segType {
			return s, true
		}
	}

	return Segment{}, false
}

// All returns every segment of the given type, in message order.
func (m Message) All(segType string) []Segment {
	var out []Segment

	for _, s := range m.Segments {
		if s.Type == segType {
			out = append(out, s)
		}
	}

	return out
}

// String renders the message as CR-delimited ER7 text.
func (m Message) String() string {
	lines := make([]string, 0, len(m.Segments))
	for _, s := range m.Segments {
		lines = append(lines, strings.Join(s.Fields, string(FieldSep)))
	}

	return strings.Join(lines, "\r")
}

// Parse splits raw ER7 text (CR, LF, or CRLF delimited) into a Message.
// A message that does not start with "MSH|" is not HL7; callers should
// check that before calling Parse when that distinction matters upstream.
func Parse(raw string) Message {
	raw = strings.ReplaceAll(raw, "\r\n", "\r")
	raw = strings.ReplaceAll(raw, "\n", "\r")

	lines := strings.Split(raw, "\r")

	msg := Message{Segments: make([]Segment, 0, len(lines))}

	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			continue
		}

		fields := strings.Split(line, string(FieldSep))

		segType := fields[0]
		if len(segType) > 3 {
			segType = segType[:3]
		}

		msg.Segments = append(msg.Segments, Segment{Type: segType, Fields: fields})
	}

	return msg
}

// IsHL7 reports whether raw looks like an ER7 message (starts with "MSH|").
func IsHL7(raw string) bool {
	return strings.HasPrefix(strings.TrimLeft(raw, " \t\r\n"), "MSH|")
}

// NewSegment builds a Segment from its type and remaining fields (Fields[0]
// is set to typ).
func NewSegment(typ string, rest ...string) Segment {
	return Segment{Type: typ, Fields: append([]string{typ}, rest...)}
}
