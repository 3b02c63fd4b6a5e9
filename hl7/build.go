package hl7

import (
	"fmt"
	"time"
)

// Timestamp renders t as an HL7 DTM in the YYYYMMDDhhmmss form this
// bridge's MSH-7 uses.
func Timestamp(t time.Time) string {
	return t.Format("20060102150405")
}

// ControlID generates a fresh MSH-10 value from t, unique enough for one
// analyzer connection's traffic.
func ControlID(t time.Time) string {
	return fmt.Sprintf("MSG%d", t.UnixMilli())
}

// NewMSH builds an MSH segment for a message this bridge originates.
func NewMSH(sendingApp, sendingFacility, receivingApp, receivingFacility string, t time.Time, msgType, controlID, version string) Segment {
	return Segment{
		Type: "MSH",
		Fields: []string{
			"MSH", "^~\\&",
			sendingApp, sendingFacility,
			receivingApp, receivingFacility,
			Timestamp(t),
			"",
			msgType,
			controlID,
			"P",
			version,
		},
	}
}
