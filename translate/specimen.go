// Package translate converts between ASTM E1394-97 records and the HL7
// v2.5.1 messages the three IHE LAB transactions carry, applying the
// mapping table along the way.
package translate

import (
	"fmt"
	"strings"

	"github.com/sysmex-bridge/astmhl7/astm"
)

// BackgroundCheckSampleID is the sentinel specimen ID the analyzer uses for
// its internal background/reagent check cycle: never forwarded upstream.
const BackgroundCheckSampleID = "BACKGROUNDCHECK"

// IsBackgroundCheck reports whether sid, trimmed and compared
// case-insensitively, is the background-check sentinel.
func IsBackgroundCheck(sid string) bool {
	return strings.EqualFold(strings.TrimSpace(sid), BackgroundCheckSampleID)
}

// PadSampleID right-aligns sid to width 15 with leading spaces, per the
// LAB-27/LAB-28 ASTM O-record's fixed-width sample ID field.
func PadSampleID(sid string) string {
	if len(sid) >= 15 {
		return sid
	}

	return fmt.Sprintf("%15s", sid)
}

// ExtractSpecimenIDFromO extracts the specimen ID from an ASTM O record:
// prefer field[3] if it starts with "^^" (take the first component after
// that prefix), otherwise fall back to field[2]. The result is trimmed.
func ExtractSpecimenIDFromO(rec astm.Record) string {
	f3 := rec.Field(3)
	if strings.HasPrefix(f3, "^^") {
		rest := f3[2:]
		if i := strings.IndexByte(rest, '^'); i >= 0 {
			rest = rest[:i]
		}

		return strings.TrimSpace(rest)
	}

	return strings.TrimSpace(rec.Field(2))
}

// ResultBlockRecords builds the four-record H/P/O/L ASTM block LAB-27 and
// LAB-28 both reply with, the sample ID right-aligned to width 15 (see
// PadSampleID).
func ResultBlockRecords(sid string) []string {
	padded := PadSampleID(sid)

	return []string{
		`H|\^&|||||||||||E1394-97`,
		`P|1`,
		fmt.Sprintf(`O|1||^^%s^A|^^^^WBC\^^^^RBC\^^^^HGB\^^^^HCT\^^^^PLT|||||||N||||||||||||||F`, padded),
		`L|1|N`,
	}
}
