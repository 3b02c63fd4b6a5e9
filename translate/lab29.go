package translate

import (
	"strconv"
	"strings"
	"time"

	"github.com/sysmex-bridge/astmhl7/astm"
	"github.com/sysmex-bridge/astmhl7/hl7"
	"github.com/sysmex-bridge/astmhl7/mapping"
)

// ASTMToOUL_R22 converts an assembled ASTM result message into an HL7
// OUL^R22 message, applying table to each R record's value/unit.
func ASTMToOUL_R22(astmMsg string, table *mapping.Table, now time.Time) string {
	records := astm.SplitRecords(astm.NormalizeMessage([]byte(astmMsg)))

	msg := hl7.Message{}
	msg.Segments = append(msg.Segments, hl7.NewMSH(
		"Sysmex", "Analyzer", "LabBook", "LIS", now, "OUL^R22", hl7.ControlID(now), "2.5.1",
	))

	obxIndex := 1

	for _, rec := range records {
		switch rec.Type {
		case 'P':
			msg.Segments = append(msg.Segments, hl7.NewSegment("PID", "", "", rec.Field(2), "", ""))

		case 'O':
			sid := strings.TrimSpace(ExtractSpecimenIDFromO(rec))
			msg.Segments = append(msg.Segments, hl7.NewSegment("SPM", "1", sid))
			msg.Segments = append(msg.Segments, hl7.NewSegment("ORC", "RE", sid))
			msg.Segments = append(msg.Segments, hl7.NewSegment("OBR", "1", sid, "", rec.Field(4)))

		case 'R':
			lisCode := rec.Field(2)
			rawUnit := rec.Field(4)
			value := stripUnitSuffix(rec.Field(3), rawUnit)

			var row mapping.Row
			if r, ok := table.Lookup(rec.Field(2)); ok {
				lisCode = r.LISResultCode
				row = r
			}

			value, unit := mapping.Apply(row, value, rawUnit)

			msg.Segments = append(msg.Segments, hl7.NewSegment("OBX",
				strconv.Itoa(obxIndex),
				"NM",
				lisCode,
				rec.Field(1),
				value,
				unit,
				"",
				rec.Field(6),
				"", "",
				"F",
				"",
				"",
				rec.Field(12),
				"",
				rec.Field(10),
			))
			obxIndex++

		case 'C':
			msg.Segments = append(msg.Segments, hl7.NewSegment("NTE", "1", "L", strings.Join(rec.Fields[1:], " ")))

		default:
			// H, Q, L, and anything unrecognized carry no HL7 equivalent here.
		}
	}

	return msg.String()
}

// stripUnitSuffix removes a trailing unit suffix from value if value already
// carries one that matches currentUnit, so the mapping's unit override does
// not end up concatenated onto the numeric text twice.
func stripUnitSuffix(value, currentUnit string) string {
	if currentUnit == "" {
		return value
	}

	if strings.HasSuffix(value, currentUnit) {
		return strings.TrimSpace(strings.TrimSuffix(value, currentUnit))
	}

	return value
}

// ACKToASTM converts the LIS's ACK reply to an OUL^R22 into the ASTM "L"
// termination record the analyzer expects: "L|1|Y" when MSA-1 is AA,
// otherwise "L|1|N". A reply that is not HL7 at all returns "L|1|N".
// LAB-27's RSP^K11 reply is converted by ResultBlockFromRSP_K11 instead.
func ACKToASTM(reply string) string {
	if !hl7.IsHL7(reply) {
		return "L|1|N"
	}

	msg := hl7.Parse(reply)

	msa, ok := msg.First("MSA")
	if !ok || msa.Field(1) != "AA" {
		return "L|1|N"
	}

	return "L|1|Y"
}
