package translate

import (
	"time"

	"github.com/sysmex-bridge/astmhl7/astm"
	"github.com/sysmex-bridge/astmhl7/hl7"
)

// ASTMQueryToQBP_Q11 converts an ASTM Q-record worklist query into an HL7
// QBP^Q11 query, using the first Q record found in astmMsg.
func ASTMQueryToQBP_Q11(astmMsg string, now time.Time) string {
	records := astm.SplitRecords(astm.NormalizeMessage([]byte(astmMsg)))

	var q astm.Record
	for _, rec := range records {
		if rec.Type == 'Q' {
			q = rec

			break
		}
	}

	msg := hl7.Message{}
	msg.Segments = append(msg.Segments, hl7.NewMSH(
		"Sysmex", "Analyzer", "LabBook", "LIS", now, "QBP^Q11", hl7.ControlID(now), "2.5.1",
	))
	msg.Segments = append(msg.Segments, hl7.NewSegment("QPD", "LAB-27^IHE", "SYSMEX", q.Field(2)))
	msg.Segments = append(msg.Segments, hl7.NewSegment("RCP", "I"))

	return msg.String()
}

// ResultBlockFromRSP_K11 converts the LIS's RSP^K11 worklist reply into the
// four-record ASTM H/P/O/L block, scanning for the first SPM segment's
// specimen ID.
func ResultBlockFromRSP_K11(rsp string) []string {
	sid := ""

	if hl7.IsHL7(rsp) {
		msg := hl7.Parse(rsp)
		if spm, ok := msg.First("SPM"); ok {
			sid = spm.Field(2)
		}
	}

	return ResultBlockRecords(sid)
}
