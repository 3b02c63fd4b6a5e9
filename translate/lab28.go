package translate

import (
	"strings"
	"time"

	"github.com/sysmex-bridge/astmhl7/hl7"
)

// SpecimenIDFromOML extracts the specimen ID from an OML^O33 order: the
// entity-id component of the placer-assigned identifier in the first SPM
// segment.
func SpecimenIDFromOML(oml string) string {
	msg := hl7.Parse(oml)

	spm, ok := msg.First("SPM")
	if !ok {
		return ""
	}

	placerAssigned := spm.Field(2)
	if i := strings.IndexByte(placerAssigned, '^'); i >= 0 {
		placerAssigned = placerAssigned[:i]
	}

	return strings.TrimSpace(placerAssigned)
}

// OMLToASTM converts an OML^O33 order into the four-record ASTM H/P/O/L
// block to send to the analyzer.
func OMLToASTM(oml string) []string {
	return ResultBlockRecords(SpecimenIDFromOML(oml))
}

// AckR22 builds the ACK^R22 reply to the LIS's OML^O33, reusing its
// control ID (MSA-2) and swapping sending/receiving applications: the
// bridge (Sysmex/Analyzer) becomes the sender, the LIS (LabBook/LIS) the
// receiver.
func AckR22(oml string, sendOK bool, now time.Time) string {
	origMSH, _ := hl7.Parse(oml).First("MSH")
	controlID := origMSH.Field(9)

	ackCode := "AA"
	if !sendOK {
		ackCode = "AE"
	}

	msg := hl7.Message{}
	msg.Segments = append(msg.Segments, hl7.NewMSH(
		"Sysmex", "Analyzer", "LabBook", "LIS", now, "ACK^R22", hl7.ControlID(now), "2.5.1",
	))
	msg.Segments = append(msg.Segments, hl7.NewSegment("MSA", ackCode, controlID))

	return msg.String()
}
