package astm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMessageCollapsesCRLF(t *testing.T) {
	got := NormalizeMessage([]byte("H|\\^&\r\nP|1\r\nL|1|N\r\n"))
	assert.Equal(t, "H|\\^&\rP|1\rL|1|N", got)
}

func TestSplitRecordsStripsRecordNumberPrefix(t *testing.T) {
	msg := "1H|\\^&|||bridge\r2P|1\r3O|1|12345\r4L|1|N"
	records := SplitRecords(msg)

	assert.Len(t, records, 4)
	assert.Equal(t, byte('H'), records[0].Type)
	assert.Equal(t, byte('P'), records[1].Type)
	assert.Equal(t, byte('O'), records[2].Type)
	assert.Equal(t, byte('L'), records[3].Type)
}

func TestSplitRecordsSkipsBlankLines(t *testing.T) {
	records := SplitRecords("H|\\^&\r\rL|1|N\r")
	assert.Len(t, records, 2)
}

func TestSplitRecordsPreservesTrailingEmptyFields(t *testing.T) {
	records := SplitRecords("O|1|12345||||||||||||||||F")
	assert.Equal(t, "", records[0].Field(3))
	assert.Equal(t, "F", records[0].Field(len(records[0].Fields)-1))
}

func TestParseRecordWithoutNumberPrefix(t *testing.T) {
	records := SplitRecords("Q|1|^12345")
	assert.Len(t, records, 1)
	assert.Equal(t, byte('Q'), records[0].Type)
	assert.Equal(t, "^12345", records[0].Field(2))
}

func TestJoinFieldsRoundTrip(t *testing.T) {
	line := JoinFields("H", "\\^&", "", "", "bridge")
	records := SplitRecords(line)
	assert.Equal(t, line, JoinFields(records[0].Fields...))
}
