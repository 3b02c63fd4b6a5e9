package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDoc = `
# comment
id_analyzer = XN-1000
version = 1.0
url_upstream_lab27 = http://lis.local/lab27
url_upstream_lab29 = http://lis.local/lab29
type_cnx = socket_E1381
type_msg = astm
archive_msg = true
operation_mode = batch
mode = server
ip_analyzer = 0.0.0.0
port_analyzer = 6000
mapping_path = /etc/bridge/mapping.toml
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse(strings.NewReader(validDoc))
	require.NoError(t, err)

	assert.Equal(t, "XN-1000", cfg.IDAnalyzer)
	assert.Equal(t, ConnTypeSocketE1381, cfg.TypeCnx)
	assert.True(t, cfg.ArchiveMsg)
	assert.Equal(t, ModeServer, cfg.Mode)
	assert.Equal(t, uint16(6000), cfg.PortAnalyzer)
	assert.Equal(t, "batch", cfg.OperationMode)
}

func TestParseDefaultsOperationModeToBatch(t *testing.T) {
	doc := "type_cnx = socket\nmode = client\nport_analyzer = 3000\n"
	cfg, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "batch", cfg.OperationMode)
}

func TestParseRejectsBadConnType(t *testing.T) {
	doc := "type_cnx = serial\nmode = client\n"
	_, err := Parse(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestParseRejectsBadMode(t *testing.T) {
	doc := "type_cnx = socket\nmode = peer\n"
	_, err := Parse(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestParseRejectsMalformedLine(t *testing.T) {
	doc := "type_cnx socket\n"
	_, err := Parse(strings.NewReader(doc))
	assert.Error(t, err)
}
