package mapping

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// rawTOML mirrors the on-disk shape of the mapping file: an array of tables
// under "ivd_mapping". Factor is decoded as any so it can hold either a
// native TOML number or a numeric string.
type rawTOML struct {
	Rows []rawRow `toml:"ivd_mapping"`
}

type rawRow struct {
	Test             string `toml:"test"`
	VendorResultCode string `toml:"vendor_result_code"`
	LISResultCode    string `toml:"lis_result_code"`
	LISUnit          string `toml:"lis_unit"`
	Convert          string `toml:"convert"`
	Factor           any    `toml:"factor"`
}

// LoadTable reads and parses a TOML mapping file into a Table.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mapping: read %s: %w", path, err)
	}

	return ParseTable(data)
}

// ParseTable parses the TOML contents of a mapping file into a Table.
func ParseTable(data []byte) (*Table, error) {
	var raw rawTOML
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("mapping: parse: %w", err)
	}

	t := &Table{Rows: make([]Row, 0, len(raw.Rows))}

	for _, r := range raw.Rows {
		t.Rows = append(t.Rows, Row{
			Test:             r.Test,
			VendorResultCode: r.VendorResultCode,
			LISResultCode:    r.LISResultCode,
			LISUnit:          r.LISUnit,
			Convert:          ConvertMode(r.Convert),
			Factor:           numberFromAny(r.Factor),
		})
	}

	return t, nil
}
