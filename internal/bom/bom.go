// Package bom imports bills of materials from spreadsheet files and maps
// their rows onto line items ready for enrichment.
package bom

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/model"
)

// column holds the resolved indexes of the fields we extract. -1 means
// the column is absent.
type column struct {
	mpn          int
	manufacturer int
	quantity     int
	reference    int
}

// Header aliases seen in the wild. Matching is case-insensitive after
// trimming whitespace.
var headerAliases = map[string]string{
	"mpn":                      "mpn",
	"part number":              "mpn",
	"part no":                  "mpn",
	"manufacturer part number": "mpn",
	"mfr part number":          "mpn",
	"mfg pn":                   "mpn",
	"manufacturer":             "manufacturer",
	"mfr":                      "manufacturer",
	"mfg":                      "manufacturer",
	"brand":                    "manufacturer",
	"quantity":                 "quantity",
	"qty":                      "quantity",
	"reference":                "reference",
	"references":               "reference",
	"ref des":                  "reference",
	"designator":               "reference",
	"designators":              "reference",
}

// Import reads a BOM file and returns its line items, assigning fresh
// line IDs tied to bomID. The format is picked by file extension:
// .xlsx via the spreadsheet parser, anything else as CSV.
func Import(path, bomID string) ([]model.LineItem, error) {
	var rows [][]string
	var err error
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		rows, err = readXLSX(path)
	} else {
		rows, err = readCSV(path)
	}
	if err != nil {
		return nil, err
	}
	return Parse(rows, bomID)
}

// Parse maps raw spreadsheet rows onto line items. The first row must be
// a header naming at least an MPN column; rows without an MPN are
// skipped with a warning rather than failing the import.
func Parse(rows [][]string, bomID string) ([]model.LineItem, error) {
	if len(rows) == 0 {
		return nil, eris.New("bom: file has no rows")
	}

	cols, err := resolveColumns(rows[0])
	if err != nil {
		return nil, err
	}

	var items []model.LineItem
	for i, row := range rows[1:] {
		mpn := cellAt(row, cols.mpn)
		if mpn == "" {
			zap.L().Warn("bom: skipping row without MPN",
				zap.String("bom_id", bomID), zap.Int("row", i+2))
			continue
		}

		qty := 1
		if raw := cellAt(row, cols.quantity); raw != "" {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || n < 1 {
				zap.L().Warn("bom: unparseable quantity, defaulting to 1",
					zap.String("mpn", mpn), zap.String("quantity", raw))
			} else {
				qty = n
			}
		}

		items = append(items, model.LineItem{
			LineID:       uuid.NewString(),
			BOMID:        bomID,
			MPN:          mpn,
			Manufacturer: cellAt(row, cols.manufacturer),
			Quantity:     qty,
			Reference:    cellAt(row, cols.reference),
		})
	}

	if len(items) == 0 {
		return nil, eris.New("bom: no usable line items found")
	}
	return items, nil
}

func resolveColumns(header []string) (column, error) {
	cols := column{mpn: -1, manufacturer: -1, quantity: -1, reference: -1}
	for i, raw := range header {
		canonical, ok := headerAliases[strings.ToLower(strings.TrimSpace(raw))]
		if !ok {
			continue
		}
		switch canonical {
		case "mpn":
			if cols.mpn == -1 {
				cols.mpn = i
			}
		case "manufacturer":
			if cols.manufacturer == -1 {
				cols.manufacturer = i
			}
		case "quantity":
			if cols.quantity == -1 {
				cols.quantity = i
			}
		case "reference":
			if cols.reference == -1 {
				cols.reference = i
			}
		}
	}
	if cols.mpn == -1 {
		return cols, eris.New("bom: no MPN column found in header")
	}
	return cols, nil
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "bom: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("bom: xlsx has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "bom: open csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "bom: read csv")
	}
	return rows, nil
}
