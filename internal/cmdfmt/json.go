package cmdfmt

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

// jsonPrinter renders the rows a table would show as one JSON array of
// objects keyed by column name, so `--json` output carries exactly the
// fields the table carries. Hidden columns are dropped from the objects
// the same way the table drops them from the rendering.
type jsonPrinter struct {
	columns []table.ColumnConfig
	items   []map[string]any
	pretty  bool
}

func newJSONPrinter(pretty bool) *jsonPrinter {
	// items starts non-nil so an empty result renders as [] and not null.
	return &jsonPrinter{items: []map[string]any{}, pretty: pretty}
}

func (p *jsonPrinter) SetColumnConfigs(configs []table.ColumnConfig) {
	p.columns = configs
}

func (p *jsonPrinter) AppendRow(row table.Row, _ ...table.RowConfig) {
	if len(row) != len(p.columns) {
		panic(fmt.Sprintf("row carries %d values for %d configured columns (this is likely a bug)",
			len(row), len(p.columns)))
	}
	item := make(map[string]any, len(p.columns))
	for i, col := range p.columns {
		if col.Hidden {
			continue
		}
		item[col.Name] = row[i]
	}
	p.items = append(p.items, item)
}

func (p *jsonPrinter) Render() string {
	var (
		out []byte
		err error
	)
	if p.pretty {
		out, err = json.MarshalIndent(p.items, "", "  ")
	} else {
		out, err = json.Marshal(p.items)
	}
	if err != nil {
		panic("unable to render rows as json (this is likely a bug): " + err.Error())
	}
	return string(out)
}
