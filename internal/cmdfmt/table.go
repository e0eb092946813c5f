package cmdfmt

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type tablePrinter struct {
	writer  table.Writer
	columns []table.ColumnConfig
}

func newTablePrinter() *tablePrinter {
	w := table.NewWriter()
	w.Style().Format.Header = text.FormatDefault
	w.Style().Options.DrawBorder = false
	w.Style().Options.SeparateColumns = true
	w.Style().Options.SeparateHeader = true
	w.Style().Box.MiddleVertical = " "
	return &tablePrinter{writer: w}
}

func (p *tablePrinter) SetColumnConfigs(configs []table.ColumnConfig) {
	p.columns = configs
	p.writer.SetColumnConfigs(configs)
	header := make(table.Row, 0, len(configs))
	for _, col := range configs {
		header = append(header, col.Name)
	}
	p.writer.AppendHeader(header)
}

func (p *tablePrinter) AppendRow(row table.Row, configs ...table.RowConfig) {
	p.writer.AppendRow(row, configs...)
}

func (p *tablePrinter) Render() string {
	return p.writer.Render()
}
