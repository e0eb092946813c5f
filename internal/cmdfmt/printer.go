// Package cmdfmt renders command results for humans and machines.
// Results always go to stdout; log messages never do.
package cmdfmt

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/nixup-tools/nixup/internal/config"
	"github.com/spf13/viper"
)

// Printer accumulates rows and renders them once at the end of a
// command. Column configs must be set before the first row is appended.
type Printer interface {
	SetColumnConfigs(configs []table.ColumnConfig)
	AppendRow(row table.Row, configs ...table.RowConfig)
	Render() string
}

// NewPrinter selects the output format from the global configuration:
// a table by default, JSON when requested.
func NewPrinter() Printer {
	if viper.GetBool(config.PrintJsonPrettyKey) {
		return newJSONPrinter(true)
	}
	if viper.GetBool(config.PrintJsonKey) {
		return newJSONPrinter(false)
	}
	return newTablePrinter()
}
