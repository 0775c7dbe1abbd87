// Package output renders CLI-facing tabular summaries: the build
// identity's component list.
package output

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by types that can render themselves as a
// table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// PrintTable writes data as a formatted table to w.
func PrintTable(w io.Writer, data TableRenderer) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader(data.Headers())
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, row := range data.Rows() {
		table.Append(row)
	}
	table.Render()
	return nil
}

// ComponentTable renders a build identity's resolved components.
type ComponentTable struct {
	rows [][]string
}

// NewComponentTable returns an empty ComponentTable; rows are added with
// AddComponent.
func NewComponentTable() *ComponentTable {
	return &ComponentTable{}
}

// AddComponent appends one component row.
func (t *ComponentTable) AddComponent(name, path string, requiredCapacity int64) {
	capacity := ""
	if requiredCapacity > 0 {
		capacity = fmt.Sprintf("%d", requiredCapacity)
	}
	t.rows = append(t.rows, []string{name, path, capacity})
}

func (t *ComponentTable) Headers() []string { return []string{"Component", "Path", "Required Capacity"} }
func (t *ComponentTable) Rows() [][]string  { return t.rows }
