package main

import (
	"os"

	"github.com/olekukonko/tablewriter"
)

type VisualTable struct {
	Header   []string
	Data     [][]string
	RowColor []RowColor
}

type RowColor struct {
	row    int
	column []int
	color  []tablewriter.Colors
}

func NewVisualTable(header []string, data [][]string, rowColor []RowColor) *VisualTable {
	return &VisualTable{
		Header:   header,
		Data:     data,
		RowColor: rowColor,
	}
}

func (v *VisualTable) Generate() {
	table := tablewriter.NewWriter(os.Stdout)

	for index, datum := range v.Data {
		var rowColors []tablewriter.Colors
		for _, rowColor := range v.RowColor {
			if index != rowColor.row {
				continue
			}
			for dIndex := range datum {
				colors := tablewriter.Colors{}
				for n, colIndex := range rowColor.column {
					if dIndex == colIndex {
						colors = rowColor.color[n]
					}
				}
				rowColors = append(rowColors, colors)
			}
		}
		table.Rich(datum, rowColors)
	}

	table.SetHeader(v.Header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.Render()
}

func statusColor(status string) tablewriter.Colors {
	switch status {
	case "succeeded":
		return tablewriter.Colors{tablewriter.Bold, tablewriter.FgGreenColor}
	case "running", "queued":
		return tablewriter.Colors{tablewriter.Bold, tablewriter.FgYellowColor}
	}
	return tablewriter.Colors{tablewriter.Bold, tablewriter.FgRedColor}
}
