package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/abihf/cinecap/capture"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List configured cameras with their formats and frame sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices := ctx.conf().DeviceMap()
			facings := make([]string, 0, len(devices))
			for f := range devices {
				facings = append(facings, string(f))
			}
			sort.Strings(facings)

			var rows [][]string
			for _, f := range facings {
				path := devices[capture.Facing(f)]
				info, err := capture.Probe(path)
				if err != nil {
					rows = append(rows, []string{f, path, "-", err.Error(), "", ""})
					continue
				}
				for _, format := range info.Formats {
					usable := "no"
					if format.Decodable {
						usable = "yes"
					}
					rows = append(rows, []string{f, path, format.Code, format.Description, usable, summarizeSizes(format.Sizes)})
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Facing", "Device", "Format", "Description", "Usable", "Sizes"},
				rows,
			))
			return nil
		},
	}
}

func summarizeSizes(sizes []string) string {
	const limit = 4
	if len(sizes) <= limit {
		return strings.Join(sizes, ", ")
	}
	return strings.Join(sizes[:limit], ", ") + ", ..."
}

func renderTable(headers []string, rows [][]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignCenter},
	})
	return tw.Render()
}
