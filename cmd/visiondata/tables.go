// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/visiondata/pkg/vision/datasets"
	"github.com/gomlx/visiondata/pkg/vision/loaders"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = evenRowStyle
			} else {
				s = oddRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Left)
			} else {
				s = s.Align(lipgloss.Right)
			}
			return
		})
}

// summaryTable lists one row per loader. revision is the git revision of the checkout, if known.
func summaryTable(ls *loaders.Loaders, revision string) *lgtable.Table {
	table := newPlainTable(true)
	table.Row("Loader", "Examples", "Batches", "Batch size", "Workers", "Sampler")
	for _, l := range ls.All() {
		table.Row(l.Name(),
			humanize.Comma(int64(l.NumSamples())),
			humanize.Comma(int64(l.Len())),
			humanize.Comma(int64(l.BatchSize())),
			fmt.Sprintf("%d", l.NumWorkers()),
			fmt.Sprint(l.Sampler()))
	}
	if revision != "" {
		table.Row("revision", revision, "", "", "", "")
	}
	return table
}

// statsTable computes the per-channel statistics of the first maxExamples examples of ds.
func statsTable(ds datasets.Dataset, maxExamples int) (*lgtable.Table, error) {
	mean, std, err := datasets.ChannelStats(ds, maxExamples)
	if err != nil {
		return nil, err
	}
	table := newPlainTable(true)
	table.Row("Channel", "Mean", "Std")
	for ch := range mean {
		table.Row(fmt.Sprintf("%d", ch), fmt.Sprintf("%.4f", mean[ch]), fmt.Sprintf("%.4f", std[ch]))
	}
	return table, nil
}
