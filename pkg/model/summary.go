// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

var (
	headerRowStyle = lipgloss.NewStyle().Bold(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	rowStyle = lipgloss.NewStyle().
			PaddingLeft(1).PaddingRight(1)
	totalRowStyle = rowStyle.Bold(true)
)

// VariableInfo holds the summary of one trainable variable.
type VariableInfo struct {
	Scope, Name string
	Dimensions  []int
	NumParams   int
	Bytes       uintptr
}

// Variables lists the trainable variables under the scope of ctx, sorted by scope and name.
func Variables(ctx *context.Context) []VariableInfo {
	var infos []VariableInfo
	ctx.EnumerateVariablesInScope(func(v *context.Variable) {
		if !v.Trainable {
			return
		}
		infos = append(infos, VariableInfo{
			Scope:      v.Scope(),
			Name:       v.Name(),
			Dimensions: v.Shape().Dimensions,
			NumParams:  v.Shape().Size(),
			Bytes:      v.Shape().Memory(),
		})
	})
	slices.SortFunc(infos, func(a, b VariableInfo) int {
		if c := strings.Compare(a.Scope, b.Scope); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return infos
}

// Summary returns a table with the trainable variables of the model under ctx's scope, and the total
// number of parameters, similar to Keras' model.summary().
func Summary(ctx *context.Context) string {
	infos := Variables(ctx)
	numRows := len(infos)
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers("Scope", "Variable", "Shape", "# Params").
		StyleFunc(func(row, col int) lipgloss.Style {
			var s lipgloss.Style
			switch {
			case row < 0:
				s = headerRowStyle
			case row == numRows:
				s = totalRowStyle
			default:
				s = rowStyle
			}
			if col == 3 {
				s = s.Align(lipgloss.Right)
			}
			return s
		})
	var totalParams int
	var totalBytes uintptr
	for _, info := range infos {
		table.Row(info.Scope, info.Name, formatDims(info.Dimensions), humanize.Comma(int64(info.NumParams)))
		totalParams += info.NumParams
		totalBytes += info.Bytes
	}
	table.Row("Total", humanize.Bytes(uint64(totalBytes)), "", humanize.Comma(int64(totalParams)))
	return table.Render()
}

func formatDims(dims []int) string {
	parts := make([]string, len(dims))
	for ii, dim := range dims {
		parts[ii] = humanize.Comma(int64(dim))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
