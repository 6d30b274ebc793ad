package main

import (
	"fmt"

	"github.com/fatih/color"
)

var (
	bold       = color.New(color.Bold).SprintFunc()
	dim        = color.New(color.Faint).SprintFunc()
	green      = color.New(color.FgGreen).SprintFunc()
	yellow     = color.New(color.FgYellow).SprintFunc()
	red        = color.New(color.FgRed).SprintFunc()
	boldCyan   = color.New(color.Bold, color.FgCyan).SprintFunc()
	boldGreen  = color.New(color.Bold, color.FgGreen).SprintFunc()
	boldYellow = color.New(color.Bold, color.FgYellow).SprintFunc()
)

// confidenceColor buckets a 0..1 confidence into green, yellow or red.
func confidenceColor(c float64) string {
	label := fmt.Sprintf("%.0f%%", c*100)
	switch {
	case c >= 0.7:
		return green(label)
	case c >= 0.45:
		return yellow(label)
	default:
		return red(label)
	}
}
