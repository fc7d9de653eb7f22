package main

import "github.com/fatih/color"

var (
	mutedFormat    = color.New(color.FgHiBlack).SprintFunc()
	boldFormat     = color.New(color.FgHiWhite).SprintFunc()
	goodFormat     = color.New(color.FgGreen).SprintFunc()
	warningFormat  = color.New(color.FgHiYellow).SprintFunc()
	criticalFormat = color.New(color.FgHiRed).SprintFunc()
	outputFormat   = color.New(color.FgCyan).SprintFunc()
)

// stateFormat colors a service state word.
func stateFormat(state string) string {
	switch state {
	case "running":
		return goodFormat(state)
	case "stopped":
		return warningFormat(state)
	default:
		return criticalFormat(state)
	}
}
