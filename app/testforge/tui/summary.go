package tui

import (
	"fmt"
	"strings"

	"github.com/lexcodex/testforge/framework"
)

// RenderSummary formats a finished session for the terminal.
func RenderSummary(result framework.LoopResult) string {
	var b strings.Builder
	title := completedStyle.Render("✓ tests passing")
	if !result.Success {
		title = failedStyle.Render("✗ repair stopped: " + string(result.State))
	}
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("session %s, %d iteration(s)", result.SessionID, result.Iterations)))
	b.WriteString("\n")
	if result.Message != "" {
		b.WriteString(result.Message)
		b.WriteString("\n")
	}
	if result.Outcome.Kind != framework.OutcomeNone {
		b.WriteString(dimStyle.Render("outcome: " + result.Outcome.String()))
		b.WriteString("\n")
	}
	if len(result.FinalFiles) > 0 {
		b.WriteString("\n")
		b.WriteString(sectionHeaderStyle.Render("Files"))
		for _, f := range result.FinalFiles {
			b.WriteString("\n  ")
			b.WriteString(writeStateMark(f.WriteState))
			b.WriteString(" ")
			b.WriteString(filePathStyle.Render(f.Path()))
			if f.CorrectionIteration > 0 {
				b.WriteString(dimStyle.Render(fmt.Sprintf(" (corrected in iteration %d)", f.CorrectionIteration)))
			}
		}
	}
	return summaryBoxStyle.Render(b.String())
}

func writeStateMark(state framework.WriteState) string {
	switch state {
	case framework.WriteStateWritten:
		return completedStyle.Render("✓")
	case framework.WriteStateFailed:
		return failedStyle.Render("✗")
	}
	return dimStyle.Render("·")
}
