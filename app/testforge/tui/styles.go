package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary   = lipgloss.Color("39")
	colorSecondary = lipgloss.Color("86")
	colorSuccess   = lipgloss.Color("42")
	colorWarning   = lipgloss.Color("220")
	colorError     = lipgloss.Color("196")
	colorDim       = lipgloss.Color("241")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	sectionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorSecondary)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	completedStyle = lipgloss.NewStyle().
			Foreground(colorSuccess)

	inProgressStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	failedStyle = lipgloss.NewStyle().
			Foreground(colorError)

	filePathStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorSecondary)

	summaryBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(1, 2)

	statusStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)
)
