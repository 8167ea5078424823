package main

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("33")) // Blue

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")) // Gray

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("160")) // Red

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("40")) // Green

	dirStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("33"))

	linkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("37")) // Cyan

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12)

	sizeStyle = lipgloss.NewStyle().
			Width(10).
			Align(lipgloss.Right)
)
