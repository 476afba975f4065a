package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/openmined/syftsync/internal/syncstate"
	"gopkg.in/yaml.v3"
)

const (
	outputText = "text"
	outputYAML = "yaml"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()

	gray = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	bold = lipgloss.NewStyle().Bold(true)
)

func colorState(s syncstate.State) string {
	label := fmt.Sprintf("%-22s", s.String())
	switch s.Direction {
	case syncstate.Incoming:
		return cyan(label)
	case syncstate.Outgoing:
		return green(label)
	case syncstate.Conflicting:
		if s.IsPseudoConflict() {
			return gray.Render(label)
		}
		return red(label)
	default:
		return label
	}
}

func checkOutput(output string) error {
	if output != outputText && output != outputYAML {
		return fmt.Errorf("unknown output format %q (want %s or %s)", output, outputText, outputYAML)
	}
	return nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
