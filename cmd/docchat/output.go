package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	assistantColor = color.New(color.FgCyan)
	reasoningColor = color.New(color.FgHiYellow)
	appliedColor   = color.New(color.FgGreen)
	failedColor    = color.New(color.FgRed)
	titleColor     = color.New(color.FgMagenta, color.Bold)
	dimColor       = color.New(color.FgHiBlack)
)

func printTitle(w io.Writer, format string, args ...any) {
	titleColor.Fprintf(w, format+"\n", args...)
}

func printAssistant(w io.Writer, text string) {
	if text == "" {
		return
	}
	assistantColor.Fprint(w, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(w)
	}
}

func printReasoning(w io.Writer, text string) {
	if text == "" {
		return
	}
	reasoningColor.Fprintln(w, strings.TrimRight(text, "\n"))
}

func printApplied(w io.Writer, format string, args ...any) {
	appliedColor.Fprintf(w, "✓ "+format+"\n", args...)
}

func printFailed(w io.Writer, format string, args ...any) {
	failedColor.Fprintf(w, "✗ "+format+"\n", args...)
}

func printDim(w io.Writer, format string, args ...any) {
	dimColor.Fprintf(w, format+"\n", args...)
}
