// Package truncate deterministically trims tool output to fit line and byte
// budgets, preserving head and tail content and emitting an omission marker.
package truncate

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/internal/historymodel"
)

// Budget bounds for truncation. The zero value is not usable; use
// DefaultBudget.
type Budget struct {
	MaxLines  int
	MaxBytes  int
	HeadLines int
	TailLines int
}

// DefaultBudget returns sane default line/byte limits for tool output.
func DefaultBudget() Budget {
	return Budget{
		MaxLines:  256,
		MaxBytes:  10 * 1024,
		HeadLines: 128,
		TailLines: 128,
	}
}

// Format trims raw to fit the budget, checked in order:
//  1. If raw satisfies both budgets, return unchanged.
//  2. Else if line count exceeds MaxLines, keep HeadLines/TailLines with an
//     "[... omitted N of TOTAL lines ...]" marker (line marker wins even if
//     the byte budget is also exceeded).
//  3. Else (byte budget only), keep a head slice under MaxBytes with a
//     "[... output truncated to fit MAX_BYTES bytes ...]" marker.
//  4. Prepend a "Total output lines: <count>" header plus a blank line
//     whenever truncation occurred.
func Format(raw string, budget Budget) string {
	lines := splitLines(raw)
	total := len(lines)

	if total <= budget.MaxLines && len(raw) <= budget.MaxBytes {
		return raw
	}

	if total > budget.MaxLines {
		return formatByLines(lines, total, budget)
	}
	return formatByBytes(raw, total, budget)
}

func formatByLines(lines []string, total int, budget Budget) string {
	head := budget.HeadLines
	tail := budget.TailLines
	if head+tail >= total {
		// Degenerate budgets: fall back to returning everything rather than
		// producing a negative omission count.
		head = total
		tail = 0
	}
	omitted := total - head - tail

	var b strings.Builder
	fmt.Fprintf(&b, "Total output lines: %d\n\n", total)
	for _, l := range lines[:head] {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	if omitted > 0 {
		fmt.Fprintf(&b, "[... omitted %d of %d lines ...]\n", omitted, total)
	}
	for _, l := range lines[total-tail:] {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func formatByBytes(raw string, total int, budget Budget) string {
	headBytes := budget.MaxBytes
	if headBytes > len(raw) {
		headBytes = len(raw)
	}
	head := raw[:headBytes]

	var b strings.Builder
	fmt.Fprintf(&b, "Total output lines: %d\n\n", total)
	b.WriteString(head)
	b.WriteString(fmt.Sprintf("\n[... output truncated to fit %d bytes ...]", budget.MaxBytes))
	return b.String()
}

// splitLines splits on \n without dropping a trailing empty line's
// significance for counting purposes: "a\nb\n" has 2 lines, "a\nb" has 2
// lines, "" has 0 lines.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	trimmed := strings.TrimSuffix(s, "\n")
	return strings.Split(trimmed, "\n")
}

// FormatParts truncates a list of content parts (text or image) to fit a
// total byte budget, preserving image entries and packing text parts in
// order. A text part that overflows the remaining budget is truncated at
// exactly the remaining bytes; any subsequent text parts are dropped and
// replaced with a single "omitted K text items" summary. Image parts are
// always kept.
func FormatParts(parts []historymodel.ContentPart, maxBytes int) []historymodel.ContentPart {
	out := make([]historymodel.ContentPart, 0, len(parts))
	remaining := maxBytes
	omittedText := 0
	textExhausted := false

	for _, p := range parts {
		if p.Kind != historymodel.ContentText {
			out = append(out, p)
			continue
		}
		if textExhausted {
			omittedText++
			continue
		}
		if len(p.Text) <= remaining {
			out = append(out, p)
			remaining -= len(p.Text)
			continue
		}
		if remaining > 0 {
			out = append(out, historymodel.ContentPart{Kind: historymodel.ContentText, Text: p.Text[:remaining]})
		}
		remaining = 0
		textExhausted = true
	}

	if omittedText > 0 {
		out = append(out, historymodel.ContentPart{
			Kind: historymodel.ContentText,
			Text: fmt.Sprintf("omitted %d text items", omittedText),
		})
	}
	return out
}
