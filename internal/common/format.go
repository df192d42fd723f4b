package common

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// Default separator widths
	DefaultWidth = 80
	WideWidth    = 100
)

// PrintSeparator prints a separator line with the specified character and width
func PrintSeparator(char string, width int) {
	fmt.Println(strings.Repeat(char, width))
}

// PrintHeader prints a formatted header with title and separators
func PrintHeader(title string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(title)
	PrintSeparator("=", width)
}

// PrintFooter prints a formatted footer with message and separators
func PrintFooter(message string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(message)
	fmt.Println(strings.Repeat("=", width) + "\n")
}

// PrintBoxSeparator prints a box-drawing separator line (for sub-sections)
func PrintBoxSeparator(width int) {
	fmt.Println("├" + strings.Repeat("─", width))
}

// PrintCheck prints one pass/fail line of a report section
func PrintCheck(name string, ok bool, detail string) {
	fmt.Printf("%s %-28s %s\n", StatusMark(ok), name, detail)
}

// StatusMark renders a check result
func StatusMark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

// BoxPrefix returns the appropriate box-drawing prefix for list items
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "├  "
}

// BoxDetailPrefix returns the prefix for detail lines under list items
func BoxDetailPrefix(isLast bool) string {
	if isLast {
		return "   "
	}
	return "│  "
}

// FormatAmount renders a base-unit amount in display units when the
// asset's decimals are known, e.g. 1500000 with 6 decimals is "1.5".
func FormatAmount(amount decimal.Decimal, decimals int32) string {
	if decimals <= 0 {
		return amount.String()
	}
	return amount.Shift(-decimals).String()
}
