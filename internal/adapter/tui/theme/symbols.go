package theme

import (
	"os"
	"strings"
)

// Symbols. InitSymbols swaps them for ASCII where glyphs would not render.
var (
	SymbolSuccess  = "✓"
	SymbolError    = "✗"
	SymbolBullet   = "•"
	SymbolEllipsis = "…"
	SymbolUser     = "You"
	SymbolBot      = "switchboard"
)

// ASCIIOnly reports whether the terminal should get ASCII symbols:
// SWITCHBOARD_ASCII_SYMBOLS is set true, or the terminal is the Linux
// virtual console.
func ASCIIOnly() bool {
	switch strings.ToLower(os.Getenv("SWITCHBOARD_ASCII_SYMBOLS")) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return os.Getenv("TERM") == "linux"
}

// InitSymbols sets the Symbol variables for the current terminal.
func InitSymbols() {
	if ASCIIOnly() {
		SymbolSuccess, SymbolError, SymbolBullet, SymbolEllipsis = "[OK]", "[ERR]", "*", "..."
		return
	}
	SymbolSuccess, SymbolError, SymbolBullet, SymbolEllipsis = "✓", "✗", "•", "…"
}

func init() { InitSymbols() }
