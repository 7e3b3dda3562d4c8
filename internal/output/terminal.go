package output

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

type glyphSet struct {
	yes string
	no  string
}

// getTerminalSize returns the current terminal dimensions
func getTerminalSize() (width, height int) {
	ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)
	if err != nil || ws.Col == 0 {
		// Default to 80x24 if we can't detect
		return 80, 24
	}
	return int(ws.Col), int(ws.Row)
}

// supportsUnicode checks if the terminal supports Unicode
func supportsUnicode() bool {
	lang := os.Getenv("LANG")
	lcAll := os.Getenv("LC_ALL")

	return strings.Contains(lang, "UTF-8") || strings.Contains(lcAll, "UTF-8")
}

func glyphs() glyphSet {
	if supportsUnicode() {
		return glyphSet{yes: "✓", no: "✗"}
	}
	return glyphSet{yes: "yes", no: "no"}
}

// fieldsWidth is the room left for the fields column of the objects table
func fieldsWidth() int {
	width, _ := getTerminalSize()
	// type, id and refs columns plus borders
	w := width - 50
	if w < 20 {
		w = 20
	}
	return w
}
