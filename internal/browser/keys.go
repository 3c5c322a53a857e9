package browser

import (
	"fmt"

	"github.com/chromedp/chromedp/kb"
)

const (
	keyEnter     = kb.Enter
	keyBackspace = kb.Backspace
)

// namedDriverKeys maps canonical key names onto the driver's key codes.
var namedDriverKeys = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"Escape":     kb.Escape,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
}

// driverKeys resolves a canonical key name to the string chromedp.KeyEvent
// expects. Single characters pass through as-is.
func driverKeys(key string) (string, error) {
	if mapped, ok := namedDriverKeys[key]; ok {
		return mapped, nil
	}
	if len([]rune(key)) == 1 {
		return key, nil
	}
	return "", fmt.Errorf("unsupported key %q", key)
}
