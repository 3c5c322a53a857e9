package schemas

import (
	"fmt"
	"strings"
)

// KeyModifier is a bitmask of held modifier keys. The values match the CDP
// Input domain so the browser layer can pass them through directly.
type KeyModifier int

const (
	ModifierNone  KeyModifier = 0
	ModifierAlt   KeyModifier = 1
	ModifierCtrl  KeyModifier = 2
	ModifierMeta  KeyModifier = 4
	ModifierShift KeyModifier = 8
)

// KeyEventData describes a single key press with held modifiers. Key is a
// canonical key name ("a", "Enter", "Tab"); the browser layer maps named
// keys onto the driver's key codes.
type KeyEventData struct {
	Key       string
	Modifiers KeyModifier
}

// canonicalKeys normalizes the named (non-character) keys the model emits.
var canonicalKeys = map[string]string{
	"enter":      "Enter",
	"return":     "Enter",
	"tab":        "Tab",
	"backspace":  "Backspace",
	"delete":     "Delete",
	"escape":     "Escape",
	"esc":        "Escape",
	"space":      " ",
	"up":         "ArrowUp",
	"arrowup":    "ArrowUp",
	"down":       "ArrowDown",
	"arrowdown":  "ArrowDown",
	"left":       "ArrowLeft",
	"arrowleft":  "ArrowLeft",
	"right":      "ArrowRight",
	"arrowright": "ArrowRight",
	"home":       "Home",
	"end":        "End",
	"pageup":     "PageUp",
	"pagedown":   "PageDown",
}

// ParseKeyCombination splits a textual combination such as "Control+Shift+T"
// into the modifier mask and the terminal key. A combination consisting only
// of modifiers is an error.
func ParseKeyCombination(combo string) (KeyEventData, error) {
	var data KeyEventData
	parts := strings.Split(combo, "+")
	for _, part := range parts {
		token := strings.ToLower(strings.TrimSpace(part))
		switch token {
		case "":
			continue
		case "ctrl", "control":
			data.Modifiers |= ModifierCtrl
		case "alt", "option":
			data.Modifiers |= ModifierAlt
		case "shift":
			data.Modifiers |= ModifierShift
		case "meta", "cmd", "command", "super", "win":
			data.Modifiers |= ModifierMeta
		default:
			if data.Key != "" {
				return KeyEventData{}, fmt.Errorf("key combination %q names more than one non-modifier key", combo)
			}
			if named, ok := canonicalKeys[token]; ok {
				data.Key = named
			} else if len(token) == 1 {
				data.Key = token
			} else {
				return KeyEventData{}, fmt.Errorf("key combination %q contains unrecognized key %q", combo, part)
			}
		}
	}
	if data.Key == "" {
		return KeyEventData{}, fmt.Errorf("key combination %q has no non-modifier key", combo)
	}
	return data, nil
}
