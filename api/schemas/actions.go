package schemas

import (
	"fmt"
	"strings"
)

// NormalizedRange is the coordinate space the computer-use model emits
// positions in, independent of the actual viewport resolution.
const NormalizedRange = 1000

// ActionKind identifies one of the predefined computer-use functions the
// dispatcher knows how to execute.
type ActionKind string

const (
	ActionOpenWebBrowser ActionKind = "open_web_browser"
	ActionNavigate       ActionKind = "navigate"
	ActionClickAt        ActionKind = "click_at"
	ActionTypeTextAt     ActionKind = "type_text_at"
	ActionKeyCombination ActionKind = "key_combination"
	ActionScrollDocument ActionKind = "scroll_document"
	// ActionUnknown marks a function name outside the known set. Such
	// actions are logged and skipped, never executed.
	ActionUnknown ActionKind = "unknown"
)

// ScrollDirection is one of the four document scroll directions.
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// DefaultScrollMagnitude is applied when the model omits a magnitude,
// matching the model's documented default.
const DefaultScrollMagnitude = 800

// SafetyDecision is attached by the model to actions it considers sensitive.
// Its presence makes the action confirmation-required.
type SafetyDecision struct {
	Decision    string `json:"decision,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

// Explain returns the human-facing reason for the confirmation prompt.
func (s *SafetyDecision) Explain() string {
	if s == nil {
		return ""
	}
	if s.Explanation != "" {
		return s.Explanation
	}
	return "The model requested a potentially sensitive action."
}

// NavigateParams carries the target of a navigate action.
type NavigateParams struct {
	URL string
}

// ClickParams carries a click position in normalized coordinates.
type ClickParams struct {
	X int
	Y int
}

// TypeTextParams carries a type_text_at action: click the position, then
// type.
type TypeTextParams struct {
	X                 int
	Y                 int
	Text              string
	PressEnter        bool
	ClearBeforeTyping bool
}

// KeyCombinationParams carries the textual key combination, e.g. "Control+C".
type KeyCombinationParams struct {
	Keys string
}

// ScrollParams carries a scroll_document action.
type ScrollParams struct {
	Direction ScrollDirection
	Magnitude int
}

// Action is the closed tagged variant of computer-use actions. Kind selects
// exactly one of the parameter fields; the others are nil. Unknown or
// excluded function names parse to ActionUnknown with only Name populated so
// the dispatcher can report and skip them.
type Action struct {
	Kind ActionKind
	// Name is the wire-level function name, retained for logging and for
	// echoing back in the function response.
	Name string

	Navigate *NavigateParams
	Click    *ClickParams
	TypeText *TypeTextParams
	Keys     *KeyCombinationParams
	Scroll   *ScrollParams

	// Safety is non-nil when the model flagged this action as requiring
	// explicit user approval before execution.
	Safety *SafetyDecision
}

// ConfirmationRequired reports whether the action must be approved by the
// user before it may be dispatched.
func (a *Action) ConfirmationRequired() bool {
	return a.Safety != nil
}

// ParseAction converts a wire-level function call (name plus loosely typed
// argument map) into a typed Action. Unknown names are not an error; they
// yield ActionUnknown. Missing or malformed required arguments are.
func ParseAction(name string, args map[string]any) (Action, error) {
	action := Action{Name: name}

	if raw, ok := args["safety_decision"].(map[string]any); ok {
		action.Safety = &SafetyDecision{
			Decision:    argString(raw, "decision", ""),
			Explanation: argString(raw, "explanation", argString(raw, "reason", "")),
		}
	}

	switch ActionKind(name) {
	case ActionOpenWebBrowser:
		action.Kind = ActionOpenWebBrowser

	case ActionNavigate:
		url := argString(args, "url", "")
		if url == "" {
			return action, fmt.Errorf("navigate: missing 'url' argument")
		}
		action.Kind = ActionNavigate
		action.Navigate = &NavigateParams{URL: url}

	case ActionClickAt:
		x, y, err := argCoordinates(args)
		if err != nil {
			return action, fmt.Errorf("click_at: %w", err)
		}
		action.Kind = ActionClickAt
		action.Click = &ClickParams{X: x, Y: y}

	case ActionTypeTextAt:
		x, y, err := argCoordinates(args)
		if err != nil {
			return action, fmt.Errorf("type_text_at: %w", err)
		}
		action.Kind = ActionTypeTextAt
		action.TypeText = &TypeTextParams{
			X:                 x,
			Y:                 y,
			Text:              argString(args, "text", ""),
			PressEnter:        argBool(args, "press_enter", true),
			ClearBeforeTyping: argBool(args, "clear_before_typing", true),
		}

	case ActionKeyCombination:
		keys := strings.TrimSpace(argString(args, "keys", ""))
		if keys == "" {
			return action, fmt.Errorf("key_combination: missing 'keys' argument")
		}
		action.Kind = ActionKeyCombination
		action.Keys = &KeyCombinationParams{Keys: keys}

	case ActionScrollDocument:
		direction := ScrollDirection(strings.ToLower(argString(args, "direction", string(ScrollDown))))
		switch direction {
		case ScrollUp, ScrollDown, ScrollLeft, ScrollRight:
		default:
			return action, fmt.Errorf("scroll_document: direction must be up, down, left, or right")
		}
		magnitude := argInt(args, "magnitude", DefaultScrollMagnitude)
		if magnitude <= 0 {
			magnitude = DefaultScrollMagnitude
		}
		action.Kind = ActionScrollDocument
		action.Scroll = &ScrollParams{Direction: direction, Magnitude: magnitude}

	default:
		action.Kind = ActionUnknown
	}

	return action, nil
}

// EnsureURLScheme qualifies a bare domain/path with https://. Already
// qualified URLs pass through untouched.
func EnsureURLScheme(url string) string {
	if url == "" || strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return url
	}
	return "https://" + url
}

// DenormalizeX converts a normalized x coordinate (0-1000) to a pixel
// coordinate on a viewport of the given width. The mapping is monotonic and
// stays within [0, width] across the normalized range.
func DenormalizeX(x, width int) int {
	return x * width / NormalizedRange
}

// DenormalizeY converts a normalized y coordinate (0-1000) to a pixel
// coordinate on a viewport of the given height.
func DenormalizeY(y, height int) int {
	return y * height / NormalizedRange
}

// Deltas maps a scroll direction and magnitude onto wheel deltas.
func (s *ScrollParams) Deltas() (dx, dy int) {
	switch s.Direction {
	case ScrollUp:
		return 0, -s.Magnitude
	case ScrollDown:
		return 0, s.Magnitude
	case ScrollLeft:
		return -s.Magnitude, 0
	case ScrollRight:
		return s.Magnitude, 0
	}
	return 0, 0
}

// -- Argument extraction helpers --
//
// Function-call arguments arrive as a generic JSON map; numbers may be
// float64 or integers depending on the decoder.

func argString(args map[string]any, key, fallback string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func argBool(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return fallback
}

func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case float32:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}

func argCoordinates(args map[string]any) (x, y int, err error) {
	x = argInt(args, "x", -1)
	y = argInt(args, "y", -1)
	if x < 0 || y < 0 {
		return 0, 0, fmt.Errorf("missing or invalid 'x'/'y' arguments")
	}
	return x, y, nil
}
