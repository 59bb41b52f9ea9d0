package control

import "strings"

// Key names follow the browser's KeyboardEvent.key values.
const (
	KeyArrowUp    = "ArrowUp"
	KeyArrowDown  = "ArrowDown"
	KeyArrowLeft  = "ArrowLeft"
	KeyArrowRight = "ArrowRight"
	KeySpace      = " "
)

// FromKey maps a key press to a command.
func FromKey(key string) (Command, bool) {
	switch key {
	case KeyArrowUp:
		return Command{Kind: OpacityUp}, true
	case KeyArrowDown:
		return Command{Kind: OpacityDown}, true
	case KeyArrowLeft:
		return Command{Kind: IntervalDown}, true
	case KeyArrowRight:
		return Command{Kind: IntervalUp}, true
	case KeySpace, "Space", "Spacebar":
		return Command{Kind: ToggleActive}, true
	case "c", "C":
		return Command{Kind: ClearEchoes}, true
	}
	return Command{}, false
}

var voiceCommands = []struct {
	words []string
	kind  Kind
}{
	{[]string{"stop", "off"}, Deactivate},
	{[]string{"clear", "reset"}, ClearEchoes},
	{[]string{"start", "go"}, Activate},
}

// FromVoice maps a recognized utterance to a command. The whole utterance
// must equal one of the command words, ignoring case and surrounding
// whitespace.
func FromVoice(utterance string) (Command, bool) {
	spoke := strings.ToLower(strings.TrimSpace(utterance))
	for _, vc := range voiceCommands {
		for _, w := range vc.words {
			if spoke == w {
				return Command{Kind: vc.kind}, true
			}
		}
	}
	return Command{}, false
}
