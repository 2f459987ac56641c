package core

import (
	"fmt"
)

// Mode selects one of the three dispatch paths.
type Mode int

const (
	ModeChat Mode = iota + 1
	ModeSummarize
	ModeVision
)

var modeNames = map[Mode]string{
	ModeChat:      "chat",
	ModeSummarize: "summarize",
	ModeVision:    "vision",
}

// Modes lists every supported mode in display order.
func Modes() []Mode {
	return []Mode{ModeChat, ModeSummarize, ModeVision}
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// ParseMode maps a wire tag to a Mode. Tags match exactly. An empty tag
// yields the zero Mode without error so callers can report it as a missing
// field.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return 0, nil
	}
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unsupported mode: %q", s)
}

type Image struct {
	Data     []byte
	MIMEType string
}

type Request struct {
	Mode   Mode
	Prompt string
	Image  *Image
}

type Response struct {
	Text string `json:"text"`

	// Refused is set when a local policy answered without calling the provider.
	Refused bool `json:"-"`
}
