package matrix

import (
	"strings"

	"geminichat/core"
)

const (
	DefaultCommandPrefix = "!"

	commandHelp = "help"

	// defaultVisionPrompt is used for an image posted without a command.
	defaultVisionPrompt = "Describe the image."
)

// Command is a parsed chat command. Args keeps the user's text as typed,
// minus the command word.
type Command struct {
	Name string
	Args string
}

// ParseCommand splits "<prefix><name> <args>" and reports whether body is a
// command at all. Names are case-insensitive.
func ParseCommand(prefix, body string) (Command, bool) {
	if prefix == "" {
		prefix = DefaultCommandPrefix
	}
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, prefix) {
		return Command{}, false
	}
	rest := strings.TrimPrefix(body, prefix)
	if rest == "" || rest[0] == ' ' {
		return Command{}, false
	}

	name, args, _ := strings.Cut(rest, " ")
	if i := strings.IndexAny(name, "\n\t"); i >= 0 {
		args = name[i+1:] + " " + args
		name = name[:i]
	}
	return Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}, true
}

// Mode maps the command to a dispatch mode. help and unknown names have none.
// Chat commands are case-insensitive, so the name is folded before the exact
// wire-tag match.
func (c Command) Mode() (core.Mode, bool) {
	mode, err := core.ParseMode(strings.ToLower(c.Name))
	if err != nil || mode == 0 {
		return 0, false
	}
	return mode, true
}

func helpText(prefix string) string {
	if prefix == "" {
		prefix = DefaultCommandPrefix
	}
	var b strings.Builder
	b.WriteString("Commands:\n")
	b.WriteString(prefix + "chat <message> - talk to the model\n")
	b.WriteString(prefix + "summarize <text> - summarize a block of text (links are not accepted)\n")
	b.WriteString(prefix + "vision <question> - reply to an image, or use it as an image caption\n")
	b.WriteString(prefix + "help - show this message\n")
	b.WriteString("Images sent without a command are described automatically.")
	return b.String()
}
