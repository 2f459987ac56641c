package core

import "regexp"

// The product answers in Indonesian; both strings are user-facing.
const (
	SummarizeInstruction = "Ringkas konten berikut secara padat dalam bahasa Indonesia:\n\n"

	LinkRefusalText = "Maaf, untuk saat ini fitur summarize hanya dapat meringkas teks. " +
		"Mohon jangan masukkan link, tetapi salin dan tempel teks lengkap dari artikel yang ingin diringkas."
)

// Deliberately loose: any http(s):// or www. token counts as a link.
var linkPattern = regexp.MustCompile(`(https?://[^\s]+)|(www\.[^\s]+)`)

func ContainsLink(text string) bool {
	return linkPattern.MatchString(text)
}

func summarizePrompt(prompt string) string {
	return SummarizeInstruction + prompt
}
