package llm

// HarmCategory and BlockThreshold use the provider-neutral names of the
// Gemini safety API.
type HarmCategory string

type BlockThreshold string

const (
	HarmHarassment       HarmCategory = "HARM_CATEGORY_HARASSMENT"
	HarmHateSpeech       HarmCategory = "HARM_CATEGORY_HATE_SPEECH"
	HarmSexuallyExplicit HarmCategory = "HARM_CATEGORY_SEXUALLY_EXPLICIT"
	HarmDangerousContent HarmCategory = "HARM_CATEGORY_DANGEROUS_CONTENT"

	BlockMediumAndAbove BlockThreshold = "BLOCK_MEDIUM_AND_ABOVE"
)

type SafetyRule struct {
	Category  HarmCategory
	Threshold BlockThreshold
}

// DefaultSafety is applied to every call, whatever the mode.
var DefaultSafety = []SafetyRule{
	{Category: HarmHarassment, Threshold: BlockMediumAndAbove},
	{Category: HarmHateSpeech, Threshold: BlockMediumAndAbove},
	{Category: HarmSexuallyExplicit, Threshold: BlockMediumAndAbove},
	{Category: HarmDangerousContent, Threshold: BlockMediumAndAbove},
}
