package llm

import "strings"

const (
	MessageBusy        = "The AI service is busy right now. Please wait a moment and try again."
	MessageTimeout     = "The AI service took too long to respond. Please try again."
	MessageFiltered    = "Your message was blocked by the content filter. Please rephrase it and try again."
	MessageTooLong     = "Your message or attached files are too long. Please shorten them and try again."
	MessageAuth        = "The AI service rejected our credentials. Please contact your administrator."
	MessageUnavailable = "The AI model is currently unavailable. Please try again later."
	MessageGeneric     = "Failed to generate a response. Please try again."
)

var userFacingRules = []struct {
	needles []string
	message string
}{
	{needles: []string{"rate limit", "429", "too many requests"}, message: MessageBusy},
	{needles: []string{"timeout", "deadline exceeded", "etimedout"}, message: MessageTimeout},
	{needles: []string{"content_filter", "content management policy"}, message: MessageFiltered},
	{needles: []string{"context_length", "maximum context length", "too many tokens"}, message: MessageTooLong},
	{needles: []string{"401", "unauthorized", "api key"}, message: MessageAuth},
	{needles: []string{"404", "deploymentnotfound"}, message: MessageUnavailable},
}

// UserFacingError maps a completion failure to a message safe to show end users.
// The first matching rule wins.
func UserFacingError(err error) string {
	if err == nil {
		return ""
	}
	text := strings.ToLower(err.Error())
	for _, rule := range userFacingRules {
		for _, needle := range rule.needles {
			if strings.Contains(text, needle) {
				return rule.message
			}
		}
	}
	return MessageGeneric
}
