package bridge

import "strings"

// defaultCallerName stands in when the caller's name is unknown so the
// rendered instructions never contain an empty greeting target.
const defaultCallerName = "there"

// DefaultInstructions is the behavioural prompt sent to the backend when no
// template is configured. The {name} placeholder is substituted per call.
const DefaultInstructions = "You are a friendly and professional phone assistant. " +
	"You are on a voice call with {name}. Keep your replies short and conversational, " +
	"speak clearly, and never pretend to know something you do not. " +
	"When the caller is done, thank them and say goodbye."

// DefaultBootstrapText is the synthetic caller message injected once at the
// start of a call to prompt the agent's opening turn.
const DefaultBootstrapText = "Hello!"

// RenderInstructions substitutes every {name} placeholder in template with the
// caller's name, falling back to a neutral form of address when the name is
// blank.
func RenderInstructions(template, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultCallerName
	}
	return strings.ReplaceAll(template, "{name}", name)
}
