package telephony

import (
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

// FirstName extracts the first whitespace-separated token of a full name.
// Agent instructions and stream parameters carry only the first name.
func FirstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ConnectStreamTwiML builds the voice response that greets the caller and
// connects the call to the media-stream WebSocket at streamURL. When
// callerName is non-empty its first name is attached as a custom stream
// parameter so the bridge can personalise the agent before the first turn.
func ConnectStreamTwiML(streamURL, greeting, callerName string) (string, error) {
	stream := &twiml.VoiceStream{Url: streamURL}
	if first := FirstName(callerName); first != "" {
		stream.InnerElements = []twiml.Element{
			&twiml.VoiceParameter{Name: "name", Value: first},
		}
	}

	verbs := []twiml.Element{}
	if greeting != "" {
		verbs = append(verbs, &twiml.VoiceSay{Message: greeting})
	}
	verbs = append(verbs, &twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	})

	return twiml.Voice(verbs)
}
