package conversation

import (
	"fmt"
	"strings"

	"github.com/lifelensai/lifelens/internal/session"
)

// Phase is the conversation state: FRESH until the first generated reply, WARMED after.
type Phase int

const (
	PhaseFresh Phase = iota
	PhaseWarmed
)

func (p Phase) String() string {
	if p == PhaseWarmed {
		return "WARMED"
	}
	return "FRESH"
}

// PhaseOf derives the phase from session state.
func PhaseOf(st session.State) Phase {
	if st.FirstResponseDone {
		return PhaseWarmed
	}
	return PhaseFresh
}

const (
	firstMeetingGreeting = "Hey, looks like we are meeting for the first time—how have you been?\nWelcome to LifeLens AI!\n\n"
	returningGreeting    = "Hi %s, welcome to LifeLens AI.\n\n"

	alreadyGreetedInstruction = "Important: You do NOT need to greet the user (e.g., 'Hi there', 'Hello'). I’ve already done that.\n\n"
	noGreetingInstruction     = "Important: DO NOT use greetings like 'Hi', 'Hello', 'Hi there', or similar. Start directly with emotional reflection or helpful response.\n\n"

	returningUserRule = `
Important Rule:
- The user has chatted with you before.
- Begin your response by naturally referencing the following summary.
- DO NOT fabricate or guess what was said — only use the summary below.

Conversation Summary:
%s
`
	firstMessageRule = `
Important Rule:
- This is the user's first message.
- DO NOT say anything that assumes a previous chat or session.
- Focus on responding to this message alone, naturally and empathetically.
`

	promptTemplate = `You are an AI Therapist and Life Coach with long-term memory, focused on emotional intelligence, human-like warmth, and natural conversation.

%sBehavior Guidelines:
- Never repeat the user's name after the first message.
- Avoid generic greetings like 'Hi there', 'Hello'.
- Refer to real previous memory only if provided.
- Prioritize warmth, empathy, and helpful tone.
- Keep replies concise (3–5 lines).

Therapist Knowledge:
%s
%s

User's New Message:
%s

Now respond naturally and directly.`
)

// Payload is what the generator receives plus the text shown before its reply.
type Payload struct {
	Prompt         string
	GreetingPrefix string
}

// Compose builds the generation prompt for userMessage. history is the summary
// or recalled snippets; knowledge is the knowledge base context.
func Compose(userMessage, history, knowledge, userName string, phase Phase) Payload {
	hasHistory := strings.TrimSpace(history) != ""

	var greeting, greetInstruction string
	switch phase {
	case PhaseFresh:
		greetInstruction = alreadyGreetedInstruction
		if hasHistory {
			greeting = fmt.Sprintf(returningGreeting, userName)
		} else {
			greeting = firstMeetingGreeting
		}
	default:
		greetInstruction = noGreetingInstruction
	}

	rule := firstMessageRule
	if hasHistory {
		rule = fmt.Sprintf(returningUserRule, history)
	}

	return Payload{
		Prompt:         fmt.Sprintf(promptTemplate, greetInstruction, knowledge, rule, userMessage),
		GreetingPrefix: greeting,
	}
}
