package voice

import "context"

// UnrecognizedAudio replaces any transcript that failed or came back empty.
// The conversation engine treats it as an ordinary utterance.
const UnrecognizedAudio = "Sorry, I couldn't understand your audio."

// Transcriber turns a WAV recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Speaker renders text as audible speech.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}
