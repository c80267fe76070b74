package app

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/lifelensai/lifelens/internal/config"
	"github.com/lifelensai/lifelens/internal/voice"
)

type voiceSetup struct {
	recognizer *voice.Recognizer
	voice      *voice.Voice
	detail     string
}

// resolveVoice wires optional speech input and output. Neither is required:
// a missing whisper model disables audio upload, a missing TTS command keeps
// replies text-only.
func resolveVoice(cfg config.Config, logger zerolog.Logger) voiceSetup {
	var (
		setup   voiceSetup
		details []string
	)

	if strings.TrimSpace(cfg.WhisperModelPath) != "" {
		w, err := voice.NewWhisperCLI(cfg.WhisperCLI, cfg.WhisperModelPath, cfg.WhisperLanguage)
		if err != nil {
			logger.Warn().Err(err).Msg("speech input unavailable")
			details = append(details, "stt:off")
		} else {
			setup.recognizer = voice.NewRecognizer(w, cfg.SpeechTimeout, logger)
			details = append(details, "stt:whisper.cpp")
		}
	} else {
		details = append(details, "stt:off")
	}

	var speaker voice.Speaker = voice.NoopSpeaker{}
	if strings.TrimSpace(cfg.TTSCommand) != "" {
		s, err := voice.NewCommandSpeaker(cfg.TTSCommand)
		if err != nil {
			logger.Warn().Err(err).Msg("speech output unavailable")
			details = append(details, "tts:off")
		} else {
			speaker = s
			details = append(details, "tts:"+strings.Fields(cfg.TTSCommand)[0])
		}
	} else {
		details = append(details, "tts:off")
	}
	setup.voice = voice.NewVoice(speaker, cfg.SpeechTimeout, logger)
	setup.detail = strings.Join(details, " ")
	return setup
}
