package assistant

import "time"

// Stage names reported to an Observer.
const (
	StageRecord     = "record"
	StageTranscribe = "transcribe"
	StageGenerate   = "generate"
	StageSpeak      = "speak"
)

// Turn outcomes reported to an Observer.
const (
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeSuperseded = "superseded"
)

// Observer receives pipeline measurements.
type Observer interface {
	StageObserved(stage string, d time.Duration)
	TurnCompleted(outcome string)
	ErrorObserved(code string)
	SpeakingChanged(speaking bool)
}

// NopObserver discards all measurements.
type NopObserver struct{}

func (NopObserver) StageObserved(string, time.Duration) {}
func (NopObserver) TurnCompleted(string)                {}
func (NopObserver) ErrorObserved(string)                {}
func (NopObserver) SpeakingChanged(bool)                {}
