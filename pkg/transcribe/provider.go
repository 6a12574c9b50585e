package transcribe

import (
	"context"
	"io"
)

// Segment is one timestamped span of transcribed speech.
type Segment struct {
	Speaker   int     `json:"speaker"`
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// AudioInfo describes the audio input a result was produced from.
// Duration is zero when the metadata could not be read.
type AudioInfo struct {
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
}

// Result is a completed transcription: full text plus per-segment timing.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments,omitempty"`
	Audio    AudioInfo `json:"audio"`
}

// Provider produces a transcription result from an audio input. The
// transport, model choice and streaming behavior behind it are out of
// scope for this service.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, audio io.Reader, info AudioInfo) (Result, error)
}
