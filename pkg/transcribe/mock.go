package transcribe

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// MockProvider is a deterministic transcription provider for tests and
// demo ingestion. Output depends only on the size of the audio input.
type MockProvider struct {
	logger *logrus.Logger
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *logrus.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Name returns the provider name.
func (p *MockProvider) Name() string {
	return "mock"
}

var mockUtterances = []string{
	"Thank you for calling, how can I help you today?",
	"I am having a problem with my recent order and I am quite frustrated.",
	"I am sorry to hear that, let me look into the order for you.",
	"That would be great, thank you so much for the quick help.",
	"You are welcome, the replacement will arrive within two days.",
	"Perfect, that is excellent service, have a good day.",
}

// Transcribe reads and discards the audio stream, then returns a canned
// conversation sized to the input.
func (p *MockProvider) Transcribe(ctx context.Context, audio io.Reader, info AudioInfo) (Result, error) {
	if audio != nil {
		if n, err := io.Copy(io.Discard, audio); err == nil && info.SizeBytes == 0 {
			info.SizeBytes = n
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("mock transcription canceled: %w", err)
	}

	count := int(info.SizeBytes/16000) + 2
	if count > len(mockUtterances) {
		count = len(mockUtterances)
	}

	segments := make([]Segment, 0, count)
	offset := 0.0
	for i := 0; i < count; i++ {
		length := float64(len(mockUtterances[i])) / 15.0
		segments = append(segments, Segment{
			Speaker:   i % 2,
			Text:      mockUtterances[i],
			StartTime: offset,
			EndTime:   offset + length,
		})
		offset += length
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}

	p.logger.WithFields(logrus.Fields{
		"provider": p.Name(),
		"segments": len(segments),
	}).Debug("Mock transcription produced")

	return Result{
		Text:     strings.Join(texts, " "),
		Segments: segments,
		Audio:    info,
	}, nil
}
