package stt

import (
	"context"

	"github.com/murmurlabs/murmur/pkg/frames"
	"github.com/murmurlabs/murmur/pkg/transcript"
)

// StreamingSTT defines the contract for a streaming transcription session.
// One value represents one live connection; reconnecting means closing the
// session and starting a fresh one.
type StreamingSTT interface {
	// Name returns the session name for logging/metrics.
	Name() string
	// Start opens the duplex channel, performs the configuration handshake
	// and launches the background receive loop.
	Start(ctx context.Context) error
	// Close cancels the receive loop and closes the channel. Idempotent.
	Close() error
	// SendAudio transmits one chunk as a binary message. Returns a typed
	// error instead of panicking when the channel is already closed.
	SendAudio(frame frames.AudioFrame) error
	// EndOfAudio sends the empty sentinel telling the service no more
	// audio is coming for this utterance. Best effort.
	EndOfAudio() error
	// Alive reports whether the connection is usable for sends.
	Alive() bool
	// Batches delivers decoded token batches from the receive loop.
	Batches() <-chan transcript.Batch
	// Errs surfaces connection-fatal remote errors.
	Errs() <-chan error
}
