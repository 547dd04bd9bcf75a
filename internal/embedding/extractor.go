package embedding

// Stream accumulates waveform samples for one extraction.
// A stream is fed exactly one window and then finalized.
type Stream interface {
	// AcceptWaveform adds normalized samples in [-1, 1] at the given rate.
	AcceptWaveform(sampleRate int, waveform []float32)

	// InputFinished marks the end of input; no further samples may be added.
	InputFinished()
}

// Extractor converts a waveform into a fixed-length speaker embedding.
// The vector contents are opaque to callers; only its dimensionality is
// exposed. Implementations must be safe for sequential reuse across
// many streams.
type Extractor interface {
	CreateStream() Stream

	// IsReady reports whether the stream holds enough usable signal to
	// compute an embedding. Too short or too quiet input is not ready.
	IsReady(s Stream) bool

	// Compute produces the embedding for a finalized, ready stream.
	Compute(s Stream) ([]float32, error)

	// Dimension returns the length of vectors produced by Compute.
	Dimension() int

	Close() error
}
