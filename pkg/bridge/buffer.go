package bridge

// DefaultChunkBytes is 20 telephony frames of 160 bytes, 400ms of audio.
const DefaultChunkBytes = 3200

// AudioBuffer accumulates caller audio and releases it only in chunks of
// exactly threshold bytes. It is owned by one goroutine and is not safe for
// concurrent use.
type AudioBuffer struct {
	buf       []byte
	threshold int
}

// NewAudioBuffer returns a buffer that releases threshold-sized chunks.
func NewAudioBuffer(threshold int) *AudioBuffer {
	if threshold <= 0 {
		threshold = DefaultChunkBytes
	}
	return &AudioBuffer{
		buf:       make([]byte, 0, threshold*2),
		threshold: threshold,
	}
}

// Write appends p.
func (b *AudioBuffer) Write(p []byte) {
	b.buf = append(b.buf, p...)
}

// Next removes and returns the oldest full chunk, or nil if fewer than
// threshold bytes are buffered.
func (b *AudioBuffer) Next() []byte {
	if len(b.buf) < b.threshold {
		return nil
	}
	chunk := make([]byte, b.threshold)
	copy(chunk, b.buf)
	b.buf = b.buf[:copy(b.buf, b.buf[b.threshold:])]
	return chunk
}

// Len returns the number of buffered bytes.
func (b *AudioBuffer) Len() int {
	return len(b.buf)
}

// Threshold returns the chunk size.
func (b *AudioBuffer) Threshold() int {
	return b.threshold
}

// Reset drops everything buffered and returns how many bytes were dropped.
func (b *AudioBuffer) Reset() int {
	n := len(b.buf)
	b.buf = b.buf[:0]
	return n
}
