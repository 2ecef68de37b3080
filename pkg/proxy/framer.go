package proxy

import "bytes"

// LineFramer splits a byte stream into complete lines. A line is only
// released once its terminating newline has been seen; the unterminated
// remainder is carried over to the next Feed.
type LineFramer struct {
	carry []byte
}

// Feed appends p to the stream and returns every line completed by it,
// each including its "\n" terminator. The returned slices are only valid
// until the next call to Feed.
func (f *LineFramer) Feed(p []byte) [][]byte {
	data := p
	if len(f.carry) > 0 {
		data = append(f.carry, p...)
		f.carry = nil
	}

	var lines [][]byte
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, data[:i+1])
		data = data[i+1:]
	}

	if len(data) > 0 {
		f.carry = append([]byte(nil), data...)
	}
	return lines
}

// Flush returns the unterminated remainder, if any, and resets the framer.
// Call it once the stream has ended.
func (f *LineFramer) Flush() []byte {
	rest := f.carry
	f.carry = nil
	return rest
}

// Pending reports how many bytes are waiting for a line terminator.
func (f *LineFramer) Pending() int {
	return len(f.carry)
}
