// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

// outputBuffer retains the most recent output bytes up to a cap, for
// scrollback replay when a connection attaches to a terminal.
type outputBuffer struct {
	max  int
	data []byte
}

func newOutputBuffer(max int) *outputBuffer {
	return &outputBuffer{max: max}
}

func (b *outputBuffer) Write(p []byte) {
	if len(p) >= b.max {
		b.data = append(b.data[:0], p[len(p)-b.max:]...)
		return
	}
	b.data = append(b.data, p...)
	if overflow := len(b.data) - b.max; overflow > 0 {
		b.data = b.data[overflow:]
	}
}

func (b *outputBuffer) Bytes() []byte {
	return b.data
}

func (b *outputBuffer) Reset() {
	b.data = b.data[:0]
}
