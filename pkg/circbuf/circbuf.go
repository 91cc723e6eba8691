// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

// Package circbuf implements the fixed-capacity byte ring that sits between
// the two endpoints of a relayed connection.
//
// Descriptor I/O is vectored: the free (or used) region of the ring is
// described by at most two contiguous spans and transferred with a single
// readv/writev (or recvmsg/sendmsg) call, so the ring never needs compacting.
package circbuf

import (
	"errors"
	"fmt"
)

// ErrFull is returned when a read is attempted into a buffer without free space.
var ErrFull = errors.New("buffer full")

// Buffer is a fixed-capacity ring of bytes.
// The zero value is not usable; call New.
type Buffer struct {
	data  []byte
	start int // offset of the oldest unconsumed byte
	used  int
}

// New returns an empty buffer holding up to size bytes.
func New(size int) *Buffer {
	if size <= 0 {
		panic(fmt.Sprintf("circbuf: invalid size %d", size))
	}
	return &Buffer{data: make([]byte, size)}
}

// Cap returns the capacity of the buffer.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of bytes waiting in the buffer.
func (b *Buffer) Len() int { return b.used }

// Free returns the number of bytes that can be added before the buffer is full.
func (b *Buffer) Free() int { return len(b.data) - b.used }

func (b *Buffer) IsEmpty() bool { return b.used == 0 }

func (b *Buffer) IsFull() bool { return b.used == len(b.data) }

// Clear discards the contents without reallocating.
func (b *Buffer) Clear() {
	b.start = 0
	b.used = 0
}

// Resize changes the capacity. Existing contents are carried over oldest
// first; if they do not fit, the bytes beyond the new capacity are dropped.
func (b *Buffer) Resize(size int) {
	if size <= 0 {
		panic(fmt.Sprintf("circbuf: invalid size %d", size))
	}
	if size == len(b.data) {
		return
	}
	nb := New(size)
	tmp := make([]byte, min(b.used, size))
	b.Extract(tmp)
	nb.Append(tmp)
	*b = *nb
}

// Append copies as much of p as fits and returns the number of bytes copied.
func (b *Buffer) Append(p []byte) int {
	n := 0
	for _, span := range b.freeSpans(len(p)) {
		n += copy(span, p[n:])
	}
	b.produced(n)
	return n
}

// Extract moves up to len(p) of the oldest bytes into p and returns the
// number of bytes moved.
func (b *Buffer) Extract(p []byte) int {
	n := 0
	for _, span := range b.usedSpans(len(p)) {
		n += copy(p[n:], span)
	}
	b.consumed(n)
	return n
}

// freeSpans describes up to limit bytes of the free region as at most two
// slices of the backing array, in ring order. limit <= 0 means no limit.
//
// The first span runs from the end of the used region to whichever comes
// first: the end of storage or the start of the used region. The second,
// when the free region wraps, runs on from the beginning of storage.
func (b *Buffer) freeSpans(limit int) [][]byte {
	free := b.Free()
	if limit > 0 && limit < free {
		free = limit
	}
	if free == 0 {
		return nil
	}
	end := (b.start + b.used) % len(b.data)
	first := len(b.data) - end
	if b.start > end {
		first = b.start - end
	}
	if first >= free {
		return [][]byte{b.data[end : end+free]}
	}
	return [][]byte{b.data[end : end+first], b.data[:free-first]}
}

// usedSpans describes up to limit of the oldest bytes as at most two slices.
// limit <= 0 means no limit.
func (b *Buffer) usedSpans(limit int) [][]byte {
	used := b.used
	if limit > 0 && limit < used {
		used = limit
	}
	if used == 0 {
		return nil
	}
	first := len(b.data) - b.start
	if first >= used {
		return [][]byte{b.data[b.start : b.start+used]}
	}
	return [][]byte{b.data[b.start:], b.data[:used-first]}
}

func (b *Buffer) produced(n int) {
	if n < 0 || n > b.Free() {
		panic(fmt.Sprintf("circbuf: produced %d bytes with %d free", n, b.Free()))
	}
	b.used += n
}

func (b *Buffer) consumed(n int) {
	if n < 0 || n > b.used {
		panic(fmt.Sprintf("circbuf: consumed %d bytes with %d used", n, b.used))
	}
	b.used -= n
	if b.used == 0 {
		b.start = 0
		return
	}
	b.start = (b.start + n) % len(b.data)
}

func (b *Buffer) String() string {
	return fmt.Sprintf("circbuf{cap=%d start=%d used=%d}", len(b.data), b.start, b.used)
}
