package io

import "io"

// CountingWriter passes writes through to Delegate and tallies the bytes it accepted.
type CountingWriter struct {
	Delegate io.Writer
	Written  int64
}

func (w *CountingWriter) Write(p []byte) (int, error) {
	n, err := w.Delegate.Write(p)
	w.Written += int64(n)
	return n, err
}
