package io

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type shortWriter struct{ limit int }

func (w shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		return w.limit, errors.New("short write")
	}
	return len(p), nil
}

func TestCountingWriter(t *testing.T) {
	var sb strings.Builder
	w := CountingWriter{Delegate: &sb}

	_, err := w.Write([]byte("Resources:"))
	assert.NoError(t, err)
	_, err = w.Write([]byte(" {}\n"))
	assert.NoError(t, err)
	assert.Equal(t, int64(14), w.Written)
	assert.Equal(t, "Resources: {}\n", sb.String())

	short := CountingWriter{Delegate: shortWriter{limit: 3}}
	n, err := short.Write([]byte("template"))
	assert.Error(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(3), short.Written, "only accepted bytes are counted")
}
