package io

// File is a rendered artifact addressed by its path relative to wherever it is published.
type File struct {
	Path    string
	Content []byte
}
