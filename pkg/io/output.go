package io

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// OutputTo writes `files` under `dest` on `fs`, creating directories as needed and replacing existing files.
func OutputTo(fs afero.Fs, files []File, dest string) error {
	for _, f := range files {
		if err := writeFile(fs, filepath.Join(dest, f.Path), f.Content); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(fs afero.Fs, path string, content []byte) (err error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return fmt.Errorf("could not create directory for %s: %w", path, err)
	}
	file, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("could not close %s: %w", path, cerr)
		}
	}()
	w := &CountingWriter{Delegate: file}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("could not write %s: %w", path, err)
	}
	zap.S().Named("io").Debugf("wrote %s (%d bytes)", path, w.Written)
	return nil
}
