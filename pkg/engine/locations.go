package engine

import (
	"fmt"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/infra/cfn"
	"github.com/klothoplatform/free-courses-infra/pkg/state"
	"github.com/spf13/afero"
)

const (
	DefaultStateDir  = ".coursestack"
	DefaultOutputDir = "out"
)

// S3Client is the part of the S3 API the state backend and template publisher use.
type S3Client interface {
	state.S3API
	cfn.S3PutObjectAPI
}

// DefaultStateLocation is the local state file of an environment.
func DefaultStateLocation(environment string) string {
	if environment == "" {
		environment = "default"
	}
	return filepath.Join(DefaultStateDir, environment+".yaml")
}

// NewBackend returns an S3 backend for `s3://bucket/key` locations and a file backend otherwise. `client` is only
// called for S3 locations, and may be nil when none are used.
func NewBackend(fs afero.Fs, location string, client func() (S3Client, error)) (state.Backend, error) {
	bucket, key, path, err := cfn.ParseLocation(location)
	if err != nil {
		return nil, engine_errs.ConfigError{Key: "state", Err: err}
	}
	if bucket == "" {
		return state.FileBackend{Fs: fs, Path: path}, nil
	}
	if key == "" {
		return nil, engine_errs.ConfigError{Key: "state", Err: fmt.Errorf("%s has no object key", location)}
	}
	c, err := s3Client(client)
	if err != nil {
		return nil, err
	}
	return state.S3Backend{Client: c, Bucket: bucket, Key: key}, nil
}

// NewPublisher returns an S3 publisher for `s3://bucket/prefix` locations and a directory publisher otherwise.
func NewPublisher(fs afero.Fs, location string, client func() (S3Client, error)) (cfn.Publisher, error) {
	bucket, prefix, dir, err := cfn.ParseLocation(location)
	if err != nil {
		return nil, engine_errs.ConfigError{Key: "output", Err: err}
	}
	if bucket == "" {
		return cfn.DirPublisher{Fs: fs, Dir: dir}, nil
	}
	c, err := s3Client(client)
	if err != nil {
		return nil, err
	}
	return cfn.S3Publisher{Client: c, Bucket: bucket, Prefix: prefix}, nil
}

func s3Client(client func() (S3Client, error)) (S3Client, error) {
	if client == nil {
		return nil, engine_errs.ConfigError{Key: "region", Err: fmt.Errorf("no S3 client configured")}
	}
	return client()
}

var _ S3Client = (*s3.Client)(nil)
