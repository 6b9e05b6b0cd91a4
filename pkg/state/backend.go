package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klothoplatform/free-courses-infra/pkg/closenicely"
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

//go:generate mockgen -source=./backend.go --destination=./backend_mock_test.go --package=state

type (
	FileBackend struct {
		Fs   afero.Fs
		Path string
	}

	S3API interface {
		GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
		PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
		DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	}

	S3Backend struct {
		Client S3API
		Bucket string
		Key    string
	}
)

// stateId names the state object in provider errors.
var stateId = construct.ResourceId{Provider: "s3", Type: "state", Name: "stack"}

func (b FileBackend) Load(ctx context.Context) (*State, error) {
	f, err := b.Fs.Open(b.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closenicely.OrDebug(f, b.Path)
	s, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("could not read state %s: %w", b.Path, err)
	}
	return s, nil
}

// Save writes to a temporary file first so a failed write never leaves a truncated state behind.
func (b FileBackend) Save(ctx context.Context, s *State) error {
	content, err := encodeBytes(s)
	if err != nil {
		return err
	}
	if err := b.Fs.MkdirAll(filepath.Dir(b.Path), 0777); err != nil {
		return err
	}
	tmp := b.Path + ".tmp"
	if err := afero.WriteFile(b.Fs, tmp, content, 0666); err != nil {
		return err
	}
	zap.S().Named("state").Debugf("saving state serial %d to %s", s.Serial, b.Path)
	return b.Fs.Rename(tmp, b.Path)
}

func (b FileBackend) Delete(ctx context.Context) error {
	err := b.Fs.Remove(b.Path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b FileBackend) Location() string {
	return b.Path
}

func (b S3Backend) Load(ctx context.Context) (*State, error) {
	out, err := b.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.Key),
	})
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return nil, nil
	}
	if err != nil {
		return nil, b.providerError("load", err)
	}
	defer closenicely.OrDebug(out.Body, b.Location())
	s, err := Decode(out.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read state %s: %w", b.Location(), err)
	}
	return s, nil
}

func (b S3Backend) Save(ctx context.Context, s *State) error {
	content, err := encodeBytes(s)
	if err != nil {
		return err
	}
	_, err = b.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.Bucket),
		Key:         aws.String(b.Key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/yaml"),
	})
	if err != nil {
		return b.providerError("save", err)
	}
	zap.S().Named("state").Debugf("saved state serial %d to %s", s.Serial, b.Location())
	return nil
}

func (b S3Backend) Delete(ctx context.Context) error {
	_, err := b.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.Key),
	})
	if err != nil {
		return b.providerError("delete", err)
	}
	return nil
}

func (b S3Backend) Location() string {
	return fmt.Sprintf("s3://%s/%s", b.Bucket, b.Key)
}

func (b S3Backend) providerError(op string, err error) error {
	return engine_errs.ProviderError{
		Resource:  stateId,
		Operation: op,
		Err:       pkgerrors.Wrapf(err, "state %s", b.Location()),
	}
}
