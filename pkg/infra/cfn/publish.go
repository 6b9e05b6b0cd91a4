package cfn

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	kio "github.com/klothoplatform/free-courses-infra/pkg/io"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type (
	// Publisher hands rendered files to whatever reconciles them with the cloud.
	Publisher interface {
		Publish(ctx context.Context, files []kio.File) error
		Location() string
	}

	DirPublisher struct {
		Fs  afero.Fs
		Dir string
	}

	S3Publisher struct {
		Client S3PutObjectAPI
		Bucket string
		Prefix string
	}
)

// templateId identifies published templates in provider errors.
var templateId = construct.ResourceId{Provider: "cloudformation", Type: "template", Name: "stack"}

func (p DirPublisher) Publish(ctx context.Context, files []kio.File) error {
	zap.S().Named("cfn").Debugf("writing %d file(s) to %s", len(files), p.Dir)
	return kio.OutputTo(p.Fs, files, p.Dir)
}

func (p DirPublisher) Location() string {
	return p.Dir
}

func (p S3Publisher) Publish(ctx context.Context, files []kio.File) error {
	for _, f := range files {
		key := path.Join(p.Prefix, f.Path)
		_, err := p.Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(p.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(f.Content),
		})
		if err != nil {
			return engine_errs.ProviderError{
				Resource:  templateId,
				Operation: "publish",
				Err:       errors.Wrapf(err, "could not put s3://%s/%s", p.Bucket, key),
			}
		}
		zap.S().Named("cfn").Debugf("published s3://%s/%s", p.Bucket, key)
	}
	return nil
}

func (p S3Publisher) Location() string {
	return fmt.Sprintf("s3://%s/%s", p.Bucket, p.Prefix)
}

// ParseLocation splits an output location into a bucket and key prefix for `s3://` URLs, or returns a directory
// path otherwise.
func ParseLocation(location string) (bucket, prefix, dir string, err error) {
	if !strings.HasPrefix(location, "s3://") {
		return "", "", location, nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", "", "", err
	}
	if u.Host == "" {
		return "", "", "", fmt.Errorf("%s has no bucket", location)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), "", nil
}
