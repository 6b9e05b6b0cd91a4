package live

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// ClientOptions selects the account and region the stack lives in. Static keys, when set, take precedence over
// the default credential chain. Endpoint overrides every service endpoint, for local emulators.
type ClientOptions struct {
	Region          string
	Profile         string
	AccessKeyId     string
	SecretAccessKey string
	SessionToken    string
	Endpoint        string
}

func LoadConfig(ctx context.Context, opts ClientOptions) (aws.Config, error) {
	var loaders []func(*config.LoadOptions) error
	if opts.Region != "" {
		loaders = append(loaders, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loaders = append(loaders, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyId != "" {
		creds := credentials.NewStaticCredentialsProvider(opts.AccessKeyId, opts.SecretAccessKey, opts.SessionToken)
		loaders = append(loaders, config.WithCredentialsProvider(creds))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, errors.Wrap(err, "could not load AWS configuration")
	}
	if opts.Endpoint != "" {
		cfg.BaseEndpoint = aws.String(opts.Endpoint)
	}
	return cfg, nil
}

// NewAWSReader builds a [Reader] backed by the AWS SDK clients for `cfg`.
func NewAWSReader(cfg aws.Config) *Reader {
	return &Reader{
		Tables:       dynamodb.NewFromConfig(cfg),
		Roles:        iam.NewFromConfig(cfg),
		Services:     ecs.NewFromConfig(cfg),
		Repositories: ecr.NewFromConfig(cfg),
	}
}

// NewS3Client builds the client used for state and template storage.
func NewS3Client(cfg aws.Config, pathStyle bool) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
	})
}
