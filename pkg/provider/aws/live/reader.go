package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/smithy-go"
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"github.com/klothoplatform/free-courses-infra/pkg/drift"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/provider/aws/resources"
	"github.com/mitchellh/mapstructure"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Reader reads tables, roles, services and repositories from the account. Attributes are returned in the shape
// the resources package records them.
type Reader struct {
	Tables       DynamoDBAPI
	Roles        IAMAPI
	Services     ECSAPI
	Repositories ECRAPI
}

type readFunc func(r *Reader, ctx context.Context, g construct.Graph, res *construct.Resource, name string) (map[string]any, error)

var readers = map[string]readFunc{
	resources.DYNAMODB_TABLE_TYPE: (*Reader).readTable,
	resources.IAM_ROLE_TYPE:       (*Reader).readRole,
	resources.ECS_SERVICE_TYPE:    (*Reader).readService,
	resources.ECR_REPO_TYPE:       (*Reader).readRepository,
}

var notFoundCodes = map[string]bool{
	"ResourceNotFoundException":        true,
	"NoSuchEntity":                     true,
	"RepositoryNotFoundException":      true,
	"ServiceNotFoundException":         true,
	"ClusterNotFoundException":         true,
	"LifecyclePolicyNotFoundException": true,
}

func (r *Reader) Supports(id construct.ResourceId) bool {
	_, ok := readers[id.Type]
	return ok && id.Provider == resources.AWS_PROVIDER
}

func (r *Reader) Read(ctx context.Context, g construct.Graph, res *construct.Resource) (map[string]any, error) {
	read, ok := readers[res.ID.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported resource type %s", res.ID.Type)
	}
	name, ok := resources.PhysicalName(res)
	if !ok {
		return nil, engine_errs.ValidationError{Resource: res.ID, Attribute: resources.NameProperties[res.ID.Type], Reason: "has no physical name"}
	}
	zap.S().Named("live").Debugf("reading %s (%s)", res.ID, name)
	live, err := read(r, ctx, g, res, name)
	if isNotFound(err) {
		return nil, drift.ErrNotFound
	}
	if err != nil {
		return nil, engine_errs.ProviderError{
			Resource:  res.ID,
			Operation: "read",
			Err:       pkgerrors.Wrapf(err, "could not read %s", name),
		}
	}
	return live, nil
}

func isNotFound(err error) bool {
	if errors.Is(err, drift.ErrNotFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && notFoundCodes[apiErr.ErrorCode()]
}

func (r *Reader) readTable(ctx context.Context, _ construct.Graph, res *construct.Resource, name string) (map[string]any, error) {
	out, err := r.Tables.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	if err != nil {
		return nil, err
	}
	t := out.Table
	if t == nil || t.TableStatus == dynamodbtypes.TableStatusDeleting {
		return nil, drift.ErrNotFound
	}
	billing := "PROVISIONED"
	if t.BillingModeSummary != nil {
		billing = string(t.BillingModeSummary.BillingMode)
	}
	defs := make([]any, len(t.AttributeDefinitions))
	for i, d := range t.AttributeDefinitions {
		defs[i] = map[string]any{"AttributeName": aws.ToString(d.AttributeName), "AttributeType": string(d.AttributeType)}
	}
	live := map[string]any{
		"TableName":            aws.ToString(t.TableName),
		"BillingMode":          billing,
		"AttributeDefinitions": defs,
		"KeySchema":            keySchema(t.KeySchema),
	}
	if len(t.GlobalSecondaryIndexes) > 0 {
		indexes := make([]any, len(t.GlobalSecondaryIndexes))
		for i, idx := range t.GlobalSecondaryIndexes {
			projection := map[string]any{}
			if idx.Projection != nil {
				projection["ProjectionType"] = string(idx.Projection.ProjectionType)
			}
			indexes[i] = map[string]any{
				"IndexName":  aws.ToString(idx.IndexName),
				"KeySchema":  keySchema(idx.KeySchema),
				"Projection": projection,
			}
		}
		live["GlobalSecondaryIndexes"] = indexes
	} else if _, recorded := res.Properties["GlobalSecondaryIndexes"]; recorded {
		// the recorded indexes were removed
		live["GlobalSecondaryIndexes"] = []any{}
	}
	return live, nil
}

func keySchema(elements []dynamodbtypes.KeySchemaElement) []any {
	schema := make([]any, len(elements))
	for i, e := range elements {
		schema[i] = map[string]any{"AttributeName": aws.ToString(e.AttributeName), "KeyType": string(e.KeyType)}
	}
	return schema
}

type (
	trustDocument struct {
		Version   string
		Statement []trustStatement
	}

	trustStatement struct {
		Effect    string
		Action    any
		Principal map[string]any
		Resource  any
	}
)

func (r *Reader) readRole(ctx context.Context, g construct.Graph, _ *construct.Resource, name string) (map[string]any, error) {
	out, err := r.Roles.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		return nil, err
	}
	if out.Role == nil {
		return nil, drift.ErrNotFound
	}
	doc, err := decodeTrust(aws.ToString(out.Role.AssumeRolePolicyDocument), roleArns(g))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"RoleName":                 aws.ToString(out.Role.RoleName),
		"AssumeRolePolicyDocument": doc,
	}, nil
}

// decodeTrust parses the URL-encoded trust policy IAM returns. Principals that are roles of the stack are
// replaced with references to their `Arn`, single values are listed where the recorded form uses lists.
func decodeTrust(encoded string, known map[string]construct.ResourceId) (map[string]any, error) {
	text, err := url.QueryUnescape(encoded)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, pkgerrors.Wrap(err, "trust policy is not JSON")
	}
	var doc trustDocument
	if err := mapstructure.Decode(raw, &doc); err != nil {
		return nil, err
	}

	statements := make([]any, len(doc.Statement))
	for i, s := range doc.Statement {
		stmt := map[string]any{"Effect": s.Effect, "Action": asList(s.Action)}
		if s.Resource != nil {
			stmt["Resource"] = asList(s.Resource)
		}
		if s.Principal != nil {
			principal := make(map[string]any, len(s.Principal))
			for k, v := range s.Principal {
				if k == "AWS" {
					v = principalRef(v, known)
				}
				principal[k] = v
			}
			stmt["Principal"] = principal
		}
		statements[i] = stmt
	}
	return map[string]any{"Version": doc.Version, "Statement": statements}, nil
}

func asList(v any) []any {
	switch v := v.(type) {
	case []any:
		return v
	case nil:
		return nil
	}
	return []any{v}
}

func principalRef(v any, known map[string]construct.ResourceId) any {
	switch v := v.(type) {
	case string:
		if id, ok := known[roleName(v)]; ok && strings.Contains(v, ":role/") {
			return construct.AttrOf(id, "Arn")
		}
		return v
	case []any:
		list := make([]any, len(v))
		for i, e := range v {
			list[i] = principalRef(e, known)
		}
		return list
	}
	return v
}

func roleName(arn string) string {
	return arn[strings.LastIndex(arn, "/")+1:]
}

// roleArns indexes the roles of `g` by physical name.
func roleArns(g construct.Graph) map[string]construct.ResourceId {
	known := make(map[string]construct.ResourceId)
	roles, err := construct.ResourcesOfType(g, construct.ResourceId{Provider: resources.AWS_PROVIDER, Type: resources.IAM_ROLE_TYPE})
	if err != nil {
		return known
	}
	for _, role := range roles {
		if name, ok := resources.PhysicalName(role); ok {
			known[name] = role.ID
		}
	}
	return known
}

func (r *Reader) readService(ctx context.Context, g construct.Graph, res *construct.Resource, name string) (map[string]any, error) {
	cluster, err := referencedName(g, res, "Cluster")
	if err != nil {
		return nil, err
	}
	out, err := r.Services.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(cluster),
		Services: []string{name},
	})
	if err != nil {
		return nil, err
	}
	for _, f := range out.Failures {
		if aws.ToString(f.Reason) == "MISSING" {
			return nil, drift.ErrNotFound
		}
		return nil, fmt.Errorf("describe %s failed: %s", name, aws.ToString(f.Reason))
	}
	if len(out.Services) == 0 || aws.ToString(out.Services[0].Status) == "INACTIVE" {
		return nil, drift.ErrNotFound
	}
	svc := out.Services[0]
	return map[string]any{
		"ServiceName":  aws.ToString(svc.ServiceName),
		"DesiredCount": int(svc.DesiredCount),
	}, nil
}

// referencedName resolves the physical name of the resource `property` of `res` refers to.
func referencedName(g construct.Graph, res *construct.Resource, property string) (string, error) {
	v, err := res.GetProperty(property)
	if err != nil {
		return "", err
	}
	ref, ok := v.(construct.Ref)
	if !ok {
		if s, ok := v.(string); ok {
			return s, nil
		}
		return "", fmt.Errorf("%s of %s is %T, not a reference", property, res.ID, v)
	}
	target, err := g.Vertex(ref.Resource)
	if err != nil {
		return "", fmt.Errorf("%s of %s: %w", property, res.ID, err)
	}
	name, ok := resources.PhysicalName(target)
	if !ok {
		return "", fmt.Errorf("%s has no physical name", target.ID)
	}
	return name, nil
}

func (r *Reader) readRepository(ctx context.Context, _ construct.Graph, _ *construct.Resource, name string) (map[string]any, error) {
	out, err := r.Repositories.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{RepositoryNames: []string{name}})
	if err != nil {
		return nil, err
	}
	if len(out.Repositories) == 0 {
		return nil, drift.ErrNotFound
	}
	repo := out.Repositories[0]
	live := map[string]any{"RepositoryName": aws.ToString(repo.RepositoryName)}
	if repo.ImageScanningConfiguration != nil {
		live["ImageScanningConfiguration"] = map[string]any{"ScanOnPush": repo.ImageScanningConfiguration.ScanOnPush}
	}

	policy, err := r.Repositories.GetLifecyclePolicy(ctx, &ecr.GetLifecyclePolicyInput{RepositoryName: aws.String(name)})
	switch {
	case isNotFound(err):
		live["LifecyclePolicy.LifecyclePolicyText"] = nil
	case err != nil:
		return nil, err
	default:
		text, err := resources.NormalizeLifecyclePolicy(aws.ToString(policy.LifecyclePolicyText))
		if err != nil {
			return nil, pkgerrors.Wrap(err, "lifecycle policy is not valid")
		}
		live["LifecyclePolicy.LifecyclePolicyText"] = text
	}
	return live, nil
}
