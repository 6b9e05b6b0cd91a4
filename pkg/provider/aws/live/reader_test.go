package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"github.com/klothoplatform/free-courses-infra/pkg/coursestack"
	"github.com/klothoplatform/free-courses-infra/pkg/drift"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/provider/aws/resources"
	"github.com/klothoplatform/free-courses-infra/pkg/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"
)

const account = "123456789012"

type mocks struct {
	tables   *MockDynamoDBAPI
	roles    *MockIAMAPI
	services *MockECSAPI
	repos    *MockECRAPI
}

func newReader(t *testing.T) (*Reader, mocks) {
	ctrl := gomock.NewController(t)
	m := mocks{
		tables:   NewMockDynamoDBAPI(ctrl),
		roles:    NewMockIAMAPI(ctrl),
		services: NewMockECSAPI(ctrl),
		repos:    NewMockECRAPI(ctrl),
	}
	return &Reader{Tables: m.tables, Roles: m.roles, Services: m.services, Repositories: m.repos}, m
}

func compose(t *testing.T, variant coursestack.Variant) construct.Graph {
	t.Helper()
	opts := coursestack.DefaultOptions()
	opts.ServiceVersion = "1.0.3"
	var err error
	opts.Flags, err = variant.Flags()
	require.NoError(t, err)
	s, err := coursestack.Compose(opts)
	require.NoError(t, err)
	return s.Graph
}

func mustVertex(t *testing.T, g construct.Graph, typ, name string) *construct.Resource {
	t.Helper()
	r, err := g.Vertex(construct.ResourceId{Provider: resources.AWS_PROVIDER, Type: typ, Name: name})
	require.NoError(t, err)
	return r
}

// resolveArns renders references to roles as the ARNs IAM reports.
func resolveArns(t *testing.T, g construct.Graph, v any) any {
	switch v := v.(type) {
	case construct.Ref:
		target, err := g.Vertex(v.Resource)
		require.NoError(t, err)
		name, _ := resources.PhysicalName(target)
		return fmt.Sprintf("arn:aws:iam::%s:role/%s", account, name)
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[k] = resolveArns(t, g, e)
		}
		return m
	case []any:
		list := make([]any, len(v))
		for i, e := range v {
			list[i] = resolveArns(t, g, e)
		}
		return list
	}
	return v
}

func liveRole(t *testing.T, g construct.Graph, role *construct.Resource) *iam.GetRoleOutput {
	doc, err := json.Marshal(resolveArns(t, g, construct.Plain(role.Properties["AssumeRolePolicyDocument"])))
	require.NoError(t, err)
	name, _ := resources.PhysicalName(role)
	return &iam.GetRoleOutput{Role: &iamtypes.Role{
		RoleName:                 aws.String(name),
		AssumeRolePolicyDocument: aws.String(url.QueryEscape(string(doc))),
	}}
}

func liveTable() *dynamodb.DescribeTableOutput {
	key := func(name string, typ dynamodbtypes.KeyType) dynamodbtypes.KeySchemaElement {
		return dynamodbtypes.KeySchemaElement{AttributeName: aws.String(name), KeyType: typ}
	}
	def := func(name string) dynamodbtypes.AttributeDefinition {
		return dynamodbtypes.AttributeDefinition{AttributeName: aws.String(name), AttributeType: dynamodbtypes.ScalarAttributeTypeS}
	}
	return &dynamodb.DescribeTableOutput{Table: &dynamodbtypes.TableDescription{
		TableName:            aws.String(coursestack.TableName),
		TableStatus:          dynamodbtypes.TableStatusActive,
		BillingModeSummary:   &dynamodbtypes.BillingModeSummary{BillingMode: dynamodbtypes.BillingModePayPerRequest},
		AttributeDefinitions: []dynamodbtypes.AttributeDefinition{def("csGsiSk"), def("id"), def("sortKey")},
		KeySchema:            []dynamodbtypes.KeySchemaElement{key("id", dynamodbtypes.KeyTypeHash), key("sortKey", dynamodbtypes.KeyTypeRange)},
		GlobalSecondaryIndexes: []dynamodbtypes.GlobalSecondaryIndexDescription{{
			IndexName:  aws.String(coursestack.IndexName),
			KeySchema:  []dynamodbtypes.KeySchemaElement{key("sortKey", dynamodbtypes.KeyTypeHash), key("csGsiSk", dynamodbtypes.KeyTypeRange)},
			Projection: &dynamodbtypes.Projection{ProjectionType: dynamodbtypes.ProjectionTypeAll},
		}},
	}}
}

func expectRepository(t *testing.T, m mocks) {
	text, err := resources.LifecyclePolicyText([]resources.LifecycleRule{resources.NonProductionRule(7)})
	require.NoError(t, err)
	m.repos.EXPECT().DescribeRepositories(gomock.Any(), gomock.Any()).Return(&ecr.DescribeRepositoriesOutput{
		Repositories: []ecrtypes.Repository{{
			RepositoryName:             aws.String(coursestack.RepositoryName),
			ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{ScanOnPush: false},
		}},
	}, nil)
	m.repos.EXPECT().GetLifecyclePolicy(gomock.Any(), gomock.Any()).Return(&ecr.GetLifecyclePolicyOutput{
		LifecyclePolicyText: aws.String(text),
	}, nil)
}

func TestReader_Supports(t *testing.T) {
	r := &Reader{}
	assert.True(t, r.Supports(construct.ResourceId{Provider: "aws", Type: resources.DYNAMODB_TABLE_TYPE, Name: "t"}))
	assert.True(t, r.Supports(construct.ResourceId{Provider: "aws", Type: resources.ECR_REPO_TYPE, Name: "r"}))
	assert.False(t, r.Supports(construct.ResourceId{Provider: "aws", Type: resources.VPC_TYPE, Name: "v"}))
	assert.False(t, r.Supports(construct.ResourceId{Provider: "s3", Type: resources.IAM_ROLE_TYPE, Name: "r"}))
}

func TestDetect_DataStack(t *testing.T) {
	tests := []struct {
		name      string
		principal string
		wantDrift bool
	}{
		{name: "in sync"},
		{name: "wildcard trust", principal: "*", wantDrift: true},
		{name: "foreign account", principal: "arn:aws:iam::999999999999:root", wantDrift: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := compose(t, coursestack.VariantDataOnly)
			reader, m := newReader(t)

			m.roles.EXPECT().GetRole(gomock.Any(), gomock.Any()).Times(2).DoAndReturn(
				func(_ context.Context, in *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
					name := aws.ToString(in.RoleName)
					out := liveRole(t, g, mustVertex(t, g, resources.IAM_ROLE_TYPE, name))
					if name == coursestack.DataRoleName && tt.principal != "" {
						doc := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"sts:AssumeRole","Principal":{"AWS":%q}}]}`, tt.principal)
						out.Role.AssumeRolePolicyDocument = aws.String(url.QueryEscape(doc))
					}
					return out, nil
				})
			m.tables.EXPECT().DescribeTable(gomock.Any(), gomock.Any()).Return(liveTable(), nil)
			expectRepository(t, m)

			report, err := drift.Detector{Reader: reader}.Detect(context.Background(), g)
			require.NoError(t, err)
			assert.Equal(t, 4, report.Checked)
			if !tt.wantDrift {
				assert.Empty(t, report.Drifts)
				return
			}
			require.Len(t, report.Drifts, 1)
			assert.Equal(t, coursestack.DataRoleName, report.Drifts[0].Resource.Name)
			assert.Equal(t, "AssumeRolePolicyDocument", report.Drifts[0].Attribute)
		})
	}
}

func TestReader_ReadService(t *testing.T) {
	g := compose(t, coursestack.VariantFull)
	svc := mustVertex(t, g, resources.ECS_SERVICE_TYPE, coursestack.ServiceName)

	tests := []struct {
		name    string
		out     *ecs.DescribeServicesOutput
		want    map[string]any
		wantErr error
	}{
		{
			name: "active",
			out: &ecs.DescribeServicesOutput{Services: []ecstypes.Service{{
				ServiceName:  aws.String(coursestack.ServiceName),
				Status:       aws.String("ACTIVE"),
				DesiredCount: 1,
			}}},
			want: map[string]any{"ServiceName": coursestack.ServiceName, "DesiredCount": 1},
		},
		{
			name:    "missing",
			out:     &ecs.DescribeServicesOutput{Failures: []ecstypes.Failure{{Reason: aws.String("MISSING")}}},
			wantErr: drift.ErrNotFound,
		},
		{
			name: "inactive",
			out: &ecs.DescribeServicesOutput{Services: []ecstypes.Service{{
				ServiceName: aws.String(coursestack.ServiceName),
				Status:      aws.String("INACTIVE"),
			}}},
			wantErr: drift.ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, m := newReader(t)
			m.services.EXPECT().DescribeServices(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, in *ecs.DescribeServicesInput, _ ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
					assert.Equal(t, coursestack.ClusterName, aws.ToString(in.Cluster))
					assert.Equal(t, []string{coursestack.ServiceName}, in.Services)
					return tt.out, nil
				})
			got, err := reader.Read(context.Background(), g, svc)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			drifts, err := drift.Compare(svc, got)
			require.NoError(t, err)
			assert.Empty(t, drifts)
		})
	}
}

func TestReader_Errors(t *testing.T) {
	g := compose(t, coursestack.VariantDataOnly)
	table := mustVertex(t, g, resources.DYNAMODB_TABLE_TYPE, coursestack.TableName)

	t.Run("not found", func(t *testing.T) {
		reader, m := newReader(t)
		m.tables.EXPECT().DescribeTable(gomock.Any(), gomock.Any()).
			Return(nil, &dynamodbtypes.ResourceNotFoundException{Message: aws.String("gone")})
		_, err := reader.Read(context.Background(), g, table)
		assert.ErrorIs(t, err, drift.ErrNotFound)
	})

	t.Run("throttled", func(t *testing.T) {
		reader, m := newReader(t)
		m.tables.EXPECT().DescribeTable(gomock.Any(), gomock.Any()).Return(nil, errors.New("throttled"))
		_, err := reader.Read(context.Background(), g, table)
		var perr engine_errs.ProviderError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, table.ID, perr.Resource)
		assert.Equal(t, "read", perr.Operation)
	})

	t.Run("no lifecycle policy", func(t *testing.T) {
		reader, m := newReader(t)
		repo := mustVertex(t, g, resources.ECR_REPO_TYPE, coursestack.RepositoryName)
		m.repos.EXPECT().DescribeRepositories(gomock.Any(), gomock.Any()).Return(&ecr.DescribeRepositoriesOutput{
			Repositories: []ecrtypes.Repository{{RepositoryName: aws.String(coursestack.RepositoryName)}},
		}, nil)
		m.repos.EXPECT().GetLifecyclePolicy(gomock.Any(), gomock.Any()).
			Return(nil, &ecrtypes.LifecyclePolicyNotFoundException{Message: aws.String("none")})

		live, err := reader.Read(context.Background(), g, repo)
		require.NoError(t, err)
		drifts, err := drift.Compare(repo, live)
		require.NoError(t, err)
		require.Len(t, drifts, 1)
		assert.Equal(t, "LifecyclePolicy.LifecyclePolicyText", drifts[0].Attribute)
	})
}

func TestDecodeTrust(t *testing.T) {
	exec := construct.ResourceId{Provider: "aws", Type: resources.IAM_ROLE_TYPE, Name: "exec"}
	known := map[string]construct.ResourceId{"service-execution-role": exec}
	doc := `{"Version":"2012-10-17","Statement":[{"Sid":"","Effect":"Allow","Action":"sts:AssumeRole",` +
		`"Principal":{"AWS":"arn:aws:iam::123456789012:role/service-execution-role"}}]}`

	got, err := decodeTrust(url.QueryEscape(doc), known)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"Version": "2012-10-17",
		"Statement": []any{map[string]any{
			"Effect":    "Allow",
			"Action":    []any{"sts:AssumeRole"},
			"Principal": map[string]any{"AWS": construct.AttrOf(exec, "Arn")},
		}},
	}, got)

	_, err = decodeTrust("%zz", known)
	assert.Error(t, err)
}

func TestReader_ReadTableIndexes(t *testing.T) {
	b, err := stack.NewBuilder(stack.Options{})
	require.NoError(t, err)
	_, err = resources.CreateTable(b, resources.TableCreateParams{Name: coursestack.TableName, PartitionKey: "id", SortKey: "sortKey"})
	require.NoError(t, err)
	bare, err := b.Build()
	require.NoError(t, err)

	tests := []struct {
		name      string
		recorded  construct.Graph
		wantDrift []string
	}{
		{name: "no indexes anywhere", recorded: bare},
		{name: "recorded index removed", recorded: compose(t, coursestack.VariantDataOnly), wantDrift: []string{"AttributeDefinitions", "GlobalSecondaryIndexes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, m := newReader(t)
			out := liveTable()
			out.Table.GlobalSecondaryIndexes = nil
			out.Table.AttributeDefinitions = out.Table.AttributeDefinitions[1:]
			m.tables.EXPECT().DescribeTable(gomock.Any(), gomock.Any()).Return(out, nil)

			table := mustVertex(t, tt.recorded, resources.DYNAMODB_TABLE_TYPE, coursestack.TableName)
			live, err := reader.Read(context.Background(), tt.recorded, table)
			require.NoError(t, err)
			if tt.wantDrift == nil {
				assert.NotContains(t, live, "GlobalSecondaryIndexes")
			}

			drifts, err := drift.Compare(table, live)
			require.NoError(t, err)
			var attrs []string
			for _, d := range drifts {
				attrs = append(attrs, d.Attribute)
			}
			assert.Equal(t, tt.wantDrift, attrs)
		})
	}
}
