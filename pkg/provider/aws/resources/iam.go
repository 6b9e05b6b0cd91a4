package resources

import (
	"fmt"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/sanitization/aws"
	"github.com/klothoplatform/free-courses-infra/pkg/stack"
)

const VERSION = "2012-10-17"

// IdentityKind is the role an IAM role plays, recorded in the role's [META_IDENTITY] meta.
type IdentityKind string

const (
	// ExecutionIdentity is the role the running task assumes first. It holds no data permissions.
	ExecutionIdentity IdentityKind = "execution"
	// DataIdentity is the only identity granted access to the table; it is assumed from the execution identity.
	DataIdentity IdentityKind = "data"
	// ImagePullIdentity is used by the container agent to pull the image and ship logs.
	ImagePullIdentity IdentityKind = "image-pull"
	// InstanceIdentity is the role of the pool hosts.
	InstanceIdentity IdentityKind = "instance"
)

// TableReadWriteActions are the DynamoDB data actions granted by [GrantTableAccess].
var TableReadWriteActions = []string{
	"dynamodb:BatchGetItem",
	"dynamodb:BatchWriteItem",
	"dynamodb:ConditionCheckItem",
	"dynamodb:DeleteItem",
	"dynamodb:DescribeTable",
	"dynamodb:GetItem",
	"dynamodb:GetRecords",
	"dynamodb:GetShardIterator",
	"dynamodb:PutItem",
	"dynamodb:Query",
	"dynamodb:Scan",
	"dynamodb:UpdateItem",
}

var ECS_ASSUMER_ROLE_POLICY = &PolicyDocument{
	Version: VERSION,
	Statement: []StatementEntry{
		{
			Action: []string{"sts:AssumeRole"},
			Principal: &Principal{
				Service: "ecs-tasks.amazonaws.com",
			},
			Effect: "Allow",
		},
	},
}

var EC2_ASSUMER_ROLE_POLICY = &PolicyDocument{
	Version: VERSION,
	Statement: []StatementEntry{
		{
			Action: []string{"sts:AssumeRole"},
			Principal: &Principal{
				Service: "ec2.amazonaws.com",
			},
			Effect: "Allow",
		},
	},
}

type (
	IamRole struct {
		ID   construct.ResourceId
		Name string
		Kind IdentityKind
	}

	IamPolicy struct {
		ID   construct.ResourceId
		Name string
	}

	InstanceProfile struct {
		ID   construct.ResourceId
		Name string
		Role *IamRole
	}

	PolicyDocument struct {
		Version   string
		Statement []StatementEntry
	}

	StatementEntry struct {
		Effect    string
		Action    []string
		Resource  []any
		Principal *Principal
	}

	// Principal is who a trust policy statement applies to. AWS may be a literal ARN or a reference to the
	// `Arn` of another role.
	Principal struct {
		Service string
		AWS     any
	}

	RoleCreateParams struct {
		Name              string
		Kind              IdentityKind
		AssumeRolePolicy  *PolicyDocument
		ManagedPolicyArns []any
	}

	PolicyCreateParams struct {
		Name   string
		Roles  []*IamRole
		Policy *PolicyDocument
	}
)

func (role *IamRole) Ref() construct.Ref {
	return construct.RefOf(role.ID)
}

func (role *IamRole) Arn() construct.Ref {
	return construct.AttrOf(role.ID, "Arn")
}

func (profile *InstanceProfile) Arn() construct.Ref {
	return construct.AttrOf(profile.ID, "Arn")
}

func CreateAllowPolicyDocument(actions []string, resources []any) *PolicyDocument {
	return &PolicyDocument{
		Version: VERSION,
		Statement: []StatementEntry{
			{
				Effect:   "Allow",
				Action:   actions,
				Resource: resources,
			},
		},
	}
}

// Properties converts the document into its CloudFormation shape.
func (d *PolicyDocument) Properties() map[string]any {
	statements := make([]any, len(d.Statement))
	for i, s := range d.Statement {
		stmt := map[string]any{"Effect": s.Effect}
		actions := make([]any, len(s.Action))
		for j, a := range s.Action {
			actions[j] = a
		}
		stmt["Action"] = actions
		if len(s.Resource) > 0 {
			stmt["Resource"] = append([]any{}, s.Resource...)
		}
		if s.Principal != nil {
			principal := map[string]any{}
			if s.Principal.Service != "" {
				principal["Service"] = s.Principal.Service
			}
			if s.Principal.AWS != nil {
				principal["AWS"] = s.Principal.AWS
			}
			stmt["Principal"] = principal
		}
		statements[i] = stmt
	}
	return map[string]any{
		"Version":   d.Version,
		"Statement": statements,
	}
}

func CreateRole(b *stack.Builder, params RoleCreateParams) (*IamRole, error) {
	role := &IamRole{
		ID:   id(IAM_ROLE_TYPE, params.Name),
		Name: b.PhysicalName(aws.IamRoleSanitizer, params.Name),
		Kind: params.Kind,
	}
	if params.AssumeRolePolicy == nil {
		return nil, engine_errs.ValidationError{Resource: role.ID, Attribute: "AssumeRolePolicyDocument", Reason: "is required"}
	}
	r := construct.CreateResource(role.ID)
	r.Properties = construct.Properties{
		"RoleName":                 role.Name,
		"AssumeRolePolicyDocument": params.AssumeRolePolicy.Properties(),
		"Tags":                     b.Tags(role.Name),
	}
	if len(params.ManagedPolicyArns) > 0 {
		r.Properties["ManagedPolicyArns"] = params.ManagedPolicyArns
	}
	if params.Kind != "" {
		r.Meta = construct.Properties{META_IDENTITY: string(params.Kind)}
	}
	return role, b.Add(r)
}

// CreatePolicy declares a policy attached to `Roles`.
func CreatePolicy(b *stack.Builder, params PolicyCreateParams) (*IamPolicy, error) {
	policy := &IamPolicy{
		ID:   id(IAM_POLICY_TYPE, params.Name),
		Name: b.PhysicalName(aws.IamPolicySanitizer, params.Name),
	}
	r := construct.CreateResource(policy.ID)
	r.Properties = construct.Properties{
		"PolicyName":     policy.Name,
		"PolicyDocument": params.Policy.Properties(),
		"Roles":          refs(params.Roles),
	}
	return policy, b.Add(r)
}

// DefineExecutionIdentity declares the role the workload runs as, trusted only by `trustedService`.
func DefineExecutionIdentity(b *stack.Builder, name string, trustedService string) (*IamRole, error) {
	return CreateRole(b, RoleCreateParams{
		Name: name,
		Kind: ExecutionIdentity,
		AssumeRolePolicy: &PolicyDocument{
			Version: VERSION,
			Statement: []StatementEntry{{
				Effect:    "Allow",
				Action:    []string{"sts:AssumeRole"},
				Principal: &Principal{Service: trustedService},
			}},
		},
	})
}

// DefineDataIdentity declares the role that holds data permissions. Its trust policy names exactly the
// execution identity, and the execution identity is separately granted `sts:AssumeRole` on it.
func DefineDataIdentity(b *stack.Builder, name string, exec *IamRole) (*IamRole, error) {
	if exec == nil || exec.Kind != ExecutionIdentity {
		return nil, engine_errs.ValidationError{
			Resource:  id(IAM_ROLE_TYPE, name),
			Attribute: "AssumeRolePolicyDocument",
			Reason:    "must be trusted by an execution identity",
		}
	}
	data, err := CreateRole(b, RoleCreateParams{
		Name: name,
		Kind: DataIdentity,
		AssumeRolePolicy: &PolicyDocument{
			Version: VERSION,
			Statement: []StatementEntry{{
				Effect:    "Allow",
				Action:    []string{"sts:AssumeRole"},
				Principal: &Principal{AWS: exec.Arn()},
			}},
		},
	})
	if err != nil {
		return nil, err
	}
	_, err = CreatePolicy(b, PolicyCreateParams{
		Name:   fmt.Sprintf("%s-assume-%s", exec.ID.Name, name),
		Roles:  []*IamRole{exec},
		Policy: CreateAllowPolicyDocument([]string{"sts:AssumeRole"}, []any{data.Arn()}),
	})
	return data, err
}

// GrantTableAccess grants read/write data access on the table and all of its indexes to `identity`, which must
// be a data identity.
func GrantTableAccess(b *stack.Builder, identity *IamRole, table *DynamodbTable) (*IamPolicy, error) {
	switch {
	case identity == nil && table == nil:
		return nil, undeclared(id(IAM_POLICY_TYPE, "table-access"), "Roles", "role and table")
	case identity == nil:
		return nil, undeclared(id(IAM_POLICY_TYPE, table.ID.Name+"-access"), "Roles", "role")
	case table == nil:
		return nil, undeclared(identity.ID, "PolicyDocument.Resource", "table")
	}
	if identity.Kind != DataIdentity {
		return nil, engine_errs.ValidationError{
			Resource: identity.ID,
			Reason:   fmt.Sprintf("only a data identity may be granted access to %s", table.ID),
		}
	}
	return CreatePolicy(b, PolicyCreateParams{
		Name:  fmt.Sprintf("%s-%s-access", identity.ID.Name, table.ID.Name),
		Roles: []*IamRole{identity},
		Policy: CreateAllowPolicyDocument(TableReadWriteActions, []any{
			table.Arn(),
			construct.Join{Parts: []any{table.Arn(), "/index/*"}},
		}),
	})
}

// DefineImagePullIdentity declares the role the container agent uses to pull from `repo` and write to `logs`.
func DefineImagePullIdentity(b *stack.Builder, name string, repo *EcrRepository, logs *LogGroup) (*IamRole, error) {
	switch {
	case repo == nil:
		return nil, undeclared(id(IAM_ROLE_TYPE, name), "Policies", "repository")
	case logs == nil:
		return nil, undeclared(id(IAM_ROLE_TYPE, name), "Policies", "log group")
	}
	role, err := CreateRole(b, RoleCreateParams{
		Name:             name,
		Kind:             ImagePullIdentity,
		AssumeRolePolicy: ECS_ASSUMER_ROLE_POLICY,
	})
	if err != nil {
		return nil, err
	}
	doc := &PolicyDocument{
		Version: VERSION,
		Statement: []StatementEntry{
			{
				Effect:   "Allow",
				Action:   []string{"ecr:GetAuthorizationToken"},
				Resource: []any{"*"},
			},
			{
				Effect:   "Allow",
				Action:   []string{"ecr:BatchCheckLayerAvailability", "ecr:GetDownloadUrlForLayer", "ecr:BatchGetImage"},
				Resource: []any{repo.Arn()},
			},
			{
				Effect:   "Allow",
				Action:   []string{"logs:CreateLogStream", "logs:PutLogEvents"},
				Resource: []any{logs.Arn()},
			},
		},
	}
	_, err = CreatePolicy(b, PolicyCreateParams{Name: name + "-pull", Roles: []*IamRole{role}, Policy: doc})
	return role, err
}

// DefineInstanceIdentity declares the role and instance profile of the pool hosts, allowing them to register
// with the cluster.
func DefineInstanceIdentity(b *stack.Builder, name string) (*InstanceProfile, error) {
	role, err := CreateRole(b, RoleCreateParams{
		Name:             name,
		Kind:             InstanceIdentity,
		AssumeRolePolicy: EC2_ASSUMER_ROLE_POLICY,
		ManagedPolicyArns: []any{
			partitionArn(":iam::aws:policy/service-role/AmazonEC2ContainerServiceforEC2Role"),
		},
	})
	if err != nil {
		return nil, err
	}
	profile := &InstanceProfile{
		ID:   id(INSTANCE_PROFILE_TYPE, name),
		Name: b.PhysicalName(aws.InstanceProfileSanitizer, name),
		Role: role,
	}
	r := construct.CreateResource(profile.ID)
	r.Properties = construct.Properties{
		"InstanceProfileName": profile.Name,
		"Roles":               []any{role.Ref()},
	}
	return profile, b.Add(r)
}
