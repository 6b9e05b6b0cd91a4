package resources

import (
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
)

const AWS_PROVIDER = "aws"

const (
	VPC_TYPE                     = "vpc"
	INTERNET_GATEWAY_TYPE        = "internet_gateway"
	GATEWAY_ATTACHMENT_TYPE      = "vpc_gateway_attachment"
	ROUTE_TABLE_TYPE             = "route_table"
	ROUTE_TYPE                   = "route"
	SUBNET_TYPE                  = "subnet"
	ROUTE_TABLE_ASSOCIATION_TYPE = "route_table_association"
	VPC_ENDPOINT_TYPE            = "vpc_endpoint"
	SECURITY_GROUP_TYPE          = "security_group"

	IAM_ROLE_TYPE         = "iam_role"
	IAM_POLICY_TYPE       = "iam_policy"
	INSTANCE_PROFILE_TYPE = "iam_instance_profile"

	DYNAMODB_TABLE_TYPE = "dynamodb_table"
	ECR_REPO_TYPE       = "ecr_repo"
	LOG_GROUP_TYPE      = "log_group"

	LAUNCH_TEMPLATE_TYPE    = "launch_template"
	AUTO_SCALING_GROUP_TYPE = "auto_scaling_group"

	ECS_CAPACITY_PROVIDER_TYPE     = "ecs_capacity_provider"
	ECS_CLUSTER_TYPE               = "ecs_cluster"
	ECS_CLUSTER_ASSOCIATIONS_TYPE  = "ecs_cluster_capacity_provider_associations"
	ECS_TASK_DEFINITION_TYPE       = "ecs_task_definition"
	ECS_SERVICE_TYPE               = "ecs_service"
	LOAD_BALANCER_TYPE             = "load_balancer"
	TARGET_GROUP_TYPE              = "target_group"
	LISTENER_TYPE                  = "load_balancer_listener"
	LISTENER_RULE_TYPE             = "load_balancer_listener_rule"
)

// CloudFormationTypes maps resource id types to their CloudFormation resource types.
var CloudFormationTypes = map[string]string{
	VPC_TYPE:                      "AWS::EC2::VPC",
	INTERNET_GATEWAY_TYPE:         "AWS::EC2::InternetGateway",
	GATEWAY_ATTACHMENT_TYPE:       "AWS::EC2::VPCGatewayAttachment",
	ROUTE_TABLE_TYPE:              "AWS::EC2::RouteTable",
	ROUTE_TYPE:                    "AWS::EC2::Route",
	SUBNET_TYPE:                   "AWS::EC2::Subnet",
	ROUTE_TABLE_ASSOCIATION_TYPE:  "AWS::EC2::SubnetRouteTableAssociation",
	VPC_ENDPOINT_TYPE:             "AWS::EC2::VPCEndpoint",
	SECURITY_GROUP_TYPE:           "AWS::EC2::SecurityGroup",
	IAM_ROLE_TYPE:                 "AWS::IAM::Role",
	IAM_POLICY_TYPE:               "AWS::IAM::Policy",
	INSTANCE_PROFILE_TYPE:         "AWS::IAM::InstanceProfile",
	DYNAMODB_TABLE_TYPE:           "AWS::DynamoDB::Table",
	ECR_REPO_TYPE:                 "AWS::ECR::Repository",
	LOG_GROUP_TYPE:                "AWS::Logs::LogGroup",
	LAUNCH_TEMPLATE_TYPE:          "AWS::EC2::LaunchTemplate",
	AUTO_SCALING_GROUP_TYPE:       "AWS::AutoScaling::AutoScalingGroup",
	ECS_CAPACITY_PROVIDER_TYPE:    "AWS::ECS::CapacityProvider",
	ECS_CLUSTER_TYPE:              "AWS::ECS::Cluster",
	ECS_CLUSTER_ASSOCIATIONS_TYPE: "AWS::ECS::ClusterCapacityProviderAssociations",
	ECS_TASK_DEFINITION_TYPE:      "AWS::ECS::TaskDefinition",
	ECS_SERVICE_TYPE:              "AWS::ECS::Service",
	LOAD_BALANCER_TYPE:            "AWS::ElasticLoadBalancingV2::LoadBalancer",
	TARGET_GROUP_TYPE:             "AWS::ElasticLoadBalancingV2::TargetGroup",
	LISTENER_TYPE:                 "AWS::ElasticLoadBalancingV2::Listener",
	LISTENER_RULE_TYPE:            "AWS::ElasticLoadBalancingV2::ListenerRule",
}

// NameProperties is the property holding the physical name of each resource type that has one.
var NameProperties = map[string]string{
	SECURITY_GROUP_TYPE:        "GroupName",
	IAM_ROLE_TYPE:              "RoleName",
	IAM_POLICY_TYPE:            "PolicyName",
	INSTANCE_PROFILE_TYPE:      "InstanceProfileName",
	DYNAMODB_TABLE_TYPE:        "TableName",
	ECR_REPO_TYPE:              "RepositoryName",
	LOG_GROUP_TYPE:             "LogGroupName",
	LAUNCH_TEMPLATE_TYPE:       "LaunchTemplateName",
	AUTO_SCALING_GROUP_TYPE:    "AutoScalingGroupName",
	ECS_CAPACITY_PROVIDER_TYPE: "Name",
	ECS_CLUSTER_TYPE:           "ClusterName",
	ECS_TASK_DEFINITION_TYPE:   "Family",
	ECS_SERVICE_TYPE:           "ServiceName",
	LOAD_BALANCER_TYPE:         "Name",
	TARGET_GROUP_TYPE:          "Name",
}

// META_IDENTITY marks the role an IAM role plays in the trust chain (see [IdentityKind]).
const META_IDENTITY = "Identity"

func id(typ, name string) construct.ResourceId {
	return construct.ResourceId{Provider: AWS_PROVIDER, Type: typ, Name: name}
}

func namespacedId(typ, namespace, name string) construct.ResourceId {
	return construct.ResourceId{Provider: AWS_PROVIDER, Type: typ, Namespace: namespace, Name: name}
}

// PhysicalName returns the physical name of `r`, if its type has one.
func PhysicalName(r *construct.Resource) (string, bool) {
	prop, ok := NameProperties[r.ID.Type]
	if !ok {
		return "", false
	}
	name, ok := r.Properties[prop].(string)
	return name, ok
}

func partitionArn(parts ...any) construct.Join {
	return construct.Join{
		Delimiter: "",
		Parts:     append([]any{"arn:", construct.Pseudo{Name: construct.PseudoPartition}}, parts...),
	}
}

// undeclared is the error for a nil handle, a reference to a resource that was never declared.
func undeclared(resource construct.ResourceId, attr, what string) error {
	return engine_errs.ValidationError{Resource: resource, Attribute: attr, Reason: "references an undeclared " + what}
}

func refs[T interface{ Ref() construct.Ref }](items []T) []any {
	list := make([]any, len(items))
	for i, item := range items {
		list[i] = item.Ref()
	}
	return list
}
