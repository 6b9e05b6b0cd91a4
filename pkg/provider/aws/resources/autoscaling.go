package resources

import (
	"fmt"
	"strconv"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/sanitization/aws"
	"github.com/klothoplatform/free-courses-infra/pkg/stack"
)

// EcsOptimizedImage resolves the latest ECS optimized Amazon Linux 2 image at deploy time.
const EcsOptimizedImage = "{{resolve:ssm:/aws/service/ecs/optimized-ami/amazon-linux-2/recommended/image_id}}"

type (
	LaunchTemplate struct {
		ID   construct.ResourceId
		Name string
	}

	AutoScalingGroup struct {
		ID   construct.ResourceId
		Name string
	}

	// ElasticPool is a group of hosts that scales between Min and Max instances.
	ElasticPool struct {
		Name              string
		LaunchTemplate    *LaunchTemplate
		Group             *AutoScalingGroup
		ScaleInProtection bool
	}

	PoolCreateParams struct {
		Name            string
		Subnets         []*Subnet
		SecurityGroups  []*SecurityGroup
		InstanceType    string
		ImageId         string
		InstanceProfile *InstanceProfile
		Min             int
		Max             int
		Desired         int
		// ScaleInProtection protects new instances from scale-in. Without it, instances (and the tasks on them)
		// may be terminated when the pool scales in.
		ScaleInProtection bool
	}
)

func (g *AutoScalingGroup) Ref() construct.Ref {
	return construct.RefOf(g.ID)
}

// CreateElasticPool declares the launch template and auto scaling group of a host pool. The hosts join a cluster
// once the pool is bound to one through a capacity provider (see [PlaceService]).
func CreateElasticPool(b *stack.Builder, params PoolCreateParams) (*ElasticPool, error) {
	pool := &ElasticPool{
		Name: params.Name,
		LaunchTemplate: &LaunchTemplate{
			ID:   id(LAUNCH_TEMPLATE_TYPE, params.Name),
			Name: b.PhysicalName(aws.LaunchTemplateSanitizer, params.Name),
		},
		Group: &AutoScalingGroup{
			ID:   id(AUTO_SCALING_GROUP_TYPE, params.Name),
			Name: b.PhysicalName(aws.AutoScalingGroupSanitizer, params.Name),
		},
		ScaleInProtection: params.ScaleInProtection,
	}

	switch {
	case params.Min < 0:
		return nil, engine_errs.ValidationError{Resource: pool.Group.ID, Attribute: "MinSize", Reason: "must not be negative"}
	case params.Max < 1 || params.Max < params.Min:
		return nil, engine_errs.ValidationError{
			Resource:  pool.Group.ID,
			Attribute: "MaxSize",
			Reason:    fmt.Sprintf("%d must be at least 1 and at least MinSize %d", params.Max, params.Min),
		}
	case params.Desired < params.Min || params.Desired > params.Max:
		return nil, engine_errs.ValidationError{
			Resource:  pool.Group.ID,
			Attribute: "DesiredCapacity",
			Reason:    fmt.Sprintf("%d is outside %d to %d", params.Desired, params.Min, params.Max),
		}
	case len(params.Subnets) == 0:
		return nil, engine_errs.ValidationError{Resource: pool.Group.ID, Attribute: "VPCZoneIdentifier", Reason: "requires at least one subnet"}
	}

	imageId := params.ImageId
	if imageId == "" {
		imageId = EcsOptimizedImage
	}
	data := map[string]any{
		"ImageId":      imageId,
		"InstanceType": params.InstanceType,
		// require IMDSv2
		"MetadataOptions": map[string]any{
			"HttpTokens":   "required",
			"HttpEndpoint": "enabled",
		},
		"SecurityGroupIds": refs(params.SecurityGroups),
	}
	if params.InstanceProfile != nil {
		data["IamInstanceProfile"] = map[string]any{"Arn": params.InstanceProfile.Arn()}
	}
	lt := construct.CreateResource(pool.LaunchTemplate.ID)
	lt.Properties = construct.Properties{
		"LaunchTemplateName": pool.LaunchTemplate.Name,
		"LaunchTemplateData": data,
	}
	if err := b.Add(lt); err != nil {
		return nil, err
	}

	asg := construct.CreateResource(pool.Group.ID)
	asg.Properties = construct.Properties{
		"AutoScalingGroupName": pool.Group.Name,
		// CloudFormation takes the sizes as strings
		"MinSize":         strconv.Itoa(params.Min),
		"MaxSize":         strconv.Itoa(params.Max),
		"DesiredCapacity": strconv.Itoa(params.Desired),
		"LaunchTemplate": map[string]any{
			"LaunchTemplateId": construct.RefOf(lt.ID),
			"Version":          construct.AttrOf(lt.ID, "LatestVersionNumber"),
		},
		"VPCZoneIdentifier":                refs(params.Subnets),
		"NewInstancesProtectedFromScaleIn": params.ScaleInProtection,
	}
	// hosts in isolated subnets pull the agent image and register through the endpoints
	dependOnEndpoints(asg, params.Subnets)
	return pool, b.Add(asg)
}

// joinCluster sets the pool's bootstrap user data so its hosts register with `cluster`.
func (pool *ElasticPool) joinCluster(b *stack.Builder, cluster *EcsCluster) error {
	return b.Update(pool.LaunchTemplate.ID, func(r *construct.Resource) error {
		data, ok := r.Properties["LaunchTemplateData"].(map[string]any)
		if !ok {
			return fmt.Errorf("launch template %s has no LaunchTemplateData", pool.LaunchTemplate.ID)
		}
		if existing, ok := data["UserData"]; ok && existing != nil {
			if fmt.Sprint(construct.StringifyIntrinsics(existing)) != clusterUserData(cluster).String() {
				return fmt.Errorf("pool %s already joins another cluster", pool.Name)
			}
			return nil
		}
		data["UserData"] = clusterUserData(cluster)
		return nil
	})
}

func clusterUserData(cluster *EcsCluster) construct.Base64 {
	return construct.Base64{Value: construct.Join{Parts: []any{
		"#!/bin/bash\necho ECS_CLUSTER=",
		cluster.Ref(),
		" >> /etc/ecs/ecs.config\n",
	}}}
}
