package resources

import (
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"github.com/klothoplatform/free-courses-infra/pkg/sanitization/aws"
	"github.com/klothoplatform/free-courses-infra/pkg/stack"
)

type (
	SecurityGroup struct {
		ID   construct.ResourceId
		Name string
	}

	// IngressRule admits traffic from either a CIDR block or another security group.
	IngressRule struct {
		Protocol    string
		FromPort    int
		ToPort      int
		CidrIp      string
		Source      *SecurityGroup
		Description string
	}

	SecurityGroupCreateParams struct {
		Name        string
		Description string
		Network     *Network
		Ingress     []IngressRule
	}
)

func (sg *SecurityGroup) Ref() construct.Ref {
	return construct.AttrOf(sg.ID, "GroupId")
}

func CreateSecurityGroup(b *stack.Builder, params SecurityGroupCreateParams) (*SecurityGroup, error) {
	sg := &SecurityGroup{
		ID:   id(SECURITY_GROUP_TYPE, params.Name),
		Name: b.PhysicalName(aws.SecurityGroupSanitizer, params.Name),
	}
	if params.Network == nil {
		return nil, undeclared(sg.ID, "VpcId", "network")
	}
	r := construct.CreateResource(sg.ID)
	r.Properties = construct.Properties{
		"GroupName":        sg.Name,
		"GroupDescription": params.Description,
		"VpcId":            params.Network.Vpc.Ref(),
		"SecurityGroupEgress": []any{map[string]any{
			"IpProtocol": "-1",
			"CidrIp":     "0.0.0.0/0",
		}},
		"Tags": b.Tags(sg.Name),
	}
	for _, rule := range params.Ingress {
		if err := r.AppendProperty("SecurityGroupIngress", rule.properties()); err != nil {
			return nil, err
		}
	}
	return sg, b.Add(r)
}

// AllowIngress adds `rule` to an already declared security group.
func AllowIngress(b *stack.Builder, sg *SecurityGroup, rule IngressRule) error {
	if sg == nil {
		return undeclared(id(SECURITY_GROUP_TYPE, ""), "SecurityGroupIngress", "security group")
	}
	return b.Update(sg.ID, func(r *construct.Resource) error {
		return r.AppendProperty("SecurityGroupIngress", rule.properties())
	})
}

func (rule IngressRule) properties() map[string]any {
	protocol := rule.Protocol
	if protocol == "" {
		protocol = "tcp"
	}
	p := map[string]any{
		"IpProtocol": protocol,
		"FromPort":   rule.FromPort,
		"ToPort":     rule.ToPort,
	}
	if rule.Source != nil {
		p["SourceSecurityGroupId"] = rule.Source.Ref()
	} else {
		p["CidrIp"] = rule.CidrIp
	}
	if rule.Description != "" {
		p["Description"] = rule.Description
	}
	return p
}
