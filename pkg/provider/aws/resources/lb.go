package resources

import (
	"fmt"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/sanitization/aws"
	"github.com/klothoplatform/free-courses-infra/pkg/stack"
)

type (
	LoadBalancer struct {
		ID            construct.ResourceId
		Name          string
		SecurityGroup *SecurityGroup
	}

	TargetGroup struct {
		ID   construct.ResourceId
		Name string
		Port int
	}

	Listener struct {
		ID   construct.ResourceId
		Port int
	}

	// ListenerRule forwards requests matching any of its conditions to TargetGroup. Rules are evaluated by
	// ascending Priority before the listener's default action.
	ListenerRule struct {
		Priority     int
		PathPatterns []string
		HostHeaders  []string
		TargetGroup  *TargetGroup
	}

	LoadBalancerCreateParams struct {
		Name    string
		Network *Network
		Subnets []*Subnet
	}

	TargetGroupCreateParams struct {
		Name       string
		Network    *Network
		Port       int
		Protocol   string
		HealthPath string
	}

	ListenerCreateParams struct {
		Port                int
		Protocol            string
		DefaultTargetGroups []*TargetGroup
		Rules               []ListenerRule
	}
)

func (lb *LoadBalancer) Ref() construct.Ref {
	return construct.RefOf(lb.ID)
}

func (lb *LoadBalancer) DnsName() construct.Ref {
	return construct.AttrOf(lb.ID, "DNSName")
}

func (tg *TargetGroup) Ref() construct.Ref {
	return construct.RefOf(tg.ID)
}

// CreateLoadBalancer declares an internet facing application load balancer in `Subnets`, with its own
// security group. Listeners open the group to their port (see [AddListener]).
func CreateLoadBalancer(b *stack.Builder, params LoadBalancerCreateParams) (*LoadBalancer, error) {
	lb := &LoadBalancer{
		ID:   id(LOAD_BALANCER_TYPE, params.Name),
		Name: b.PhysicalName(aws.LoadBalancerSanitizer, params.Name),
	}
	if params.Network == nil {
		return nil, undeclared(lb.ID, "SecurityGroups", "network")
	}
	if len(params.Subnets) < 2 {
		return nil, engine_errs.ValidationError{
			Resource:  lb.ID,
			Attribute: "Subnets",
			Reason:    fmt.Sprintf("requires subnets in at least two availability zones, got %d", len(params.Subnets)),
		}
	}
	sg, err := CreateSecurityGroup(b, SecurityGroupCreateParams{
		Name:        params.Name,
		Description: "Load balancer entry point",
		Network:     params.Network,
	})
	if err != nil {
		return nil, err
	}
	lb.SecurityGroup = sg

	r := construct.CreateResource(lb.ID)
	r.Properties = construct.Properties{
		"Name":           lb.Name,
		"Type":           "application",
		"Scheme":         "internet-facing",
		"IpAddressType":  "ipv4",
		"Subnets":        refs(params.Subnets),
		"SecurityGroups": []any{sg.Ref()},
		"Tags":           b.Tags(lb.Name),
	}
	return lb, b.Add(r)
}

// CreateTargetGroup declares an IP target group; services register their tasks with it.
func CreateTargetGroup(b *stack.Builder, params TargetGroupCreateParams) (*TargetGroup, error) {
	tg := &TargetGroup{
		ID:   id(TARGET_GROUP_TYPE, params.Name),
		Name: b.PhysicalName(aws.TargetGroupSanitizer, params.Name),
		Port: params.Port,
	}
	if params.Network == nil {
		return nil, undeclared(tg.ID, "VpcId", "network")
	}
	if params.Port < 1 || params.Port > 65535 {
		return nil, engine_errs.ValidationError{Resource: tg.ID, Attribute: "Port", Reason: fmt.Sprintf("%d is not a valid port", params.Port)}
	}
	protocol := params.Protocol
	if protocol == "" {
		protocol = "HTTP"
	}
	r := construct.CreateResource(tg.ID)
	r.Properties = construct.Properties{
		"Name":                tg.Name,
		"Port":                params.Port,
		"Protocol":            protocol,
		"TargetType":          "ip",
		"VpcId":               params.Network.Vpc.Ref(),
		"HealthCheckEnabled":  true,
		"HealthCheckProtocol": protocol,
		"Tags":                b.Tags(tg.Name),
	}
	if params.HealthPath != "" {
		r.Properties["HealthCheckPath"] = params.HealthPath
	}
	return tg, b.Add(r)
}

// AddListener declares a listener on `lb` forwarding to the default target groups, plus one listener rule per
// entry in `Rules`. The load balancer's security group is opened to the listener port, and services
// registered with any of the target groups are made to wait for the listener.
func AddListener(b *stack.Builder, lb *LoadBalancer, params ListenerCreateParams) (*Listener, error) {
	if lb == nil {
		return nil, undeclared(namespacedId(LISTENER_TYPE, "", fmt.Sprint(params.Port)), "LoadBalancerArn", "load balancer")
	}
	l := &Listener{
		ID:   namespacedId(LISTENER_TYPE, lb.ID.Name, fmt.Sprint(params.Port)),
		Port: params.Port,
	}
	if len(params.DefaultTargetGroups) == 0 {
		return nil, engine_errs.ValidationError{Resource: l.ID, Attribute: "DefaultActions", Reason: "requires a target group"}
	}
	for _, tg := range params.DefaultTargetGroups {
		if tg == nil {
			return nil, undeclared(l.ID, "DefaultActions", "target group")
		}
	}
	protocol := params.Protocol
	if protocol == "" {
		protocol = "HTTP"
	}

	r := construct.CreateResource(l.ID)
	r.Properties = construct.Properties{
		"LoadBalancerArn": lb.Ref(),
		"Port":            params.Port,
		"Protocol":        protocol,
		"DefaultActions":  []any{forwardAction(params.DefaultTargetGroups)},
	}
	if err := b.Add(r); err != nil {
		return nil, err
	}

	err := AllowIngress(b, lb.SecurityGroup, IngressRule{
		FromPort:    params.Port,
		ToPort:      params.Port,
		CidrIp:      "0.0.0.0/0",
		Description: fmt.Sprintf("%s from anywhere", protocol),
	})
	if err != nil {
		return nil, err
	}

	groups := append([]*TargetGroup{}, params.DefaultTargetGroups...)
	priorities := make(map[int]bool)
	for _, rule := range params.Rules {
		ruleId := namespacedId(LISTENER_RULE_TYPE, l.ID.Namespace+"-"+l.ID.Name, fmt.Sprint(rule.Priority))
		if rule.Priority < 1 || rule.Priority > 50000 || priorities[rule.Priority] {
			return nil, engine_errs.ValidationError{
				Resource:  ruleId,
				Attribute: "Priority",
				Reason:    fmt.Sprintf("%d must be unique and within 1 to 50000", rule.Priority),
			}
		}
		priorities[rule.Priority] = true
		if rule.TargetGroup == nil || (len(rule.PathPatterns) == 0 && len(rule.HostHeaders) == 0) {
			return nil, engine_errs.ValidationError{Resource: ruleId, Reason: "requires a target group and at least one condition"}
		}

		var conditions []any
		if len(rule.PathPatterns) > 0 {
			conditions = append(conditions, map[string]any{
				"Field":             "path-pattern",
				"PathPatternConfig": map[string]any{"Values": stringList(rule.PathPatterns)},
			})
		}
		if len(rule.HostHeaders) > 0 {
			conditions = append(conditions, map[string]any{
				"Field":            "host-header",
				"HostHeaderConfig": map[string]any{"Values": stringList(rule.HostHeaders)},
			})
		}
		lr := construct.CreateResource(ruleId)
		lr.Properties = construct.Properties{
			"ListenerArn": construct.RefOf(l.ID),
			"Priority":    rule.Priority,
			"Conditions":  conditions,
			"Actions":     []any{forwardAction([]*TargetGroup{rule.TargetGroup})},
		}
		if err := b.Add(lr); err != nil {
			return nil, err
		}
		groups = append(groups, rule.TargetGroup)
	}

	return l, waitForListener(b, l, groups)
}

// waitForListener makes services registered with `groups` depend on the listener: a target group can only
// take registrations once it is attached to a load balancer.
func waitForListener(b *stack.Builder, l *Listener, groups []*TargetGroup) error {
	seen := make(map[construct.ResourceId]bool)
	for _, tg := range groups {
		if seen[tg.ID] {
			continue
		}
		seen[tg.ID] = true
		dependents, err := b.Dependents(tg.ID)
		if err != nil {
			return err
		}
		for _, dep := range dependents {
			if dep.Type != ECS_SERVICE_TYPE {
				continue
			}
			if err := b.DependsOn(dep, l.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func forwardAction(groups []*TargetGroup) map[string]any {
	if len(groups) == 1 {
		return map[string]any{"Type": "forward", "TargetGroupArn": groups[0].Ref()}
	}
	targets := make([]any, len(groups))
	for i, tg := range groups {
		targets[i] = map[string]any{"TargetGroupArn": tg.Ref(), "Weight": 1}
	}
	return map[string]any{
		"Type":          "forward",
		"ForwardConfig": map[string]any{"TargetGroups": targets},
	}
}

func stringList(values []string) []any {
	list := make([]any, len(values))
	for i, v := range values {
		list[i] = v
	}
	return list
}
