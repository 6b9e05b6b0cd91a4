package resources

import (
	"fmt"
	"net"

	"github.com/apparentlymart/go-cidr/cidr"
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/stack"
)

const (
	PublicSubnet   = "public"
	IsolatedSubnet = "isolated"

	// smallest subnet AWS allows
	maxSubnetMask = 28
	minSubnetMask = 16
)

// RequiredEndpoints are the interface endpoints an isolated subnet needs so that tasks can pull images,
// ship logs and assume roles without internet access.
var RequiredEndpoints = []string{"ecr.dkr", "logs", "sts"}

type (
	Vpc struct {
		ID        construct.ResourceId
		CidrBlock string
	}

	Subnet struct {
		ID               construct.ResourceId
		Kind             string
		AzIndex          int
		CidrBlock        string
		RouteTable       construct.ResourceId
		AvailabilityZone construct.AZ
		// Endpoints serving the subnet. Resources placed into it are created after them.
		Endpoints []construct.ResourceId
	}

	VpcEndpoint struct {
		ID      construct.ResourceId
		Service string
	}

	Network struct {
		Name             string
		Vpc              *Vpc
		InternetGateway  construct.ResourceId
		Public           []*Subnet
		Isolated         []*Subnet
		Endpoints        []*VpcEndpoint
		EndpointSecurity *SecurityGroup
	}

	NetworkCreateParams struct {
		Name       string
		CidrBlock  string
		AzCount    int
		SubnetMask int
		// ExtraEndpoints are interface endpoint services added after [RequiredEndpoints].
		ExtraEndpoints []string
	}
)

func (v *Vpc) Ref() construct.Ref    { return construct.RefOf(v.ID) }
func (s *Subnet) Ref() construct.Ref { return construct.RefOf(s.ID) }

// CreateNetwork declares a VPC spread over `AzCount` availability zones, with a public and an isolated subnet
// in each. Public subnets route to an internet gateway; isolated subnets have no internet route and reach
// AWS services through interface endpoints.
func CreateNetwork(b *stack.Builder, params NetworkCreateParams) (*Network, error) {
	vpcId := id(VPC_TYPE, params.Name)
	subnetCidrs, err := carveSubnets(vpcId, params.CidrBlock, params.SubnetMask, 2*params.AzCount)
	if err != nil {
		return nil, err
	}

	nw := &Network{
		Name: params.Name,
		Vpc:  &Vpc{ID: vpcId, CidrBlock: params.CidrBlock},
	}
	vpc := construct.CreateResource(vpcId)
	vpc.Properties = construct.Properties{
		"CidrBlock":          params.CidrBlock,
		"EnableDnsSupport":   true,
		"EnableDnsHostnames": true,
		"Tags":               b.Tags(b.PhysicalName(nil, params.Name)),
	}
	if err := b.Add(vpc); err != nil {
		return nil, err
	}

	nw.InternetGateway = namespacedId(INTERNET_GATEWAY_TYPE, params.Name, "igw")
	igw := construct.CreateResource(nw.InternetGateway)
	igw.Properties["Tags"] = b.Tags(b.PhysicalName(nil, params.Name+"-igw"))

	attachment := construct.CreateResource(namespacedId(GATEWAY_ATTACHMENT_TYPE, params.Name, "igw"))
	attachment.Properties = construct.Properties{
		"VpcId":             nw.Vpc.Ref(),
		"InternetGatewayId": construct.RefOf(igw.ID),
	}

	publicRt := construct.CreateResource(namespacedId(ROUTE_TABLE_TYPE, params.Name, PublicSubnet))
	publicRt.Properties = construct.Properties{
		"VpcId": nw.Vpc.Ref(),
		"Tags":  b.Tags(b.PhysicalName(nil, params.Name+"-public")),
	}
	defaultRoute := construct.CreateResource(namespacedId(ROUTE_TYPE, params.Name, "public-default"))
	defaultRoute.Properties = construct.Properties{
		"RouteTableId":         construct.RefOf(publicRt.ID),
		"DestinationCidrBlock": "0.0.0.0/0",
		"GatewayId":            construct.RefOf(igw.ID),
	}
	// the route can only be created once the gateway is attached
	defaultRoute.AddExplicitDependency(attachment.ID)

	isolatedRt := construct.CreateResource(namespacedId(ROUTE_TABLE_TYPE, params.Name, IsolatedSubnet))
	isolatedRt.Properties = construct.Properties{
		"VpcId": nw.Vpc.Ref(),
		"Tags":  b.Tags(b.PhysicalName(nil, params.Name+"-isolated")),
	}

	for _, r := range []*construct.Resource{igw, attachment, publicRt, defaultRoute, isolatedRt} {
		if err := b.Add(r); err != nil {
			return nil, err
		}
	}

	for i, block := range subnetCidrs {
		kind := PublicSubnet
		rt := publicRt.ID
		if i >= params.AzCount {
			kind = IsolatedSubnet
			rt = isolatedRt.ID
		}
		s, err := addSubnet(b, nw, kind, i%params.AzCount, block, rt)
		if err != nil {
			return nil, err
		}
		if kind == PublicSubnet {
			nw.Public = append(nw.Public, s)
		} else {
			nw.Isolated = append(nw.Isolated, s)
		}
	}

	nw.EndpointSecurity, err = CreateSecurityGroup(b, SecurityGroupCreateParams{
		Name:        params.Name + "-endpoints",
		Description: "Allows HTTPS from within the VPC to the interface endpoints",
		Network:     nw,
		Ingress: []IngressRule{{
			Protocol:    "tcp",
			FromPort:    443,
			ToPort:      443,
			CidrIp:      params.CidrBlock,
			Description: "HTTPS from the VPC",
		}},
	})
	if err != nil {
		return nil, err
	}

	services := append(append([]string{}, RequiredEndpoints...), params.ExtraEndpoints...)
	seen := make(map[string]bool, len(services))
	for _, svc := range services {
		if seen[svc] {
			continue
		}
		seen[svc] = true
		if _, err := AddInterfaceEndpoint(b, nw, svc); err != nil {
			return nil, err
		}
	}
	return nw, nil
}

func addSubnet(b *stack.Builder, nw *Network, kind string, az int, block string, rt construct.ResourceId) (*Subnet, error) {
	name := fmt.Sprintf("%s-%d", kind, az)
	s := &Subnet{
		ID:               namespacedId(SUBNET_TYPE, nw.Name, name),
		Kind:             kind,
		AzIndex:          az,
		CidrBlock:        block,
		RouteTable:       rt,
		AvailabilityZone: construct.AZ{Index: az},
	}
	subnet := construct.CreateResource(s.ID)
	subnet.Properties = construct.Properties{
		"VpcId":               nw.Vpc.Ref(),
		"CidrBlock":           block,
		"AvailabilityZone":    s.AvailabilityZone,
		"MapPublicIpOnLaunch": kind == PublicSubnet,
		"Tags":                b.Tags(b.PhysicalName(nil, nw.Name+"-"+name)),
	}
	if err := b.Add(subnet); err != nil {
		return nil, err
	}

	assoc := construct.CreateResource(namespacedId(ROUTE_TABLE_ASSOCIATION_TYPE, nw.Name, name))
	assoc.Properties = construct.Properties{
		"SubnetId":     s.Ref(),
		"RouteTableId": construct.RefOf(rt),
	}
	return s, b.Add(assoc)
}

// AddInterfaceEndpoint declares an interface endpoint for `service` (eg `ecr.dkr`) in every isolated subnet of
// the network, reachable through the network's endpoint security group.
func AddInterfaceEndpoint(b *stack.Builder, nw *Network, service string) (*VpcEndpoint, error) {
	ep := &VpcEndpoint{ID: namespacedId(VPC_ENDPOINT_TYPE, nw.Name, service), Service: service}
	r := construct.CreateResource(ep.ID)
	r.Properties = construct.Properties{
		"VpcId": nw.Vpc.Ref(),
		"ServiceName": construct.Join{Parts: []any{
			"com.amazonaws.", construct.Pseudo{Name: construct.PseudoRegion}, "." + service,
		}},
		"VpcEndpointType":   "Interface",
		"PrivateDnsEnabled": true,
		"SubnetIds":         refs(nw.Isolated),
		"SecurityGroupIds":  []any{nw.EndpointSecurity.Ref()},
	}
	if err := b.Add(r); err != nil {
		return nil, err
	}
	nw.Endpoints = append(nw.Endpoints, ep)
	for _, s := range nw.Isolated {
		s.Endpoints = append(s.Endpoints, ep.ID)
	}
	return ep, nil
}

// dependOnEndpoints orders `r` after every endpoint serving `subnets`.
func dependOnEndpoints(r *construct.Resource, subnets []*Subnet) {
	for _, s := range subnets {
		if s == nil {
			continue
		}
		for _, ep := range s.Endpoints {
			r.AddExplicitDependency(ep)
		}
	}
}

// carveSubnets splits `block` into `count` consecutive subnets of size `mask`.
func carveSubnets(vpc construct.ResourceId, block string, mask, count int) ([]string, error) {
	_, base, err := net.ParseCIDR(block)
	if err != nil {
		return nil, engine_errs.ValidationError{Resource: vpc, Attribute: "CidrBlock", Reason: err.Error()}
	}
	prefix, _ := base.Mask.Size()
	if mask < minSubnetMask || mask > maxSubnetMask {
		return nil, engine_errs.ValidationError{
			Resource:  vpc,
			Attribute: "SubnetMask",
			Reason:    fmt.Sprintf("/%d is outside the allowed range /%d to /%d", mask, minSubnetMask, maxSubnetMask),
		}
	}
	if mask < prefix {
		return nil, engine_errs.ValidationError{
			Resource:  vpc,
			Attribute: "SubnetMask",
			Reason:    fmt.Sprintf("/%d is larger than the VPC block %s", mask, block),
		}
	}
	if count < 1 {
		return nil, engine_errs.ValidationError{Resource: vpc, Attribute: "AzCount", Reason: "must be at least 1"}
	}

	blocks := make([]string, 0, count)
	available := 1 << (mask - prefix)
	for i := 0; i < count; i++ {
		if i >= available {
			return nil, engine_errs.ValidationError{
				Resource:  vpc,
				Attribute: "CidrBlock",
				Reason: fmt.Sprintf("has room for %d subnets of /%d but %d are needed (subnet %d does not fit)",
					available, mask, count, i),
			}
		}
		sub, err := cidr.Subnet(base, mask-prefix, i)
		if err != nil {
			return nil, engine_errs.ValidationError{Resource: vpc, Attribute: "CidrBlock", Reason: err.Error()}
		}
		blocks = append(blocks, sub.String())
	}
	return blocks, nil
}
