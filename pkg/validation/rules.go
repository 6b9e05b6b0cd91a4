package validation

import (
	"errors"
	"fmt"
	"strings"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"github.com/klothoplatform/free-courses-infra/pkg/provider/aws/resources"
	"github.com/mitchellh/mapstructure"
)

// checkTrustChain requires every data identity to trust exactly one execution identity, and that execution
// identity to hold an explicit grant to assume it.
func checkTrustChain(_ GraphValidation, g construct.Graph, rs []*construct.Resource) error {
	executions := rolesOfKind(rs, resources.ExecutionIdentity)
	var errs error
	for _, data := range rolesOfKind(rs, resources.DataIdentity) {
		trust, err := decodePolicy(data, "AssumeRolePolicyDocument")
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if len(trust.Statement) != 1 {
			errs = errors.Join(errs, invalid(data.ID, "AssumeRolePolicyDocument",
				"must have exactly one statement, has %d", len(trust.Statement)))
			continue
		}
		principal := trust.Statement[0].Principal
		for k := range principal {
			if k != "AWS" {
				errs = errors.Join(errs, invalid(data.ID, "AssumeRolePolicyDocument",
					"trusts a %s principal, only the execution role may assume it", k))
			}
		}
		ref, ok := principal["AWS"].(construct.Ref)
		if !ok || ref.Attribute != "Arn" {
			errs = errors.Join(errs, invalid(data.ID, "AssumeRolePolicyDocument",
				"principal %v is not a reference to a role ARN", construct.StringifyIntrinsics(principal["AWS"])))
			continue
		}
		if _, ok := executions[ref.Resource]; !ok {
			errs = errors.Join(errs, invalid(data.ID, "AssumeRolePolicyDocument",
				"trusts %s, which is not an execution identity", ref.Resource))
			continue
		}
		if !grantsAssume(rs, ref.Resource, data.ID) {
			errs = errors.Join(errs, invalid(ref.Resource, "", "has no policy allowing sts:AssumeRole on %s", data.ID))
		}
	}
	return errs
}

func grantsAssume(rs []*construct.Resource, exec, data construct.ResourceId) bool {
	target := construct.AttrOf(data, "Arn")
	for _, r := range rs {
		if r.ID.Type != resources.IAM_POLICY_TYPE || !containsId(policyRoles(r), exec) {
			continue
		}
		doc, err := decodePolicy(r, "PolicyDocument")
		if err != nil {
			continue
		}
		for _, s := range doc.Statement {
			if s.Effect != "Allow" || !hasAction(s, "sts:AssumeRole") {
				continue
			}
			for _, res := range s.Resource {
				if res == target {
					return true
				}
			}
		}
	}
	return false
}

// checkTableGrants rejects table permissions held by anything other than a data identity, whether granted
// through an attached policy, an inline role policy or a managed policy.
func checkTableGrants(_ GraphValidation, g construct.Graph, rs []*construct.Resource) error {
	var errs error
	deny := func(source construct.ResourceId, attr string, role construct.ResourceId, grants []string) {
		rr, err := g.Vertex(role)
		if err != nil {
			// reported as a dangling reference
			return
		}
		if kind := identityOf(rr); kind != resources.DataIdentity {
			errs = errors.Join(errs, invalid(source, attr,
				"grants access to %s to %s (%q identity), only data identities may hold table access",
				strings.Join(grants, ", "), role, kind))
		}
	}

	for _, r := range rs {
		switch r.ID.Type {
		case resources.IAM_POLICY_TYPE:
			doc, err := decodePolicy(r, "PolicyDocument")
			if err != nil {
				errs = errors.Join(errs, err)
				continue
			}
			if grants := tableGrants(doc); len(grants) > 0 {
				for _, role := range policyRoles(r) {
					deny(r.ID, "Roles", role, grants)
				}
			}

		case resources.IAM_ROLE_TYPE:
			inline, _ := r.Properties["Policies"].([]any)
			for i, p := range inline {
				m, _ := p.(map[string]any)
				attr := fmt.Sprintf("Policies[%d]", i)
				doc, err := decodeDocument(r.ID, attr, m["PolicyDocument"])
				if err != nil {
					errs = errors.Join(errs, err)
					continue
				}
				if grants := tableGrants(doc); len(grants) > 0 {
					deny(r.ID, attr, r.ID, grants)
				}
			}
			managed, _ := r.Properties["ManagedPolicyArns"].([]any)
			for _, arn := range managed {
				name := fmt.Sprint(construct.StringifyIntrinsics(arn))
				if strings.Contains(name, "DynamoDB") {
					deny(r.ID, "ManagedPolicyArns", r.ID, []string{name})
				}
			}
		}
	}
	return errs
}

// tableGrants describes what a policy document allows DynamoDB access on: references to tables, table ARNs
// in any form, and wildcard resources under a DynamoDB (or `*`) action.
func tableGrants(doc policyView) []string {
	var grants []string
	add := func(g string) {
		for _, existing := range grants {
			if existing == g {
				return
			}
		}
		grants = append(grants, g)
	}
	for _, s := range doc.Statement {
		if s.Effect != "Allow" {
			continue
		}
		dynamo := hasServiceAction(s, "dynamodb")
		for _, res := range s.Resource {
			refs := (&construct.Resource{Properties: construct.Properties{"r": res}}).References()
			tableRef := false
			for _, ref := range refs {
				if ref.Resource.Type == resources.DYNAMODB_TABLE_TYPE {
					add(ref.Resource.String())
					tableRef = true
				}
			}
			if tableRef {
				continue
			}
			text := fmt.Sprint(construct.StringifyIntrinsics(res))
			switch {
			case strings.Contains(text, ":dynamodb:"):
				add(text)
			case dynamo && (text == "*" || strings.HasSuffix(text, ":*")):
				add(text)
			}
		}
	}
	return grants
}

// isolatedSubnets returns the subnets whose route table has no gateway route.
func isolatedSubnets(rs []*construct.Resource) []construct.ResourceId {
	gatewayTables := make(map[construct.ResourceId]bool)
	for _, r := range rs {
		if r.ID.Type != resources.ROUTE_TYPE {
			continue
		}
		if _, ok := r.Properties["GatewayId"]; !ok {
			continue
		}
		if rt, ok := r.Properties["RouteTableId"].(construct.Ref); ok {
			gatewayTables[rt.Resource] = true
		}
	}

	var isolated []construct.ResourceId
	for _, r := range rs {
		if r.ID.Type != resources.ROUTE_TABLE_ASSOCIATION_TYPE {
			continue
		}
		subnet, ok1 := r.Properties["SubnetId"].(construct.Ref)
		rt, ok2 := r.Properties["RouteTableId"].(construct.Ref)
		if ok1 && ok2 && !gatewayTables[rt.Resource] {
			isolated = append(isolated, subnet.Resource)
		}
	}
	construct.SortIds(isolated)
	return isolated
}

// requiredEndpoints maps each subnet to the endpoints serving it, keyed by required service.
func (v GraphValidation) requiredEndpoints(rs []*construct.Resource) map[construct.ResourceId]map[string]construct.ResourceId {
	served := make(map[construct.ResourceId]map[string]construct.ResourceId)
	for _, r := range rs {
		if r.ID.Type != resources.VPC_ENDPOINT_TYPE {
			continue
		}
		name := fmt.Sprint(construct.StringifyIntrinsics(r.Properties["ServiceName"]))
		var svc string
		for _, required := range v.RequiredEndpoints {
			if strings.HasSuffix(name, "."+required) {
				svc = required
				break
			}
		}
		if svc == "" {
			continue
		}
		subnets, _ := r.Properties["SubnetIds"].([]any)
		for _, s := range subnets {
			ref, ok := s.(construct.Ref)
			if !ok {
				continue
			}
			if served[ref.Resource] == nil {
				served[ref.Resource] = make(map[string]construct.ResourceId)
			}
			served[ref.Resource][svc] = r.ID
		}
	}
	return served
}

// checkEndpoints requires every isolated subnet, one whose route table has no gateway route, to reach the
// required services through interface endpoints.
func checkEndpoints(v GraphValidation, g construct.Graph, rs []*construct.Resource) error {
	served := v.requiredEndpoints(rs)
	var errs error
	for _, subnet := range isolatedSubnets(rs) {
		for _, svc := range v.RequiredEndpoints {
			if _, ok := served[subnet][svc]; !ok {
				errs = errors.Join(errs, invalid(subnet, "", "is isolated but has no %s endpoint", svc))
			}
		}
	}
	return errs
}

// checkEndpointOrdering requires anything placed into an isolated subnet to be created after the subnet's
// required endpoints, directly or transitively.
func checkEndpointOrdering(v GraphValidation, g construct.Graph, rs []*construct.Resource) error {
	isolated := make(map[construct.ResourceId]bool)
	for _, id := range isolatedSubnets(rs) {
		isolated[id] = true
	}
	served := v.requiredEndpoints(rs)

	var errs error
	for _, r := range rs {
		switch r.ID.Type {
		case resources.VPC_ENDPOINT_TYPE, resources.ROUTE_TABLE_ASSOCIATION_TYPE:
			continue
		}
		var subnets []construct.ResourceId
		for _, ref := range r.References() {
			if isolated[ref.Resource] && !containsId(subnets, ref.Resource) {
				subnets = append(subnets, ref.Resource)
			}
		}
		if len(subnets) == 0 {
			continue
		}
		deps, err := construct.AllDependencies(g, r.ID)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		for _, subnet := range subnets {
			for _, svc := range v.RequiredEndpoints {
				ep, ok := served[subnet][svc]
				if ok && !containsId(deps, ep) {
					errs = errors.Join(errs, invalid(r.ID, construct.MetaDependsOn,
						"is placed in isolated subnet %s but is not created after its %s endpoint %s", subnet, svc, ep))
				}
			}
		}
	}
	return errs
}

type (
	keyView struct {
		AttributeName string `mapstructure:"AttributeName"`
		KeyType       string `mapstructure:"KeyType"`
	}

	tableView struct {
		AttributeDefinitions []struct {
			AttributeName string `mapstructure:"AttributeName"`
			AttributeType string `mapstructure:"AttributeType"`
		} `mapstructure:"AttributeDefinitions"`
		KeySchema              []keyView `mapstructure:"KeySchema"`
		GlobalSecondaryIndexes []struct {
			IndexName string    `mapstructure:"IndexName"`
			KeySchema []keyView `mapstructure:"KeySchema"`
		} `mapstructure:"GlobalSecondaryIndexes"`
	}
)

func hashKey(keys []keyView) string {
	for _, k := range keys {
		if k.KeyType == "HASH" {
			return k.AttributeName
		}
	}
	return ""
}

// checkTableKeys requires string key attributes and secondary indexes that do not shadow the table's key.
func checkTableKeys(_ GraphValidation, _ construct.Graph, rs []*construct.Resource) error {
	var errs error
	for _, r := range rs {
		if r.ID.Type != resources.DYNAMODB_TABLE_TYPE {
			continue
		}
		var t tableView
		if err := mapstructure.Decode(map[string]any(r.Properties), &t); err != nil {
			errs = errors.Join(errs, invalid(r.ID, "", "is malformed: %v", err))
			continue
		}
		types := make(map[string]string)
		for _, d := range t.AttributeDefinitions {
			types[d.AttributeName] = d.AttributeType
		}
		keyed := func(attr string, keys []keyView) {
			for _, k := range keys {
				switch typ, ok := types[k.AttributeName]; {
				case !ok:
					errs = errors.Join(errs, invalid(r.ID, attr, "key %s has no attribute definition", k.AttributeName))
				case typ != "S":
					errs = errors.Join(errs, invalid(r.ID, attr, "key %s must be a string attribute, is %s", k.AttributeName, typ))
				}
			}
		}
		keyed("KeySchema", t.KeySchema)
		tableHash := hashKey(t.KeySchema)
		seen := make(map[string]bool)
		for _, idx := range t.GlobalSecondaryIndexes {
			attr := "GlobalSecondaryIndexes." + idx.IndexName
			keyed(attr, idx.KeySchema)
			if seen[idx.IndexName] {
				errs = errors.Join(errs, invalid(r.ID, attr, "is declared more than once"))
			}
			seen[idx.IndexName] = true
			if h := hashKey(idx.KeySchema); h == "" || h == tableHash {
				errs = errors.Join(errs, invalid(r.ID, attr, "partition key %q must differ from the table's %q", h, tableHash))
			}
		}
	}
	return errs
}

func checkHealthProbes(_ GraphValidation, _ construct.Graph, rs []*construct.Resource) error {
	var errs error
	for _, r := range rs {
		if r.ID.Type != resources.ECS_TASK_DEFINITION_TYPE {
			continue
		}
		containers, _ := r.Properties["ContainerDefinitions"].([]any)
		for _, c := range containers {
			def, _ := c.(map[string]any)
			raw, ok := def["HealthCheck"]
			if !ok {
				continue
			}
			var probe resources.HealthProbe
			if err := mapstructure.Decode(raw, &probe); err != nil {
				errs = errors.Join(errs, invalid(r.ID, "HealthCheck", "is malformed: %v", err))
				continue
			}
			errs = errors.Join(errs, probe.Validate(r.ID))
		}
	}
	return errs
}

// checkServiceIngress rejects address-range ingress on the security groups of load-balanced services: their
// traffic must come through the load balancer.
func checkServiceIngress(_ GraphValidation, g construct.Graph, rs []*construct.Resource) error {
	var errs error
	for _, r := range rs {
		if r.ID.Type != resources.ECS_SERVICE_TYPE {
			continue
		}
		if lbs, _ := r.Properties["LoadBalancers"].([]any); len(lbs) == 0 {
			continue
		}
		groups, err := r.GetProperty("NetworkConfiguration.AwsvpcConfiguration.SecurityGroups")
		if err != nil {
			continue
		}
		list, _ := groups.([]any)
		for _, v := range list {
			ref, ok := v.(construct.Ref)
			if !ok {
				continue
			}
			sg, err := g.Vertex(ref.Resource)
			if err != nil {
				continue
			}
			ingress, _ := sg.Properties["SecurityGroupIngress"].([]any)
			for _, rule := range ingress {
				m, _ := rule.(map[string]any)
				if cidr, ok := m["CidrIp"]; ok {
					errs = errors.Join(errs, invalid(sg.ID, "SecurityGroupIngress",
						"admits %v but fronts load-balanced service %s", cidr, r.ID))
				}
			}
		}
	}
	return errs
}

func containsId(ids []construct.ResourceId, id construct.ResourceId) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}
