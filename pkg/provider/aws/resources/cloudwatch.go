package resources

import (
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"github.com/klothoplatform/free-courses-infra/pkg/sanitization/aws"
	"github.com/klothoplatform/free-courses-infra/pkg/stack"
)

type (
	LogGroup struct {
		ID   construct.ResourceId
		Name string
	}

	LogGroupCreateParams struct {
		Name            string
		RetentionInDays int
	}
)

func (lg *LogGroup) Ref() construct.Ref {
	return construct.RefOf(lg.ID)
}

func (lg *LogGroup) Arn() construct.Ref {
	return construct.AttrOf(lg.ID, "Arn")
}

func CreateLogGroup(b *stack.Builder, params LogGroupCreateParams) (*LogGroup, error) {
	lg := &LogGroup{
		ID:   id(LOG_GROUP_TYPE, params.Name),
		Name: b.PhysicalName(aws.CloudwatchLogGroupSanitizer, params.Name),
	}
	r := construct.CreateResource(lg.ID)
	r.Properties["LogGroupName"] = lg.Name
	if params.RetentionInDays > 0 {
		r.Properties["RetentionInDays"] = params.RetentionInDays
	}
	return lg, b.Add(r)
}
