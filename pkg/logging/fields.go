package logging

import (
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type resourceField struct {
	id construct.ResourceId
}

func (field resourceField) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", field.id.String())
	return nil
}

// ResourceField attaches a resource to log entries. The console encoder prints it as a prefix to the
// message, structured encoders as a `resource` object.
func ResourceField(id construct.ResourceId) zap.Field {
	return zap.Object("resource", resourceField{id: id})
}
