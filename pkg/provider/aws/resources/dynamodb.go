package resources

import (
	"fmt"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/sanitization/aws"
	"github.com/klothoplatform/free-courses-infra/pkg/stack"
)

// RetentionPolicy decides what happens to a table's data when the table leaves the stack.
type RetentionPolicy string

const (
	RetainOnDelete  RetentionPolicy = "retain"
	DestroyOnDelete RetentionPolicy = "delete"

	stringAttribute = "S"
)

type (
	DynamodbTable struct {
		ID           construct.ResourceId
		Name         string
		PartitionKey string
		SortKey      string
		Indexes      []*SecondaryIndex
	}

	SecondaryIndex struct {
		Name         string
		PartitionKey string
		SortKey      string
	}

	TableCreateParams struct {
		Name         string
		PartitionKey string
		SortKey      string
		Retention    RetentionPolicy
	}

	IndexCreateParams struct {
		Name         string
		PartitionKey string
		SortKey      string
	}
)

func (t *DynamodbTable) Ref() construct.Ref {
	return construct.RefOf(t.ID)
}

func (t *DynamodbTable) Arn() construct.Ref {
	return construct.AttrOf(t.ID, "Arn")
}

// CreateTable declares an on-demand table keyed by string attributes.
func CreateTable(b *stack.Builder, params TableCreateParams) (*DynamodbTable, error) {
	table := &DynamodbTable{
		ID:           id(DYNAMODB_TABLE_TYPE, params.Name),
		Name:         b.PhysicalName(aws.DynamodbTableSanitizer, params.Name),
		PartitionKey: params.PartitionKey,
		SortKey:      params.SortKey,
	}
	if params.PartitionKey == "" {
		return nil, engine_errs.ValidationError{Resource: table.ID, Attribute: "KeySchema", Reason: "requires a partition key"}
	}
	if params.PartitionKey == params.SortKey {
		return nil, engine_errs.ValidationError{
			Resource:  table.ID,
			Attribute: "KeySchema",
			Reason:    fmt.Sprintf("partition and sort key are both %q", params.PartitionKey),
		}
	}

	r := construct.CreateResource(table.ID)
	r.Properties = construct.Properties{
		"TableName":            table.Name,
		"BillingMode":          "PAY_PER_REQUEST",
		"AttributeDefinitions": []any{attributeDefinition(params.PartitionKey)},
		"KeySchema":            keySchema(params.PartitionKey, params.SortKey),
		"Tags":                 b.Tags(table.Name),
	}
	if params.SortKey != "" {
		_ = r.AppendProperty("AttributeDefinitions", attributeDefinition(params.SortKey))
	}

	switch params.Retention {
	case RetainOnDelete, "":
		r.Meta = construct.Properties{
			construct.MetaDeletionPolicy:      "Retain",
			construct.MetaUpdateReplacePolicy: "Retain",
		}
	case DestroyOnDelete:
		r.Meta = construct.Properties{
			construct.MetaDeletionPolicy:      "Delete",
			construct.MetaUpdateReplacePolicy: "Delete",
		}
	default:
		return nil, engine_errs.ValidationError{
			Resource:  table.ID,
			Attribute: construct.MetaDeletionPolicy,
			Reason:    fmt.Sprintf("unknown retention policy %q", params.Retention),
		}
	}
	return table, b.Add(r)
}

// AddSecondaryIndex adds a global secondary index projecting all attributes. The index may reuse the table's
// key attributes, but not as the same key pair, and not with the table's partition key.
func AddSecondaryIndex(b *stack.Builder, table *DynamodbTable, params IndexCreateParams) (*SecondaryIndex, error) {
	if table == nil {
		return nil, undeclared(id(DYNAMODB_TABLE_TYPE, ""), fmt.Sprintf("GlobalSecondaryIndexes[%s]", params.Name), "table")
	}
	attr := fmt.Sprintf("GlobalSecondaryIndexes[%s]", params.Name)
	switch {
	case params.Name == "":
		return nil, engine_errs.ValidationError{Resource: table.ID, Attribute: "GlobalSecondaryIndexes", Reason: "index name is required"}
	case params.PartitionKey == "":
		return nil, engine_errs.ValidationError{Resource: table.ID, Attribute: attr, Reason: "requires a partition key"}
	case params.PartitionKey == params.SortKey:
		return nil, engine_errs.ValidationError{Resource: table.ID, Attribute: attr, Reason: "partition and sort key are the same"}
	case params.PartitionKey == table.PartitionKey:
		return nil, engine_errs.ValidationError{
			Resource:  table.ID,
			Attribute: attr,
			Reason:    fmt.Sprintf("partition key %q collides with the table partition key", params.PartitionKey),
		}
	}
	for _, existing := range table.Indexes {
		if existing.Name == params.Name {
			return nil, engine_errs.ValidationError{Resource: table.ID, Attribute: attr, Reason: "declared more than once"}
		}
	}

	idx := &SecondaryIndex{Name: params.Name, PartitionKey: params.PartitionKey, SortKey: params.SortKey}
	err := b.Update(table.ID, func(r *construct.Resource) error {
		defined := make(map[string]bool)
		current, _ := r.Properties["AttributeDefinitions"].([]any)
		for _, def := range current {
			if m, ok := def.(map[string]any); ok {
				name, _ := m["AttributeName"].(string)
				defined[name] = true
			}
		}
		for _, key := range []string{params.PartitionKey, params.SortKey} {
			if key == "" || defined[key] {
				continue
			}
			if err := r.AppendProperty("AttributeDefinitions", attributeDefinition(key)); err != nil {
				return err
			}
		}
		return r.AppendProperty("GlobalSecondaryIndexes", map[string]any{
			"IndexName":  params.Name,
			"KeySchema":  keySchema(params.PartitionKey, params.SortKey),
			"Projection": map[string]any{"ProjectionType": "ALL"},
		})
	})
	if err != nil {
		return nil, err
	}
	table.Indexes = append(table.Indexes, idx)
	return idx, nil
}

func attributeDefinition(name string) map[string]any {
	return map[string]any{"AttributeName": name, "AttributeType": stringAttribute}
}

func keySchema(partition, sort string) []any {
	schema := []any{map[string]any{"AttributeName": partition, "KeyType": "HASH"}}
	if sort != "" {
		schema = append(schema, map[string]any{"AttributeName": sort, "KeyType": "RANGE"})
	}
	return schema
}
