package core

import "strings"

// Field names produced by ExtractText
const (
	FieldColumnName   = "column_name"
	FieldTableName    = "table_name"
	FieldSchemaName   = "schema_name"
	FieldSampleValues = "sample_values"
	FieldDataType     = "data_type"
	FieldDescription  = "description"
	FieldName         = "name"
	FieldTags         = "tags"
	FieldSourceType   = "source_type"
	FieldHost         = "host"
)

// ExtractedText maps field names to the text eligible for pattern inspection
type ExtractedText map[string]string

// ExtractText returns the inspectable text fields of an entity. Empty fields
// are omitted so matchers never count them as checks. Unknown entity kinds
// produce an empty map.
func ExtractText(e *Entity) ExtractedText {
	text := ExtractedText{}
	if e == nil {
		return text
	}

	put := func(field, value string) {
		if strings.TrimSpace(value) != "" {
			text[field] = value
		}
	}

	switch e.Type {
	case EntityScanResult:
		put(FieldColumnName, e.ColumnName)
		put(FieldTableName, e.TableName)
		put(FieldSchemaName, e.SchemaName)
		put(FieldSampleValues, strings.Join(e.SampleValues, " "))
		put(FieldDataType, e.DataType)
		put(FieldDescription, e.Description)
	case EntityCatalogItem:
		put(FieldName, e.Name)
		put(FieldDescription, e.Description)
		put(FieldDataType, e.DataType)
		put(FieldTableName, e.TableName)
		put(FieldSchemaName, e.SchemaName)
		put(FieldTags, strings.Join(e.Tags, " "))
	case EntityDataSource:
		put(FieldName, e.Name)
		put(FieldDescription, e.Description)
		put(FieldSourceType, e.SourceType)
		put(FieldHost, e.Host)
	}

	return text
}

// Fields returns the field names in a stable order so matchers iterate
// deterministically
func (t ExtractedText) Fields() []string {
	order := []string{
		FieldColumnName,
		FieldTableName,
		FieldSchemaName,
		FieldName,
		FieldSampleValues,
		FieldDataType,
		FieldDescription,
		FieldTags,
		FieldSourceType,
		FieldHost,
	}

	fields := make([]string, 0, len(t))
	for _, f := range order {
		if _, ok := t[f]; ok {
			fields = append(fields, f)
		}
	}
	return fields
}
