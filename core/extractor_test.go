package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractText(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		entity *Entity
		want   ExtractedText
	}{
		"scan result": {
			entity: &Entity{
				Type:         EntityScanResult,
				ColumnName:   "ssn_value",
				TableName:    "customer_ssn",
				SampleValues: []string{"123-45-6789", "987-65-4321"},
				DataType:     "varchar",
				Name:         "ignored for scan results",
			},
			want: ExtractedText{
				FieldColumnName:   "ssn_value",
				FieldTableName:    "customer_ssn",
				FieldSampleValues: "123-45-6789 987-65-4321",
				FieldDataType:     "varchar",
			},
		},
		"catalog item": {
			entity: &Entity{
				Type:        EntityCatalogItem,
				Name:        "customers",
				Description: "Customer master data",
				Tags:        []string{"pii", "gold"},
				SchemaName:  "crm",
			},
			want: ExtractedText{
				FieldName:        "customers",
				FieldDescription: "Customer master data",
				FieldSchemaName:  "crm",
				FieldTags:        "pii gold",
			},
		},
		"data source": {
			entity: &Entity{
				Type:       EntityDataSource,
				Name:       "billing",
				SourceType: "postgres",
				Host:       "db.internal",
				ColumnName: "ignored",
			},
			want: ExtractedText{
				FieldName:       "billing",
				FieldSourceType: "postgres",
				FieldHost:       "db.internal",
			},
		},
		"blank fields omitted": {
			entity: &Entity{Type: EntityScanResult, ColumnName: "email", TableName: "   "},
			want:   ExtractedText{FieldColumnName: "email"},
		},
		"unknown kind": {
			entity: &Entity{Type: "file", Name: "report.pdf"},
			want:   ExtractedText{},
		},
		"nil": {
			entity: nil,
			want:   ExtractedText{},
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ExtractText(tc.entity))
		})
	}
}

func TestExtractedTextFieldsOrder(t *testing.T) {
	t.Parallel()

	text := ExtractText(&Entity{
		Type:         EntityScanResult,
		Description:  "d",
		SampleValues: []string{"v"},
		ColumnName:   "c",
		TableName:    "t",
	})

	want := []string{FieldColumnName, FieldTableName, FieldSampleValues, FieldDescription}
	for range 5 {
		assert.Equal(t, want, text.Fields())
	}
}

func TestEntityPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "crm.customers.email",
		(&Entity{Type: EntityScanResult, SchemaName: "crm", TableName: "customers", ColumnName: "email"}).Path())
	assert.Equal(t, "customers.email",
		(&Entity{Type: EntityScanResult, TableName: "customers", ColumnName: "email"}).Path())
}
