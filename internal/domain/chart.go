package domain

// ChartSchemaVersion is the only visualization schema version accepted.
const ChartSchemaVersion = "v1"

// ChartSpec is a visualization produced by a run.
type ChartSpec struct {
	SchemaVersion string           `json:"schema_version" validate:"required,eq=v1"`
	ChartType     string           `json:"chart_type" validate:"required,oneof=bar line area pie scatter"`
	Title         string           `json:"title,omitempty"`
	XKey          string           `json:"x_key" validate:"required"`
	YKeys         []string         `json:"y_keys" validate:"required,min=1,dive,required"`
	Data          []map[string]any `json:"data" validate:"required,min=1"`
}
