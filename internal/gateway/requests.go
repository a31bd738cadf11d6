package gateway

import (
	"encoding/json"

	"github.com/stratumdb/stratum/internal/errors"
	"github.com/stratumdb/stratum/pkg/types"
)

// One request struct per operation, validated at the boundary before
// anything reaches the engine.

type fieldSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

type schemaRequest struct {
	Table  string `json:"table"`
	Schema struct {
		Fields []fieldSpec `json:"fields"`
	} `json:"schema"`
}

func (r *schemaRequest) validate() error {
	if r.Table == "" {
		return errors.NewMissingFieldError("table")
	}
	if len(r.Schema.Fields) == 0 {
		return errors.NewMissingFieldError("schema.fields")
	}
	return nil
}

func (r *schemaRequest) fieldDefs() ([]types.FieldDef, error) {
	defs := make([]types.FieldDef, 0, len(r.Schema.Fields))
	for _, f := range r.Schema.Fields {
		if f.Name == "" {
			return nil, errors.NewMissingFieldError("schema.fields[].name")
		}
		if f.Type == "" {
			return nil, errors.NewMissingFieldError("schema.fields[].type")
		}
		defs = append(defs, types.FieldDef{
			Name:     f.Name,
			Type:     types.FieldType(f.Type),
			Required: f.Required,
		})
	}
	return defs, nil
}

type insertRequest struct {
	Table string          `json:"table"`
	Data  json.RawMessage `json:"data"`
}

// rows returns the payload rows and whether the request carried an
// array (which changes the response shape).
func (r *insertRequest) rows() ([]map[string]any, bool, error) {
	if r.Table == "" {
		return nil, false, errors.NewMissingFieldError("table")
	}
	if len(r.Data) == 0 {
		return nil, false, errors.NewMissingFieldError("data")
	}

	var batch []map[string]any
	if err := json.Unmarshal(r.Data, &batch); err == nil {
		if len(batch) == 0 {
			return nil, true, errors.NewValidationError("data array cannot be empty")
		}
		return batch, true, nil
	}

	var single map[string]any
	if err := json.Unmarshal(r.Data, &single); err != nil {
		return nil, false, errors.New(errors.ErrCategoryValidation, errors.CodeInvalidJSON,
			"data must be an object or an array of objects")
	}
	return []map[string]any{single}, false, nil
}

type selectRequest struct {
	Table string `json:"table"`
	ID    *int64 `json:"id"`
}

func (r *selectRequest) validate() error {
	if r.Table == "" {
		return errors.NewMissingFieldError("table")
	}
	if r.ID == nil {
		return errors.NewMissingFieldError("id")
	}
	return nil
}

type updateRequest struct {
	Table      string         `json:"table"`
	ID         *int64         `json:"id"`
	Filters    map[string]any `json:"filters"`
	Operations map[string]any `json:"operations"`
}

func (r *updateRequest) validate() error {
	if r.Table == "" {
		return errors.NewMissingFieldError("table")
	}
	if len(r.Operations) == 0 {
		return errors.NewMissingFieldError("operations")
	}
	return nil
}

type deleteRequest struct {
	Table   string         `json:"table"`
	ID      *int64         `json:"id"`
	Filters map[string]any `json:"filters"`
}

func (r *deleteRequest) validate() error {
	if r.Table == "" {
		return errors.NewMissingFieldError("table")
	}
	return nil
}

type searchRequest struct {
	Table      string            `json:"table"`
	Filters    map[string]any    `json:"filters"`
	Sort       []types.SortField `json:"sort"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
	Aggregates map[string]any    `json:"aggregates"`
}

func (r *searchRequest) validate() error {
	if r.Table == "" {
		return errors.NewMissingFieldError("table")
	}
	if r.Limit < 0 {
		return errors.NewValidationError("limit cannot be negative")
	}
	if r.Offset < 0 {
		return errors.NewValidationError("offset cannot be negative")
	}
	return nil
}

type applyRequest struct {
	Version int  `json:"version"`
	DryRun  bool `json:"dry_run"`
}

type rollbackRequest struct {
	Version *int `json:"version"`
	DryRun  bool `json:"dry_run"`
}
