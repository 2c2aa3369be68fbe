package overlay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/formbot/formbot/pkg/models"
	"github.com/formbot/formbot/pkg/selector"
)

// InboundKind identifies which callback a page-side payload arrived on.
type InboundKind string

const (
	InboundReady        InboundKind = "ready"
	InboundSelected     InboundKind = "field_selected"
	InboundAdded        InboundKind = "field_added"
	InboundRemoved      InboundKind = "field_removed"
	InboundValueChanged InboundKind = "field_value_changed"
	InboundAmbiguous    InboundKind = "selector_ambiguous"
)

// ReadyPayload is emitted once the overlay finishes installing on a page.
type ReadyPayload struct {
	FieldCount int    `json:"field_count"`
	PageURL    string `json:"page_url"`
}

// SelectedPayload describes a click on an already-tracked field.
type SelectedPayload struct {
	FieldIndex   int    `json:"field_index"`
	Selector     string `json:"selector"`
	FieldName    string `json:"field_name"`
	FieldType    string `json:"field_type"`
	FieldPurpose string `json:"field_purpose"`
	CurrentValue string `json:"current_value"`
}

// AddedPayload describes a click on an untracked element in add mode.
type AddedPayload struct {
	Selector       string               `json:"selector"`
	FieldName      string               `json:"field_name"`
	FieldType      string               `json:"field_type"`
	FieldPurpose   string               `json:"field_purpose"`
	Options        []models.FieldOption `json:"options"`
	FormSelector   string               `json:"form_selector"`
	SubmitSelector string               `json:"submit_selector"`
}

// RemovedPayload describes a click on a tracked field in remove mode.
type RemovedPayload struct {
	FieldIndex int    `json:"field_index"`
	Selector   string `json:"selector"`
}

// ValueChangedPayload reports a live edit of a tracked field's value.
type ValueChangedPayload struct {
	FieldIndex int    `json:"field_index"`
	Selector   string `json:"selector"`
	Value      string `json:"value"`
}

// AmbiguousPayload reports that the overlay could not generate a unique
// selector for a clicked element. It carries the element descriptor and field
// metadata so the host can retry generation against the live page and still
// track the field.
type AmbiguousPayload struct {
	Tag            string                 `json:"tag"`
	ID             string                 `json:"id,omitempty"`
	Attributes     map[string]string      `json:"attributes,omitempty"`
	FormSelector   string                 `json:"form_selector,omitempty"`
	Path           []selector.PathSegment `json:"path,omitempty"`
	FieldName      string                 `json:"field_name,omitempty"`
	FieldType      string                 `json:"field_type,omitempty"`
	FieldPurpose   string                 `json:"field_purpose,omitempty"`
	Options        []models.FieldOption   `json:"options,omitempty"`
	SubmitSelector string                 `json:"submit_selector,omitempty"`
}

// InboundEvent is the validated, decoded form of a page-side callback. Exactly
// one of the pointer members is non-nil, matching Kind.
type InboundEvent struct {
	Kind         InboundKind
	Ready        *ReadyPayload
	Selected     *SelectedPayload
	Added        *AddedPayload
	Removed      *RemovedPayload
	ValueChanged *ValueChangedPayload
	Ambiguous    *AmbiguousPayload
}

const (
	readySchema = `{
		"type": "object",
		"required": ["field_count", "page_url"],
		"properties": {
			"field_count": {"type": "integer", "minimum": 0},
			"page_url": {"type": "string"}
		}
	}`

	selectedSchema = `{
		"type": "object",
		"required": ["field_index", "selector"],
		"properties": {
			"field_index": {"type": "integer", "minimum": 0},
			"selector": {"type": "string", "minLength": 1},
			"field_name": {"type": "string"},
			"field_type": {"type": "string"},
			"field_purpose": {"type": "string"},
			"current_value": {"type": "string"}
		}
	}`

	addedSchema = `{
		"type": "object",
		"required": ["selector", "field_type"],
		"properties": {
			"selector": {"type": "string", "minLength": 1},
			"field_name": {"type": "string"},
			"field_type": {"type": "string", "minLength": 1},
			"field_purpose": {"type": "string"},
			"options": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["value"],
					"properties": {
						"value": {"type": "string"},
						"label": {"type": "string"}
					}
				}
			},
			"form_selector": {"type": "string"},
			"submit_selector": {"type": "string"}
		}
	}`

	removedSchema = `{
		"type": "object",
		"required": ["field_index", "selector"],
		"properties": {
			"field_index": {"type": "integer", "minimum": 0},
			"selector": {"type": "string", "minLength": 1}
		}
	}`

	valueChangedSchema = `{
		"type": "object",
		"required": ["field_index", "selector", "value"],
		"properties": {
			"field_index": {"type": "integer", "minimum": 0},
			"selector": {"type": "string", "minLength": 1},
			"value": {"type": "string"}
		}
	}`

	ambiguousSchema = `{
		"type": "object",
		"required": ["tag"],
		"properties": {
			"tag": {"type": "string", "minLength": 1},
			"id": {"type": "string"},
			"attributes": {
				"type": "object",
				"additionalProperties": {"type": "string"}
			},
			"form_selector": {"type": "string"},
			"path": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["tag"],
					"properties": {
						"tag": {"type": "string", "minLength": 1},
						"nth_of_type": {"type": "integer", "minimum": 1}
					}
				}
			},
			"field_name": {"type": "string"},
			"field_type": {"type": "string"},
			"field_purpose": {"type": "string"},
			"options": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["value"],
					"properties": {
						"value": {"type": "string"},
						"label": {"type": "string"}
					}
				}
			},
			"submit_selector": {"type": "string"}
		}
	}`
)

var schemas = map[InboundKind]*gojsonschema.Schema{}

func init() {
	raw := map[InboundKind]string{
		InboundReady:        readySchema,
		InboundSelected:     selectedSchema,
		InboundAdded:        addedSchema,
		InboundRemoved:      removedSchema,
		InboundValueChanged: valueChangedSchema,
		InboundAmbiguous:    ambiguousSchema,
	}
	for kind, src := range raw {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			panic(fmt.Sprintf("overlay: invalid %s schema: %v", kind, err))
		}
		schemas[kind] = schema
	}
}

// DecodeInbound validates raw JSON delivered on a page callback against the
// schema for kind, then decodes it. Malformed payloads never reach the draft.
func DecodeInbound(kind InboundKind, raw string) (*InboundEvent, error) {
	schema, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("unknown inbound kind %q", kind)
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validating %s payload: %w", kind, err)
	}
	if !result.Valid() {
		var reasons []string
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return nil, fmt.Errorf("invalid %s payload: %s", kind, strings.Join(reasons, "; "))
	}

	event := &InboundEvent{Kind: kind}
	var target any
	switch kind {
	case InboundReady:
		event.Ready = &ReadyPayload{}
		target = event.Ready
	case InboundSelected:
		event.Selected = &SelectedPayload{}
		target = event.Selected
	case InboundAdded:
		event.Added = &AddedPayload{}
		target = event.Added
	case InboundRemoved:
		event.Removed = &RemovedPayload{}
		target = event.Removed
	case InboundValueChanged:
		event.ValueChanged = &ValueChangedPayload{}
		target = event.ValueChanged
	case InboundAmbiguous:
		event.Ambiguous = &AmbiguousPayload{}
		target = event.Ambiguous
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", kind, err)
	}
	return event, nil
}
