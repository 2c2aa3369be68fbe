package models

// FieldType is the input kind of a tracked page element.
type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypePassword    FieldType = "password"
	FieldTypeEmail       FieldType = "email"
	FieldTypeTel         FieldType = "tel"
	FieldTypeNumber      FieldType = "number"
	FieldTypeSearch      FieldType = "search"
	FieldTypeSelect      FieldType = "select"
	FieldTypeCheckbox    FieldType = "checkbox"
	FieldTypeRadio       FieldType = "radio"
	FieldTypeFile        FieldType = "file"
	FieldTypeHidden      FieldType = "hidden"
	FieldTypeTextarea    FieldType = "textarea"
	FieldTypeSubmit      FieldType = "submit"
	FieldTypeButton      FieldType = "button"
	FieldTypeContentEdit FieldType = "contenteditable"
)

// FieldPurpose is a heuristic semantic tag detected from tag/name/placeholder.
type FieldPurpose string

const (
	PurposeUsername FieldPurpose = "username"
	PurposePassword FieldPurpose = "password"
	PurposeEmail    FieldPurpose = "email"
	PurposePhone    FieldPurpose = "phone"
	PurposeSearch   FieldPurpose = "search"
	PurposeGeneric  FieldPurpose = "generic"
)

// FieldOption is one enumerated choice for select/radio/checkbox fields.
type FieldOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Field is one trackable, fillable page element with a stable selector.
// PresetValue is opaque to the engine; when IsSensitive it is encrypted at
// rest and decrypted just-in-time by an external capability while filling.
type Field struct {
	ID           string        `json:"id"`
	Name         string        `json:"field_name"     validate:"required"`
	Type         FieldType     `json:"field_type"     validate:"required"`
	Selector     string        `json:"field_selector" validate:"required"`
	Purpose      FieldPurpose  `json:"field_purpose,omitempty"`
	PresetValue  *string       `json:"preset_value,omitempty"`
	IsSensitive  bool          `json:"is_sensitive"`
	IsRequired   bool          `json:"is_required"`
	IsFileUpload bool          `json:"is_file_upload"`
	Options      []FieldOption `json:"options,omitempty"`
	SortOrder    int           `json:"sort_order"`
}

// HasPreset reports whether the field carries a value to fill. Fields with no
// preset are skipped during execution with a logged "no preset" outcome.
func (f *Field) HasPreset() bool {
	return f.PresetValue != nil
}
