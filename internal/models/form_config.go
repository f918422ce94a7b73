package models

import (
	"time"
)

// FormFieldConfig is one admin-defined field in a role's registration
// form. ID is the storage key the submitted value is kept under after
// normalization.
type FormFieldConfig struct {
	ID       string `json:"id"`       // e.g. "company_name"
	Label    string `json:"label"`    // e.g. "Company Name"
	Type     string `json:"type"`     // "text", "email", "number", "textarea"
	Required bool   `json:"required"`
}

// FormConfig is the registration form definition for one role. The
// normalized field IDs double as the write allow-list for saves.
type FormConfig struct {
	Role      Role              `json:"role"`
	Fields    []FormFieldConfig `json:"fields"`
	UpdatedAt time.Time         `json:"updated_at"`
}
