package provider

import (
	"encoding/json"
	"strings"

	"github.com/celerix-dev/assessment-bridge/pkg/schema"
)

const (
	// ResultVersion is the envelope version the host understands.
	ResultVersion = "1.0.0"
	// ActionKey identifies the single action this plugin declares.
	ActionKey = "createAssessment"
)

// Descriptor is the static plugin metadata returned on capability discovery.
type Descriptor struct {
	Version                     string        `json:"version"`
	Name                        string        `json:"name"`
	Actions                     []Action      `json:"actions"`
	WebhookProcessEndpoint      string        `json:"webhookProcessEndpoint"`
	WebhookAuthenticationHeader string        `json:"webhookAuthenticationHeader"`
	ConfigurationFormFields     []ConfigField `json:"configurationFormFields"`
}

type Action struct {
	Key          string    `json:"key"`
	Label        string    `json:"label"`
	MetaEndpoint string    `json:"metaEndpoint"`
	Mappings     []Mapping `json:"mappings"`
}

// Mapping pre-fills a form field from a host template variable.
type Mapping struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

type ConfigField struct {
	Key             string `json:"key"`
	Label           string `json:"label"`
	Description     string `json:"description,omitempty"`
	Placeholder     string `json:"placeholder,omitempty"`
	Required        bool   `json:"required"`
	Type            string `json:"type"`
	Sensitive       bool   `json:"sensitive,omitempty"`
	UseAsHTTPHeader string `json:"useAsHttpHeader"`
}

// Form is the dynamic form descriptor returned by the export endpoint.
type Form struct {
	ActionVersion  string      `json:"actionVersion"`
	Key            string      `json:"key"`
	Label          string      `json:"label"`
	Description    string      `json:"description"`
	FormFields     []FormField `json:"formFields"`
	SubmitEndpoint string      `json:"submitEndpoint"`
}

type FormField struct {
	Key                   string         `json:"key"`
	Label                 string         `json:"label"`
	Type                  string         `json:"type"`
	Required              bool           `json:"required,omitempty"`
	Readonly              bool           `json:"readonly,omitempty"`
	IncludeValueInRefetch bool           `json:"includeValueInRefetch,omitempty"`
	Placeholder           string         `json:"placeholder,omitempty"`
	Value                 *string        `json:"value,omitempty"`
	SingleSelectOptions   []SelectOption `json:"singleSelectOptions,omitzero"`
	Intent                string         `json:"intent,omitempty"`
	Description           string         `json:"description,omitempty"`
}

type SelectOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// KeyValue is one entry of the host's key/value field lists. Values arrive as
// strings or numbers depending on the field type.
type KeyValue struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// String renders the value as text. JSON strings are unquoted, null is empty
// and any other literal is returned as written.
func (kv KeyValue) String() string {
	raw := strings.TrimSpace(string(kv.Value))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(kv.Value, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return raw
}

// SubmitRequest is the host's create-assessment body.
type SubmitRequest struct {
	FormFields          []KeyValue `json:"formFields"`
	ConfigurationValues []KeyValue `json:"configurationValues,omitempty"`
}

// Field returns the value of the form field with the given key.
func (r SubmitRequest) Field(key string) string {
	return lookup(r.FormFields, key)
}

// ConfigValue returns the configuration value with the given key.
func (r SubmitRequest) ConfigValue(key string) string {
	return lookup(r.ConfigurationValues, key)
}

func lookup(list []KeyValue, key string) string {
	for _, kv := range list {
		if kv.Key == key {
			return kv.String()
		}
	}
	return ""
}

type Link struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	URL   string `json:"url"`
}

type Toast struct {
	Error string `json:"error,omitempty"`
}

// CreateSuccess is returned when the backend accepted the assessment.
type CreateSuccess struct {
	ResultVersion      string        `json:"resultVersion"`
	Key                string        `json:"key"`
	Success            bool          `json:"success"`
	AssessmentName     string        `json:"assessmentName"`
	Message            string        `json:"message"`
	Status             schema.Status `json:"status"`
	ExternalIdentifier string        `json:"externalIdentifier"`
	ExternalRecordURL  string        `json:"externalRecordUrl"`
	ExternalLinks      []Link        `json:"externalLinks"`
}

// CreateFailure carries a user-facing toast instead of the backend error.
type CreateFailure struct {
	ResultVersion string `json:"resultVersion"`
	Key           string `json:"key"`
	Success       bool   `json:"success"`
	Toast         Toast  `json:"toast"`
}

// WebhookEnvelope is the host-wrapped inbound webhook. Body holds the relay's
// JSON notification as a string.
type WebhookEnvelope struct {
	Body *string `json:"body"`
}

type AssessmentUpdate struct {
	ExternalIdentifier string        `json:"externalIdentifier"`
	Status             schema.Status `json:"status"`
	Score              *int          `json:"score"`
	ShouldNotify       bool          `json:"shouldNotify"`
	ExternalLinks      []Link        `json:"externalLinks"`
}

type WebhookResult struct {
	ResultVersion     string             `json:"resultVersion"`
	Success           bool               `json:"success"`
	UpdateAssessments []AssessmentUpdate `json:"updateAssessments"`
}
