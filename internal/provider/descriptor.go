package provider

import "github.com/celerix-dev/assessment-bridge/internal/vault"

const (
	actionLabel       = "Send to ExampleAssessments"
	actionDescription = "Sends a candidate to the internal ExampleAssessments system"

	metaEndpoint    = "/export"
	submitEndpoint  = "/create_assessment"
	webhookEndpoint = "/webhook"

	// BaseURLHeader carries the host's apiBaseURL configuration value.
	BaseURLHeader = "X_EXAMPLE_BASE_URL"

	baseURLConfigKey = "apiBaseURL"
)

// NewDescriptor returns the plugin metadata. apiKeyHeader is the header the
// host must use to forward the apiKey configuration value.
func NewDescriptor(name, apiKeyHeader string) Descriptor {
	return Descriptor{
		Version: ResultVersion,
		Name:    name,
		Actions: []Action{
			{
				Key:          ActionKey,
				Label:        actionLabel,
				MetaEndpoint: metaEndpoint,
				Mappings: []Mapping{
					{Key: "firstName", Label: "First Name", Value: "{{candidate_first_name}}"},
					{Key: "lastName", Label: "Last Name", Value: "{{candidate_last_name}}"},
				},
			},
		},
		WebhookProcessEndpoint:      webhookEndpoint,
		WebhookAuthenticationHeader: vault.SignatureHeader,
		ConfigurationFormFields: []ConfigField{
			{
				Key:             "apiKey",
				Label:           "API Key",
				Required:        true,
				Type:            "string",
				Sensitive:       true,
				UseAsHTTPHeader: apiKeyHeader,
			},
			{
				Key:             baseURLConfigKey,
				Label:           "Base URL",
				Description:     "Your Base URL for ExampleAssessments. Use `http://localhost:8000` if running the adapter locally.",
				Placeholder:     "http://localhost:8000",
				Required:        true,
				Type:            "string",
				UseAsHTTPHeader: BaseURLHeader,
			},
		},
	}
}
