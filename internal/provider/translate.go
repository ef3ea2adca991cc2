package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/celerix-dev/assessment-bridge/pkg/engine"
	"github.com/celerix-dev/assessment-bridge/pkg/schema"
	"github.com/celerix-dev/assessment-bridge/pkg/sdk"
)

// PackageOptions maps the catalog to select options ordered by package id.
// The result is never nil.
func PackageOptions(pkgs map[int]string) []SelectOption {
	ids := make([]int, 0, len(pkgs))
	for id := range pkgs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	options := make([]SelectOption, 0, len(ids))
	for _, id := range ids {
		options = append(options, SelectOption{Label: pkgs[id], Value: strconv.Itoa(id)})
	}
	return options
}

// ExportForm assembles the candidate form around the given test options.
func ExportForm(options []SelectOption) Form {
	if options == nil {
		options = []SelectOption{}
	}
	empty := ""
	return Form{
		ActionVersion: ResultVersion,
		Key:           ActionKey,
		Label:         actionLabel,
		Description:   actionDescription,
		FormFields: []FormField{
			{
				Key:                 "selectedTest",
				Label:               "Selected Test",
				Placeholder:         "Select test...",
				Type:                "string",
				Required:            true,
				Value:               &empty,
				SingleSelectOptions: options,
			},
			{Key: "firstName", Label: "First Name", Type: "string", Required: true, IncludeValueInRefetch: true},
			{Key: "lastName", Label: "Last Name", Type: "string", Required: true},
			{Key: "email", Label: "Email", Type: "string", Required: true},
		},
		SubmitEndpoint: submitEndpoint,
	}
}

// UnauthorizedForm is the degraded form shown when the shared secret is
// missing or wrong. It holds a single warning callout.
func UnauthorizedForm() Form {
	return Form{
		ActionVersion: ResultVersion,
		Key:           ActionKey,
		Label:         actionLabel,
		Description:   actionDescription,
		FormFields: []FormField{
			{
				Key:         "apiKeyCallout",
				Label:       "No API Key",
				Type:        "callout",
				Intent:      "danger",
				Description: "No valid API Key provided in configuration. Please update the configuration with a valid API Key.",
			},
		},
		SubmitEndpoint: submitEndpoint,
	}
}

// BuildCreateRequest turns the host's field list into a backend creation
// payload. The candidate name is "<firstName> <lastName>".
func BuildCreateRequest(req SubmitRequest, webhookURL, platformURL string) (schema.CreateRequest, error) {
	first := req.Field("firstName")
	last := req.Field("lastName")
	email := req.Field("email")
	test := req.Field("selectedTest")

	for _, f := range []struct{ key, val string }{
		{"firstName", first},
		{"email", email},
		{"selectedTest", test},
	} {
		if f.val == "" {
			return schema.CreateRequest{}, fmt.Errorf("%w: missing field %s", sdk.ErrMalformedPayload, f.key)
		}
	}

	packageID, err := strconv.Atoi(test)
	if err != nil {
		return schema.CreateRequest{}, fmt.Errorf("%w: selectedTest %q is not a package id", engine.ErrInvalidPackage, test)
	}

	return schema.CreateRequest{
		Name:        strings.TrimSpace(first + " " + last),
		Email:       email,
		PackageID:   packageID,
		WebhookURL:  webhookURL,
		PlatformURL: platformURL,
	}, nil
}

// RecordURL is the backend page of a record.
func RecordURL(publicURL, id string) string {
	return strings.TrimRight(publicURL, "/") + "/assessments/" + id
}

// Success builds the host envelope for a created record.
func Success(rec schema.Assessment, publicURL string) CreateSuccess {
	url := RecordURL(publicURL, rec.ID)
	msg := strings.Join([]string{
		fmt.Sprintf("Assessment created for %s.", rec.Name),
		"Test: " + rec.Description,
		"Status: " + string(rec.Status),
		"Assessment link: " + url,
	}, "\n")
	return CreateSuccess{
		ResultVersion:      ResultVersion,
		Key:                ActionKey,
		Success:            true,
		AssessmentName:     rec.Description,
		Message:            msg,
		Status:             rec.Status,
		ExternalIdentifier: rec.ID,
		ExternalRecordURL:  url,
		ExternalLinks:      []Link{{Key: "assessment", Label: "View Assessment", URL: url}},
	}
}

// Failure builds the host error envelope. Callers pass ToastFor(err), never
// the error text.
func Failure(toast string) CreateFailure {
	return CreateFailure{
		ResultVersion: ResultVersion,
		Key:           ActionKey,
		Success:       false,
		Toast:         Toast{Error: toast},
	}
}

// ToastFor maps a creation error to a user-facing message.
func ToastFor(err error) string {
	switch {
	case errors.Is(err, sdk.ErrUnauthorized):
		return "No valid API Key provided in configuration. Please update the configuration with a valid API Key."
	case errors.Is(err, engine.ErrInvalidPackage):
		return "The selected test is not available. Please select another test."
	case errors.Is(err, sdk.ErrMalformedPayload):
		return "Please fill in all required fields."
	case errors.Is(err, sdk.ErrPeerUnreachable):
		return "ExampleAssessments is currently unreachable. Please try again later."
	default:
		return "The assessment could not be created. Please try again later."
	}
}

// DecodeWebhook unwraps an inbound webhook. The host wraps the relay's
// notification as a JSON string under "body"; an unwrapped notification is
// accepted as-is. It returns the notification and the bytes it was decoded
// from, which are what the relay signed.
func DecodeWebhook(raw []byte) (schema.Notification, []byte, error) {
	var env WebhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return schema.Notification{}, nil, fmt.Errorf("%w: %v", sdk.ErrMalformedPayload, err)
	}

	inner := raw
	if env.Body != nil {
		inner = []byte(*env.Body)
	}

	var n schema.Notification
	if err := json.Unmarshal(inner, &n); err != nil {
		return schema.Notification{}, nil, fmt.Errorf("%w: body: %v", sdk.ErrMalformedPayload, err)
	}
	if n.ID == "" {
		return schema.Notification{}, nil, fmt.Errorf("%w: missing id", sdk.ErrMalformedPayload)
	}
	if !n.Status.Valid() {
		return schema.Notification{}, nil, fmt.Errorf("%w: invalid status %q", sdk.ErrMalformedPayload, n.Status)
	}
	return n, inner, nil
}

// UpdateFor maps a relay notification to the host's updateAssessments schema.
func UpdateFor(n schema.Notification, publicURL string) WebhookResult {
	path := n.ReportPath
	if path == "" {
		path = schema.ReportPath(n.ID)
	}
	url := strings.TrimRight(publicURL, "/") + "/assessments/" + strings.TrimLeft(path, "/")

	return WebhookResult{
		ResultVersion: ResultVersion,
		Success:       true,
		UpdateAssessments: []AssessmentUpdate{
			{
				ExternalIdentifier: n.ID,
				Status:             n.Status,
				Score:              n.Score,
				ShouldNotify:       true,
				ExternalLinks:      []Link{{Key: "report", Label: "View Report", URL: url}},
			},
		},
	}
}
