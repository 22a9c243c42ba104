// Package fhir provides a read-only client for FHIR R4 APIs.
package fhir

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sdesani/mcp-server-collection/internal/api"
	"github.com/sdesani/mcp-server-collection/internal/config"
	"github.com/sdesani/mcp-server-collection/internal/output"
)

// maxCount caps _count per the FHIR search spec.
const maxCount = 100

// Client queries a single FHIR R4 tenant. All operations are GETs carrying
// a bearer token supplied by the underlying HTTP client.
type Client struct {
	baseURL  string
	tenantID string
	http     *api.Client
}

// NewClient creates a FHIR client. httpClient must be configured with a
// token source and the FHIR Accept header.
func NewClient(baseURL, tenantID string, httpClient *api.Client) *Client {
	return &Client{
		baseURL:  config.NormalizeBaseURL(baseURL),
		tenantID: tenantID,
		http:     httpClient,
	}
}

// get requests {base}/{tenant}/{endpoint} and passes the FHIR payload through.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	u := fmt.Sprintf("%s/%s/%s", c.baseURL, c.tenantID, endpoint)
	resp, err := c.http.Get(ctx, u, params)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// setCount applies the _count search parameter, capped at maxCount.
func setCount(params url.Values, count int) {
	if count > 0 {
		params.Set("_count", strconv.Itoa(min(count, maxCount)))
	}
}

// PatientByID retrieves a single Patient resource.
func (c *Client) PatientByID(ctx context.Context, patientID string) (json.RawMessage, error) {
	if patientID == "" {
		return nil, output.ErrValidation("patient_id is required")
	}
	return c.get(ctx, "Patient/"+url.PathEscape(patientID), nil)
}

// SearchPatientsByName searches patients by given and/or family name.
// At least one name part is required.
func (c *Client) SearchPatientsByName(ctx context.Context, givenName, familyName string, count int) (json.RawMessage, error) {
	if givenName == "" && familyName == "" {
		return nil, output.ErrValidation(
			"At least one search parameter (given_name or family_name) must be provided")
	}

	params := url.Values{}
	if givenName != "" {
		params.Set("given", givenName)
	}
	if familyName != "" {
		params.Set("family", familyName)
	}
	setCount(params, count)
	return c.get(ctx, "Patient", params)
}

// SearchPatientsByIdentifier searches patients by a typed identifier (MRN, SSN, ...).
func (c *Client) SearchPatientsByIdentifier(ctx context.Context, identifierType, identifierValue string, count int) (json.RawMessage, error) {
	if identifierType == "" || identifierValue == "" {
		return nil, output.ErrValidation("Both identifier_type and identifier_value are required")
	}

	params := url.Values{}
	params.Set("identifier", identifierType+"|"+identifierValue)
	setCount(params, count)
	return c.get(ctx, "Patient", params)
}

// SearchPatientsByBirthdate searches patients by birth date (YYYY-MM-DD).
func (c *Client) SearchPatientsByBirthdate(ctx context.Context, birthdate string, count int) (json.RawMessage, error) {
	if _, err := time.Parse("2006-01-02", birthdate); err != nil {
		return nil, output.ErrValidationHint(
			"Invalid birthdate",
			"Use YYYY-MM-DD format",
		)
	}

	params := url.Values{}
	params.Set("birthdate", birthdate)
	setCount(params, count)
	return c.get(ctx, "Patient", params)
}

// SearchPatientsByPhone searches patients by phone number.
func (c *Client) SearchPatientsByPhone(ctx context.Context, phoneNumber string, count int) (json.RawMessage, error) {
	if phoneNumber == "" {
		return nil, output.ErrValidation("phone_number is required")
	}

	params := url.Values{}
	params.Set("phone", phoneNumber)
	setCount(params, count)
	return c.get(ctx, "Patient", params)
}

// SearchPatientsByEmail searches patients by email address.
func (c *Client) SearchPatientsByEmail(ctx context.Context, email string, count int) (json.RawMessage, error) {
	if email == "" {
		return nil, output.ErrValidation("email is required")
	}

	params := url.Values{}
	params.Set("email", email)
	setCount(params, count)
	return c.get(ctx, "Patient", params)
}

// SearchPatientsByAddress searches patients by address components.
// At least one component is required.
func (c *Client) SearchPatientsByAddress(ctx context.Context, postalCode, city, state string, count int) (json.RawMessage, error) {
	params := url.Values{}
	if postalCode != "" {
		params.Set("address-postalcode", postalCode)
	}
	if city != "" {
		params.Set("address-city", city)
	}
	if state != "" {
		params.Set("address-state", state)
	}
	if len(params) == 0 {
		return nil, output.ErrValidation(
			"At least one address parameter (postal_code, city, or state) must be provided")
	}

	setCount(params, count)
	return c.get(ctx, "Patient", params)
}

// PatientObservations retrieves Observation resources for a patient.
func (c *Client) PatientObservations(ctx context.Context, patientID string, count int) (json.RawMessage, error) {
	if patientID == "" {
		return nil, output.ErrValidation("patient_id is required")
	}

	params := url.Values{}
	params.Set("subject", "Patient/"+patientID)
	setCount(params, count)
	return c.get(ctx, "Observation", params)
}

// PatientConditions retrieves Condition resources for a patient.
func (c *Client) PatientConditions(ctx context.Context, patientID string, count int) (json.RawMessage, error) {
	if patientID == "" {
		return nil, output.ErrValidation("patient_id is required")
	}

	params := url.Values{}
	params.Set("patient", "Patient/"+patientID)
	setCount(params, count)
	return c.get(ctx, "Condition", params)
}

// PatientMedications retrieves MedicationRequest resources for a patient.
func (c *Client) PatientMedications(ctx context.Context, patientID string, count int) (json.RawMessage, error) {
	if patientID == "" {
		return nil, output.ErrValidation("patient_id is required")
	}

	params := url.Values{}
	params.Set("patient", "Patient/"+patientID)
	setCount(params, count)
	return c.get(ctx, "MedicationRequest", params)
}

// Capabilities retrieves the server capability statement.
func (c *Client) Capabilities(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "metadata", nil)
}
