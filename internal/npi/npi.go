// Package npi provides a client for the NPPES NPI Registry API.
package npi

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/sdesani/mcp-server-collection/internal/api"
	"github.com/sdesani/mcp-server-collection/internal/output"
)

// apiVersion is the NPPES API version sent with every request.
const apiVersion = "2.1"

// defaultLimit matches the registry's own default page size.
const defaultLimit = 10

var npiNumberRe = regexp.MustCompile(`^\d{10}$`)

// Client queries the NPI Registry. The registry is public; no authorization.
type Client struct {
	baseURL string
	http    *api.Client
}

// NewClient creates an NPI Registry client.
func NewClient(baseURL string, httpClient *api.Client) *Client {
	if httpClient == nil {
		httpClient = api.New(api.Options{})
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
	}
}

// SearchResponse is an upstream search payload plus the parsed result count.
type SearchResponse struct {
	Raw   json.RawMessage
	Count int
}

// search performs a registry query and counts the results array.
func (c *Client) search(ctx context.Context, params url.Values) (*SearchResponse, error) {
	params.Set("version", apiVersion)

	resp, err := c.http.Get(ctx, c.baseURL, params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []json.RawMessage `json:"results"`
	}
	// Count is best effort; an unexpected payload shape still passes through.
	_ = json.Unmarshal(resp.Data, &payload)

	return &SearchResponse{Raw: resp.Data, Count: len(payload.Results)}, nil
}

// ValidateNumber checks the 10-digit NPI format.
func ValidateNumber(number string) error {
	if !npiNumberRe.MatchString(number) {
		return output.ErrValidationHint(
			"Invalid NPI number",
			"An NPI is exactly 10 digits",
		)
	}
	return nil
}

// SearchByNumber looks up a provider by NPI number.
func (c *Client) SearchByNumber(ctx context.Context, number string) (*SearchResponse, error) {
	if err := ValidateNumber(number); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("number", number)
	return c.search(ctx, params)
}

// SearchOptions narrows a registry search. A zero Limit means the registry
// default of 10 results.
type SearchOptions struct {
	City  string
	State string
	Limit int
}

func (o SearchOptions) apply(params url.Values) {
	if o.City != "" {
		params.Set("city", o.City)
	}
	if o.State != "" {
		params.Set("state", o.State)
	}
	limit := o.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	params.Set("limit", strconv.Itoa(limit))
}

// SearchByName searches individual providers by name, optionally filtered by location.
func (c *Client) SearchByName(ctx context.Context, firstName, lastName string, opts SearchOptions) (*SearchResponse, error) {
	if firstName == "" || lastName == "" {
		return nil, output.ErrValidation("Both first_name and last_name are required")
	}

	params := url.Values{}
	params.Set("first_name", firstName)
	params.Set("last_name", lastName)
	opts.apply(params)
	return c.search(ctx, params)
}

// SearchByTaxonomy searches providers by specialty description, optionally
// filtered by location.
func (c *Client) SearchByTaxonomy(ctx context.Context, taxonomy string, opts SearchOptions) (*SearchResponse, error) {
	if taxonomy == "" {
		return nil, output.ErrValidation("taxonomy_description is required")
	}

	params := url.Values{}
	params.Set("taxonomy_description", taxonomy)
	opts.apply(params)
	return c.search(ctx, params)
}

// SearchByOrganization searches organization providers by name, optionally
// filtered by location.
func (c *Client) SearchByOrganization(ctx context.Context, organization string, opts SearchOptions) (*SearchResponse, error) {
	if organization == "" {
		return nil, output.ErrValidation("organization_name is required")
	}

	params := url.Values{}
	params.Set("organization_name", organization)
	opts.apply(params)
	return c.search(ctx, params)
}

// ProviderDetails is the condensed provider record returned by GetProviderDetails.
type ProviderDetails struct {
	BasicInfo   BasicInfo         `json:"basic_info"`
	Addresses   []json.RawMessage `json:"addresses"`
	Taxonomies  []json.RawMessage `json:"taxonomies"`
	Identifiers []json.RawMessage `json:"identifiers"`
	OtherNames  []json.RawMessage `json:"other_names"`
}

// BasicInfo is the flattened basic section of a provider record.
type BasicInfo struct {
	NPI               json.Number `json:"npi"`
	EntityType        string      `json:"entity_type"`
	Name              string      `json:"name"`
	OrganizationName  string      `json:"organization_name,omitempty"`
	Credential        string      `json:"credential,omitempty"`
	SoleProprietor    string      `json:"sole_proprietor,omitempty"`
	Gender            string      `json:"gender,omitempty"`
	EnumerationDate   string      `json:"enumeration_date,omitempty"`
	LastUpdated       string      `json:"last_updated,omitempty"`
	CertificationDate string      `json:"certification_date,omitempty"`
	Status            string      `json:"status,omitempty"`
}

// GetProviderDetails fetches a provider by NPI number and condenses the record.
// An empty result set maps to a not_found error.
func (c *Client) GetProviderDetails(ctx context.Context, number string) (*ProviderDetails, error) {
	resp, err := c.SearchByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []struct {
			Number          json.Number `json:"number"`
			EnumerationType string      `json:"enumeration_type"`
			Basic           struct {
				FirstName         string `json:"first_name"`
				LastName          string `json:"last_name"`
				OrganizationName  string `json:"organization_name"`
				Credential        string `json:"credential"`
				SoleProprietor    string `json:"sole_proprietor"`
				Gender            string `json:"gender"`
				EnumerationDate   string `json:"enumeration_date"`
				LastUpdated       string `json:"last_updated"`
				CertificationDate string `json:"certification_date"`
				Status            string `json:"status"`
			} `json:"basic"`
			Addresses   []json.RawMessage `json:"addresses"`
			Taxonomies  []json.RawMessage `json:"taxonomies"`
			Identifiers []json.RawMessage `json:"identifiers"`
			OtherNames  []json.RawMessage `json:"other_names"`
		} `json:"results"`
	}
	if err := json.Unmarshal(resp.Raw, &payload); err != nil {
		return nil, output.ErrAPI(200, "Unexpected registry response: "+err.Error())
	}
	if len(payload.Results) == 0 {
		return nil, output.ErrNotFound("Provider", number)
	}

	p := payload.Results[0]
	return &ProviderDetails{
		BasicInfo: BasicInfo{
			NPI:               p.Number,
			EntityType:        p.EnumerationType,
			Name:              strings.TrimSpace(p.Basic.FirstName + " " + p.Basic.LastName),
			OrganizationName:  p.Basic.OrganizationName,
			Credential:        p.Basic.Credential,
			SoleProprietor:    p.Basic.SoleProprietor,
			Gender:            p.Basic.Gender,
			EnumerationDate:   p.Basic.EnumerationDate,
			LastUpdated:       p.Basic.LastUpdated,
			CertificationDate: p.Basic.CertificationDate,
			Status:            p.Basic.Status,
		},
		Addresses:   p.Addresses,
		Taxonomies:  p.Taxonomies,
		Identifiers: p.Identifiers,
		OtherNames:  p.OtherNames,
	}, nil
}
