package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sdesani/mcp-server-collection/internal/npi"
	"github.com/sdesani/mcp-server-collection/internal/output"
	"github.com/sdesani/mcp-server-collection/internal/version"
)

type npiHandlers struct {
	client *npi.Client
}

// NewNPIServer builds the MCP server exposing the NPPES registry tools.
func NewNPIServer(client *npi.Client) *server.MCPServer {
	s := server.NewMCPServer(
		"NPI Registry MCP Server",
		version.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	h := &npiHandlers{client: client}

	s.AddTool(mcp.NewTool("search_npi_by_number",
		mcp.WithDescription("Look up a healthcare provider by their 10-digit NPI number"),
		mcp.WithString("npi_number",
			mcp.Required(),
			mcp.Description("The 10-digit National Provider Identifier"),
		),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.searchByNumber)

	s.AddTool(mcp.NewTool("search_npi_by_name",
		mcp.WithDescription("Search individual providers by first and last name, optionally narrowed by location"),
		mcp.WithString("first_name",
			mcp.Required(),
			mcp.Description("Provider's first name"),
		),
		mcp.WithString("last_name",
			mcp.Required(),
			mcp.Description("Provider's last name"),
		),
		mcp.WithString("city", mcp.Description("City to narrow the search")),
		mcp.WithString("state", mcp.Description("Two-letter state abbreviation")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.searchByName)

	s.AddTool(mcp.NewTool("search_npi_by_taxonomy",
		mcp.WithDescription("Search providers by taxonomy description, e.g. 'Family Medicine' or 'Cardiology'"),
		mcp.WithString("taxonomy_description",
			mcp.Required(),
			mcp.Description("Taxonomy or specialty description"),
		),
		mcp.WithString("city", mcp.Description("City to narrow the search")),
		mcp.WithString("state", mcp.Description("Two-letter state abbreviation")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.searchByTaxonomy)

	s.AddTool(mcp.NewTool("search_npi_by_organization_name",
		mcp.WithDescription("Search healthcare organizations by name"),
		mcp.WithString("organization_name",
			mcp.Required(),
			mcp.Description("Organization name to search for"),
		),
		mcp.WithString("city", mcp.Description("City to narrow the search")),
		mcp.WithString("state", mcp.Description("Two-letter state abbreviation")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.searchByOrganization)

	s.AddTool(mcp.NewTool("get_provider_details",
		mcp.WithDescription("Fetch structured details for a provider: basic info, addresses, taxonomies, identifiers"),
		mcp.WithString("npi_number",
			mcp.Required(),
			mcp.Description("The 10-digit National Provider Identifier"),
		),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.providerDetails)

	return s
}

// npiFailureMessage picks the envelope message for a failed registry call.
func npiFailureMessage(err error, networkMsg, fallbackMsg string) string {
	switch {
	case output.IsNetwork(err):
		return networkMsg
	case output.IsNotFound(err):
		return "Provider not found"
	default:
		if output.AsError(err).Code == output.CodeValidation {
			return "Invalid search parameters"
		}
		return fallbackMsg
	}
}

func (h *npiHandlers) searchByNumber(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	number, err := req.RequireString("npi_number")
	if err != nil {
		return toolResult(output.Err(output.ErrValidation(err.Error()), "Invalid search parameters"))
	}

	res, err := h.client.SearchByNumber(ctx, number)
	if err != nil {
		return toolResult(output.Err(err, npiFailureMessage(err,
			"Network error occurred while fetching NPI data",
			"Failed to retrieve NPI data")))
	}
	return successResult(res.Raw, "NPI data retrieved successfully", req.GetString("query", ""))
}

func (h *npiHandlers) searchByName(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	first, err := req.RequireString("first_name")
	if err != nil {
		return toolResult(output.Err(output.ErrValidation(err.Error()), "Invalid search parameters"))
	}
	last, err := req.RequireString("last_name")
	if err != nil {
		return toolResult(output.Err(output.ErrValidation(err.Error()), "Invalid search parameters"))
	}

	res, err := h.client.SearchByName(ctx, first, last, npi.SearchOptions{
		City:  req.GetString("city", ""),
		State: req.GetString("state", ""),
		Limit: req.GetInt("limit", 0),
	})
	if err != nil {
		return toolResult(output.Err(err, npiFailureMessage(err,
			"Network error occurred while searching NPI database",
			"Failed to search NPI database")))
	}
	msg := fmt.Sprintf("Found %d provider(s) matching search criteria", res.Count)
	return successResult(res.Raw, msg, req.GetString("query", ""))
}

func (h *npiHandlers) searchByTaxonomy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taxonomy, err := req.RequireString("taxonomy_description")
	if err != nil {
		return toolResult(output.Err(output.ErrValidation(err.Error()), "Invalid search parameters"))
	}

	res, err := h.client.SearchByTaxonomy(ctx, taxonomy, npi.SearchOptions{
		City:  req.GetString("city", ""),
		State: req.GetString("state", ""),
		Limit: req.GetInt("limit", 0),
	})
	if err != nil {
		return toolResult(output.Err(err, npiFailureMessage(err,
			"Network error occurred while searching NPI database",
			"Failed to search NPI database by taxonomy")))
	}
	msg := fmt.Sprintf("Found %d provider(s) with taxonomy '%s'", res.Count, taxonomy)
	return successResult(res.Raw, msg, req.GetString("query", ""))
}

func (h *npiHandlers) searchByOrganization(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	org, err := req.RequireString("organization_name")
	if err != nil {
		return toolResult(output.Err(output.ErrValidation(err.Error()), "Invalid search parameters"))
	}

	res, err := h.client.SearchByOrganization(ctx, org, npi.SearchOptions{
		City:  req.GetString("city", ""),
		State: req.GetString("state", ""),
		Limit: req.GetInt("limit", 0),
	})
	if err != nil {
		return toolResult(output.Err(err, npiFailureMessage(err,
			"Network error occurred while searching NPI database",
			"Failed to search NPI database for organization")))
	}
	msg := fmt.Sprintf("Found %d organization(s) matching '%s'", res.Count, org)
	return successResult(res.Raw, msg, req.GetString("query", ""))
}

func (h *npiHandlers) providerDetails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	number, err := req.RequireString("npi_number")
	if err != nil {
		return toolResult(output.Err(output.ErrValidation(err.Error()), "Invalid search parameters"))
	}

	details, err := h.client.GetProviderDetails(ctx, number)
	if err != nil {
		return toolResult(output.Err(err, npiFailureMessage(err,
			"Network error occurred while fetching provider details",
			"Failed to retrieve provider details")))
	}
	return successResult(details, "Provider details retrieved successfully", req.GetString("query", ""))
}
