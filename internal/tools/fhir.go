package tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sdesani/mcp-server-collection/internal/fhir"
	"github.com/sdesani/mcp-server-collection/internal/output"
	"github.com/sdesani/mcp-server-collection/internal/version"
)

type fhirHandlers struct {
	client *fhir.Client
}

// NewFHIRServer builds the MCP server exposing the Cerner FHIR R4 tools.
func NewFHIRServer(client *fhir.Client) *server.MCPServer {
	s := server.NewMCPServer(
		"FHIR MCP Server",
		version.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	h := &fhirHandlers{client: client}

	s.AddTool(mcp.NewTool("get_patient_by_id",
		mcp.WithDescription("Retrieve a patient resource by its FHIR logical ID"),
		mcp.WithString("patient_id",
			mcp.Required(),
			mcp.Description("The FHIR patient ID"),
		),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.patientByID)

	s.AddTool(mcp.NewTool("search_patients_by_name",
		mcp.WithDescription("Search patients by given and/or family name; at least one is required"),
		mcp.WithString("given_name", mcp.Description("Patient's given (first) name")),
		mcp.WithString("family_name", mcp.Description("Patient's family (last) name")),
		mcp.WithNumber("count", mcp.Description("Maximum number of results (default 10, capped at 100)")),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.searchByName)

	s.AddTool(mcp.NewTool("search_patients_by_identifier",
		mcp.WithDescription("Search patients by identifier, e.g. medical record number (type MR)"),
		mcp.WithString("identifier_type",
			mcp.Required(),
			mcp.Description("Identifier system or type code, e.g. 'MR'"),
		),
		mcp.WithString("identifier_value",
			mcp.Required(),
			mcp.Description("Identifier value"),
		),
		mcp.WithNumber("count", mcp.Description("Maximum number of results (default 10, capped at 100)")),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.searchByIdentifier)

	s.AddTool(mcp.NewTool("search_patients_by_birthdate",
		mcp.WithDescription("Search patients by date of birth (YYYY-MM-DD)"),
		mcp.WithString("birthdate",
			mcp.Required(),
			mcp.Description("Date of birth in YYYY-MM-DD format"),
		),
		mcp.WithNumber("count", mcp.Description("Maximum number of results (default 10, capped at 100)")),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.searchByBirthdate)

	s.AddTool(mcp.NewTool("search_patients_by_phone",
		mcp.WithDescription("Search patients by phone number"),
		mcp.WithString("phone_number",
			mcp.Required(),
			mcp.Description("Phone number to search for"),
		),
		mcp.WithNumber("count", mcp.Description("Maximum number of results (default 10, capped at 100)")),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.searchByPhone)

	s.AddTool(mcp.NewTool("search_patients_by_email",
		mcp.WithDescription("Search patients by email address"),
		mcp.WithString("email",
			mcp.Required(),
			mcp.Description("Email address to search for"),
		),
		mcp.WithNumber("count", mcp.Description("Maximum number of results (default 10, capped at 100)")),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.searchByEmail)

	s.AddTool(mcp.NewTool("search_patients_by_address",
		mcp.WithDescription("Search patients by address components; at least one of postal code, city, or state is required"),
		mcp.WithString("postal_code", mcp.Description("Postal (ZIP) code")),
		mcp.WithString("city", mcp.Description("City name")),
		mcp.WithString("state", mcp.Description("State or province")),
		mcp.WithNumber("count", mcp.Description("Maximum number of results (default 10, capped at 100)")),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.searchByAddress)

	s.AddTool(mcp.NewTool("get_patient_observations",
		mcp.WithDescription("Retrieve observations (vitals, lab results) for a patient"),
		mcp.WithString("patient_id",
			mcp.Required(),
			mcp.Description("The FHIR patient ID"),
		),
		mcp.WithNumber("count", mcp.Description("Maximum number of results (default 10, capped at 100)")),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.patientObservations)

	s.AddTool(mcp.NewTool("get_patient_conditions",
		mcp.WithDescription("Retrieve conditions (diagnoses, problems) for a patient"),
		mcp.WithString("patient_id",
			mcp.Required(),
			mcp.Description("The FHIR patient ID"),
		),
		mcp.WithNumber("count", mcp.Description("Maximum number of results (default 10, capped at 100)")),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.patientConditions)

	s.AddTool(mcp.NewTool("get_patient_medications",
		mcp.WithDescription("Retrieve medication requests for a patient"),
		mcp.WithString("patient_id",
			mcp.Required(),
			mcp.Description("The FHIR patient ID"),
		),
		mcp.WithNumber("count", mcp.Description("Maximum number of results (default 10, capped at 100)")),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.patientMedications)

	s.AddTool(mcp.NewTool("get_fhir_capabilities",
		mcp.WithDescription("Retrieve the FHIR server's capability statement"),
		mcp.WithString("query", mcp.Description(queryArgDescription)),
	), h.capabilities)

	return s
}

// fhirFailureMessage picks the envelope message for a failed FHIR call.
func fhirFailureMessage(err error) string {
	switch output.AsError(err).Code {
	case output.CodeAuth:
		return "Unauthorized access to FHIR API"
	case output.CodeNotFound:
		return "The requested FHIR resource was not found"
	case output.CodeNetwork:
		return "Network error occurred while accessing FHIR API"
	case output.CodeValidation:
		return "Invalid search parameters"
	default:
		return "Failed to retrieve FHIR data"
	}
}

func (h *fhirHandlers) respond(req mcp.CallToolRequest, data json.RawMessage, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return toolResult(output.Err(err, fhirFailureMessage(err)))
	}
	return successResult(data, "FHIR data retrieved successfully", req.GetString("query", ""))
}

func (h *fhirHandlers) patientByID(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("patient_id")
	if err != nil {
		return toolResult(output.Err(output.ErrValidation(err.Error()), "Invalid search parameters"))
	}
	data, err := h.client.PatientByID(ctx, id)
	return h.respond(req, data, err)
}

func (h *fhirHandlers) searchByName(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := h.client.SearchPatientsByName(ctx,
		req.GetString("given_name", ""),
		req.GetString("family_name", ""),
		req.GetInt("count", 0),
	)
	return h.respond(req, data, err)
}

func (h *fhirHandlers) searchByIdentifier(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idType, err := req.RequireString("identifier_type")
	if err != nil {
		return toolResult(output.Err(output.ErrValidation(err.Error()), "Invalid search parameters"))
	}
	idValue, err := req.RequireString("identifier_value")
	if err != nil {
		return toolResult(output.Err(output.ErrValidation(err.Error()), "Invalid search parameters"))
	}
	data, err := h.client.SearchPatientsByIdentifier(ctx, idType, idValue, req.GetInt("count", 0))
	return h.respond(req, data, err)
}

func (h *fhirHandlers) searchByBirthdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	birthdate, err := req.RequireString("birthdate")
	if err != nil {
		return toolResult(output.Err(output.ErrValidation(err.Error()), "Invalid search parameters"))
	}
	data, err := h.client.SearchPatientsByBirthdate(ctx, birthdate, req.GetInt("count", 0))
	return h.respond(req, data, err)
}

func (h *fhirHandlers) searchByPhone(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	phone, err := req.RequireString("phone_number")
	if err != nil {
		return toolResult(output.Err(output.ErrValidation(err.Error()), "Invalid search parameters"))
	}
	data, err := h.client.SearchPatientsByPhone(ctx, phone, req.GetInt("count", 0))
	return h.respond(req, data, err)
}

func (h *fhirHandlers) searchByEmail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	email, err := req.RequireString("email")
	if err != nil {
		return toolResult(output.Err(output.ErrValidation(err.Error()), "Invalid search parameters"))
	}
	data, err := h.client.SearchPatientsByEmail(ctx, email, req.GetInt("count", 0))
	return h.respond(req, data, err)
}

func (h *fhirHandlers) searchByAddress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := h.client.SearchPatientsByAddress(ctx,
		req.GetString("postal_code", ""),
		req.GetString("city", ""),
		req.GetString("state", ""),
		req.GetInt("count", 0),
	)
	return h.respond(req, data, err)
}

func (h *fhirHandlers) patientObservations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("patient_id")
	if err != nil {
		return toolResult(output.Err(output.ErrValidation(err.Error()), "Invalid search parameters"))
	}
	data, err := h.client.PatientObservations(ctx, id, req.GetInt("count", 0))
	return h.respond(req, data, err)
}

func (h *fhirHandlers) patientConditions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("patient_id")
	if err != nil {
		return toolResult(output.Err(output.ErrValidation(err.Error()), "Invalid search parameters"))
	}
	data, err := h.client.PatientConditions(ctx, id, req.GetInt("count", 0))
	return h.respond(req, data, err)
}

func (h *fhirHandlers) patientMedications(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("patient_id")
	if err != nil {
		return toolResult(output.Err(output.ErrValidation(err.Error()), "Invalid search parameters"))
	}
	data, err := h.client.PatientMedications(ctx, id, req.GetInt("count", 0))
	return h.respond(req, data, err)
}

func (h *fhirHandlers) capabilities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := h.client.Capabilities(ctx)
	return h.respond(req, data, err)
}
