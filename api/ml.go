package api

import (
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gaborage/twinclient/apierror"
)

// Frontend routes. The mapper moves the aliased ones to their backend location.
const (
	PathHealth           = "/health"
	PathProcessText      = "/ml/process-text"
	PathDepression       = "/ml/depression-detection"
	PathRisk             = "/ml/risk-assessment"
	PathSentiment        = "/ml/sentiment"
	PathDigitalTwins     = "/digital-twins"
	PathPatients         = "/patients"
	PathBrainModels      = "/brain-models"
	PathTreatmentPredict = "/treatment-predictions"
)

var errMissingID = errors.New("id is required")

func requireID(id string) func() error {
	return func() error {
		if strings.TrimSpace(id) == "" {
			return errMissingID
		}
		return nil
	}
}

// HealthCheck reports backend health. It does not need a session.
func (c *Client) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if _, err := c.Request(ctx, nethttp.MethodGet, PathHealth, nil, &out, Anonymous(), Endpoint("healthCheck")); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessText extracts clinical entities and keywords from free text.
func (c *Client) ProcessText(ctx context.Context, req TextRequest) (*TextAnalysis, error) {
	var out TextAnalysis
	if _, err := c.Request(ctx, nethttp.MethodPost, PathProcessText, req, &out,
		Endpoint("processText"), Validate(c.validateStruct(req))); err != nil {
		return nil, err
	}
	return &out, nil
}

// DetectDepression scores depression indicators in text.
func (c *Client) DetectDepression(ctx context.Context, req TextRequest) (*DepressionAssessment, error) {
	var out DepressionAssessment
	if _, err := c.Request(ctx, nethttp.MethodPost, PathDepression, req, &out,
		Endpoint("detectDepression"), Validate(c.validateStruct(req))); err != nil {
		return nil, err
	}
	return &out, nil
}

// AssessRisk computes a patient risk assessment.
func (c *Client) AssessRisk(ctx context.Context, req RiskRequest) (*RiskAssessment, error) {
	var out RiskAssessment
	if _, err := c.Request(ctx, nethttp.MethodPost, PathRisk, req, &out,
		Endpoint("assessRisk"), Validate(c.validateStruct(req))); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeSentiment classifies the sentiment of text.
func (c *Client) AnalyzeSentiment(ctx context.Context, req TextRequest) (*SentimentAnalysis, error) {
	var out SentimentAnalysis
	if _, err := c.Request(ctx, nethttp.MethodPost, PathSentiment, req, &out,
		Endpoint("analyzeSentiment"), Validate(c.validateStruct(req))); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateDigitalTwin builds a digital twin for a patient.
func (c *Client) GenerateDigitalTwin(ctx context.Context, req DigitalTwinRequest) (*DigitalTwin, error) {
	var out DigitalTwin
	if _, err := c.Request(ctx, nethttp.MethodPost, PathDigitalTwins, req, &out,
		Endpoint("generateDigitalTwin"), Validate(c.validateStruct(req))); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPatients returns one page of patients.
func (c *Client) ListPatients(ctx context.Context, opts ListOptions) (*PatientPage, error) {
	query := url.Values{}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	var patients []Patient
	env, err := c.Request(ctx, nethttp.MethodGet, PathPatients, nil, &patients,
		Endpoint("listPatients"), Query(query), Validate(c.validateStruct(opts)))
	if err != nil {
		return nil, err
	}

	page := &PatientPage{Patients: patients}
	if len(env.Meta) > 0 {
		if err := json.Unmarshal(env.Meta, &page.Meta); err != nil {
			return nil, apierror.New(apierror.Unexpected, "listPatients", false, err)
		}
	}
	return page, nil
}

// GetPatient fetches one patient.
func (c *Client) GetPatient(ctx context.Context, id string) (*Patient, error) {
	var out Patient
	if _, err := c.Request(ctx, nethttp.MethodGet, PathPatients+"/"+url.PathEscape(id), nil, &out,
		Endpoint("getPatient"), Validate(requireID(id))); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBrainModel fetches the brain model of a patient.
func (c *Client) GetBrainModel(ctx context.Context, patientID string) (*BrainModel, error) {
	var out BrainModel
	if _, err := c.Request(ctx, nethttp.MethodGet, PathBrainModels+"/"+url.PathEscape(patientID), nil, &out,
		Endpoint("getBrainModel"), Validate(requireID(patientID))); err != nil {
		return nil, err
	}
	return &out, nil
}

// PredictTreatmentResponse predicts how a patient responds to a treatment.
func (c *Client) PredictTreatmentResponse(ctx context.Context, req TreatmentRequest) (*TreatmentPrediction, error) {
	var out TreatmentPrediction
	if _, err := c.Request(ctx, nethttp.MethodPost, PathTreatmentPredict, req, &out,
		Endpoint("predictTreatmentResponse"), Validate(c.validateStruct(req))); err != nil {
		return nil, err
	}
	return &out, nil
}
