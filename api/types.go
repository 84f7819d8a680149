package api

import "time"

// HealthStatus is the backend health report.
type HealthStatus struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services,omitempty"`
}

// TextRequest is the input of the text analysis endpoints.
type TextRequest struct {
	Text      string `json:"text" validate:"required,max=20000"`
	PatientID string `json:"patientId,omitempty"`
}

// Entity is a clinical concept found in text.
type Entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// TextAnalysis is the result of ProcessText.
type TextAnalysis struct {
	WordCount int      `json:"wordCount"`
	Language  string   `json:"language"`
	Entities  []Entity `json:"entities"`
	Keywords  []string `json:"keywords"`
}

// DepressionAssessment is the result of DetectDepression.
type DepressionAssessment struct {
	Score      float64  `json:"score"`
	Severity   string   `json:"severity"`
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators"`
}

// RiskRequest is the input of AssessRisk.
type RiskRequest struct {
	PatientID string             `json:"patientId" validate:"required"`
	Text      string             `json:"text,omitempty" validate:"max=20000"`
	Factors   map[string]float64 `json:"factors,omitempty"`
}

// RiskFactor is one contributor to a risk score.
type RiskFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// RiskAssessment is the result of AssessRisk.
type RiskAssessment struct {
	PatientID       string       `json:"patientId"`
	Level           string       `json:"level"`
	Score           float64      `json:"score"`
	Factors         []RiskFactor `json:"factors"`
	Recommendations []string     `json:"recommendations"`
}

// SentimentAnalysis is the result of AnalyzeSentiment.
type SentimentAnalysis struct {
	Label    string             `json:"label"`
	Score    float64            `json:"score"`
	Emotions map[string]float64 `json:"emotions,omitempty"`
}

// DigitalTwinRequest is the input of GenerateDigitalTwin.
type DigitalTwinRequest struct {
	PatientID         string `json:"patientId" validate:"required"`
	IncludeBrainModel bool   `json:"includeBrainModel"`
	TimeHorizonDays   int    `json:"timeHorizonDays" validate:"omitempty,min=1,max=365"`
}

// DigitalTwin is a generated patient model.
type DigitalTwin struct {
	ID          string      `json:"id"`
	PatientID   string      `json:"patientId"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	Insights    []string    `json:"insights"`
	BrainModel  *BrainModel `json:"brainModel,omitempty"`
	Confidence  float64     `json:"confidence"`
	HorizonDays int         `json:"horizonDays"`
}

// Patient is a patient record.
type Patient struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DateOfBirth string   `json:"dateOfBirth"`
	Diagnoses   []string `json:"diagnoses"`
	RiskLevel   string   `json:"riskLevel"`
}

// ListOptions paginates ListPatients.
type ListOptions struct {
	Page  int `validate:"omitempty,min=1"`
	Limit int `validate:"omitempty,min=1,max=100"`
}

// PageMeta is the pagination metadata of a list response.
type PageMeta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// PatientPage is one page of patients.
type PatientPage struct {
	Patients []Patient
	Meta     PageMeta
}

// BrainRegion is one region of a brain model.
type BrainRegion struct {
	Name         string  `json:"name"`
	Activity     float64 `json:"activity"`
	Connectivity float64 `json:"connectivity"`
}

// BrainModel is the patient's brain activity model.
type BrainModel struct {
	ID          string        `json:"id"`
	PatientID   string        `json:"patientId"`
	Regions     []BrainRegion `json:"regions"`
	GeneratedAt time.Time     `json:"generatedAt"`
}

// TreatmentRequest is the input of PredictTreatmentResponse.
type TreatmentRequest struct {
	PatientID     string `json:"patientId" validate:"required"`
	Treatment     string `json:"treatment" validate:"required"`
	DurationWeeks int    `json:"durationWeeks" validate:"omitempty,min=1,max=104"`
}

// TreatmentPrediction is the predicted response to a treatment.
type TreatmentPrediction struct {
	PatientID            string  `json:"patientId"`
	Treatment            string  `json:"treatment"`
	ResponseProbability  float64 `json:"responseProbability"`
	RemissionProbability float64 `json:"remissionProbability"`
	Confidence           float64 `json:"confidence"`
	TimeToResponseWeeks  int     `json:"timeToResponseWeeks"`
}
