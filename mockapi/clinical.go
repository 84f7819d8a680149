package mockapi

import (
	"cmp"
	"hash/fnv"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 100
	defaultHorizon    = 90
	defaultTreatWeeks = 12
	maxKeywords       = 5
)

type textRequest struct {
	Text      string `json:"text" validate:"required,max=20000"`
	PatientID string `json:"patient_id"`
}

type riskRequest struct {
	PatientID string             `json:"patient_id" validate:"required"`
	Text      string             `json:"text" validate:"max=20000"`
	Factors   map[string]float64 `json:"factors"`
}

type twinRequest struct {
	PatientID         string `json:"patient_id" validate:"required"`
	IncludeBrainModel bool   `json:"include_brain_model"`
	TimeHorizonDays   int    `json:"time_horizon_days" validate:"omitempty,min=1,max=365"`
}

type treatmentRequest struct {
	PatientID     string `json:"patient_id" validate:"required"`
	Treatment     string `json:"treatment" validate:"required"`
	DurationWeeks int    `json:"duration_weeks" validate:"omitempty,min=1,max=104"`
}

type entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type brainRegion struct {
	Name         string  `json:"name"`
	Activity     float64 `json:"activity"`
	Connectivity float64 `json:"connectivity"`
}

type brainModel struct {
	ID          string        `json:"id"`
	PatientID   string        `json:"patient_id"`
	Regions     []brainRegion `json:"regions"`
	GeneratedAt time.Time     `json:"generated_at"`
}

type riskFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

var (
	clinicalTerms = map[string]string{
		"depression": "CONDITION",
		"anxiety":    "CONDITION",
		"ptsd":       "CONDITION",
		"insomnia":   "SYMPTOM",
		"fatigue":    "SYMPTOM",
		"sleep":      "SYMPTOM",
		"sertraline": "MEDICATION",
		"fluoxetine": "MEDICATION",
		"lithium":    "MEDICATION",
		"therapy":    "TREATMENT",
		"cbt":        "TREATMENT",
	}
	depressionMarkers = []string{"hopeless", "sad", "tired", "worthless", "empty", "guilt", "alone", "crying", "numb", "exhausted"}
	positiveWords     = []string{"good", "better", "happy", "calm", "hopeful", "grateful", "great", "improved", "relaxed", "glad"}
	negativeWords     = []string{"bad", "worse", "sad", "angry", "afraid", "anxious", "hopeless", "terrible", "tired", "alone"}
	brainRegions      = []string{"prefrontal_cortex", "amygdala", "hippocampus", "anterior_cingulate", "insula"}
)

func (s *Server) health(c echo.Context) error {
	return s.ok(c, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.cfg.Version,
		"services": map[string]string{"auth": "up", "ml": "up", "storage": "up"},
	})
}

func (s *Server) listPatients(c echo.Context) error {
	page, limit := 1, defaultPageSize
	if err := echo.QueryParamsBinder(c).Int("page", &page).Int("limit", &limit).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "page and limit must be integers")
	}
	if page < 1 || limit < 1 || limit > maxPageSize {
		return echo.NewHTTPError(http.StatusBadRequest, "page must be positive and limit between 1 and 100")
	}

	start := min((page-1)*limit, len(s.patients))
	end := min(start+limit, len(s.patients))
	return s.okWithMeta(c, s.patients[start:end], map[string]any{
		"page":  page,
		"limit": limit,
		"total": len(s.patients),
	})
}

func (s *Server) getPatient(c echo.Context) error {
	p, ok := s.findPatient(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	}
	return s.ok(c, http.StatusOK, p)
}

func (s *Server) brainModel(c echo.Context) error {
	p, ok := s.findPatient(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	}
	return s.ok(c, http.StatusOK, s.buildBrainModel(p.ID))
}

func (s *Server) buildBrainModel(patientID string) brainModel {
	regions := make([]brainRegion, 0, len(brainRegions))
	for _, name := range brainRegions {
		regions = append(regions, brainRegion{
			Name:         name,
			Activity:     round2(unit(patientID, name, "activity")),
			Connectivity: round2(unit(patientID, name, "connectivity")),
		})
	}
	return brainModel{
		ID:          "bm-" + patientID,
		PatientID:   patientID,
		Regions:     regions,
		GeneratedAt: s.now().UTC(),
	}
}

func (s *Server) processText(c echo.Context) error {
	var in textRequest
	if err := bindValid(c, &in); err != nil {
		return err
	}

	words := tokenize(in.Text)
	entities := make([]entity, 0)
	seen := make(map[string]bool)
	for _, w := range words {
		if label, ok := clinicalTerms[w]; ok && !seen[w] {
			seen[w] = true
			entities = append(entities, entity{Text: w, Label: label, Confidence: round2(0.75 + unit(w)*0.2)})
		}
	}

	return s.ok(c, http.StatusOK, map[string]any{
		"word_count": len(words),
		"language":   "en",
		"entities":   entities,
		"keywords":   keywords(words),
	})
}

func (s *Server) detectDepression(c echo.Context) error {
	var in textRequest
	if err := bindValid(c, &in); err != nil {
		return err
	}

	score, indicators := depressionScore(tokenize(in.Text))
	return s.ok(c, http.StatusOK, map[string]any{
		"score":      score,
		"severity":   severity(score),
		"confidence": round2(0.6 + 0.08*float64(min(len(indicators), 5))),
		"indicators": indicators,
	})
}

func (s *Server) assessRisk(c echo.Context) error {
	var in riskRequest
	if err := bindValid(c, &in); err != nil {
		return err
	}

	factors := make([]riskFactor, 0, len(in.Factors)+1)
	total := 0.0
	for name, w := range in.Factors {
		w = clamp01(w)
		factors = append(factors, riskFactor{Name: name, Weight: round2(w)})
		total += w
	}
	if in.Text != "" {
		text, _ := depressionScore(tokenize(in.Text))
		factors = append(factors, riskFactor{Name: "text_markers", Weight: text})
		total += text
	}
	score := 0.0
	if len(factors) > 0 {
		score = round2(total / float64(len(factors)))
	}
	slices.SortFunc(factors, func(a, b riskFactor) int {
		return cmp.Or(cmp.Compare(b.Weight, a.Weight), cmp.Compare(a.Name, b.Name))
	})

	level := riskLevel(score)
	return s.ok(c, http.StatusOK, map[string]any{
		"patient_id":      in.PatientID,
		"level":           level,
		"score":           score,
		"factors":         factors,
		"recommendations": recommendations(level),
	})
}

func (s *Server) analyzeSentiment(c echo.Context) error {
	var in textRequest
	if err := bindValid(c, &in); err != nil {
		return err
	}

	words := tokenize(in.Text)
	pos, neg := countAny(words, positiveWords), countAny(words, negativeWords)
	score := 0.0
	if pos+neg > 0 {
		score = round2(float64(pos-neg) / float64(pos+neg))
	}
	label := "neutral"
	switch {
	case score > 0.2:
		label = "positive"
	case score < -0.2:
		label = "negative"
	}

	n := math.Max(float64(len(words)), 1)
	return s.ok(c, http.StatusOK, map[string]any{
		"label": label,
		"score": score,
		"emotions": map[string]float64{
			"joy":     round2(float64(pos) / n),
			"sadness": round2(float64(countAny(words, depressionMarkers)) / n),
			"anger":   round2(float64(countAny(words, []string{"angry", "furious", "irritated"})) / n),
			"fear":    round2(float64(countAny(words, []string{"afraid", "anxious", "scared"})) / n),
		},
	})
}

func (s *Server) generateDigitalTwin(c echo.Context) error {
	var in twinRequest
	if err := bindValid(c, &in); err != nil {
		return err
	}
	p, ok := s.findPatient(in.PatientID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	}

	horizon := cmp.Or(in.TimeHorizonDays, defaultHorizon)
	insights := make([]string, 0, len(p.Diagnoses)+1)
	for _, dx := range p.Diagnoses {
		insights = append(insights, "Projected course of "+dx+" modeled over the horizon")
	}
	insights = append(insights, "Current risk level is "+p.RiskLevel)

	twin := map[string]any{
		"id":           uuid.NewString(),
		"patient_id":   p.ID,
		"status":       "ready",
		"created_at":   s.now().UTC(),
		"insights":     insights,
		"confidence":   round2(0.7 + unit(p.ID, "twin")*0.25),
		"horizon_days": horizon,
	}
	if in.IncludeBrainModel {
		twin["brain_model"] = s.buildBrainModel(p.ID)
	}
	return s.ok(c, http.StatusCreated, twin)
}

func (s *Server) predictTreatment(c echo.Context) error {
	var in treatmentRequest
	if err := bindValid(c, &in); err != nil {
		return err
	}
	if _, ok := s.findPatient(in.PatientID); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	}

	weeks := cmp.Or(in.DurationWeeks, defaultTreatWeeks)
	response := round2(0.35 + unit(in.PatientID, in.Treatment)*0.5)
	return s.ok(c, http.StatusOK, map[string]any{
		"patient_id":             in.PatientID,
		"treatment":              in.Treatment,
		"response_probability":   response,
		"remission_probability":  round2(response * 0.6),
		"confidence":             round2(0.65 + unit(in.Treatment)*0.2),
		"time_to_response_weeks": min(2+int(unit(in.PatientID, in.Treatment, "weeks")*6), weeks),
	})
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '\'')
	})
}

func keywords(words []string) []string {
	freq := make(map[string]int)
	for _, w := range words {
		if len(w) > 4 {
			freq[w]++
		}
	}
	out := make([]string, 0, len(freq))
	for w := range freq {
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b string) int {
		return cmp.Or(cmp.Compare(freq[b], freq[a]), cmp.Compare(a, b))
	})
	return out[:min(len(out), maxKeywords)]
}

func depressionScore(words []string) (float64, []string) {
	indicators := make([]string, 0)
	for _, m := range depressionMarkers {
		if slices.Contains(words, m) {
			indicators = append(indicators, m)
		}
	}
	return round2(math.Min(1, 0.2*float64(len(indicators)))), indicators
}

func severity(score float64) string {
	switch {
	case score < 0.2:
		return "minimal"
	case score < 0.4:
		return "mild"
	case score < 0.6:
		return "moderate"
	case score < 0.8:
		return "moderately_severe"
	default:
		return "severe"
	}
}

func riskLevel(score float64) string {
	switch {
	case score < 0.34:
		return "low"
	case score < 0.67:
		return "moderate"
	default:
		return "high"
	}
}

func recommendations(level string) []string {
	switch level {
	case "high":
		return []string{"Schedule an urgent clinical review", "Increase monitoring frequency", "Review safety plan"}
	case "moderate":
		return []string{"Schedule a follow-up within two weeks", "Consider adjusting the treatment plan"}
	default:
		return []string{"Continue routine monitoring"}
	}
}

func countAny(words, set []string) int {
	n := 0
	for _, w := range words {
		if slices.Contains(set, w) {
			n++
		}
	}
	return n
}

// unit maps its inputs to a stable value in [0, 1).
func unit(parts ...string) float64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return float64(h.Sum64()%10000) / 10000
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
