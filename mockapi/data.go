package mockapi

import (
	"fmt"
	"strings"
)

// Permissions granted by the mock backend.
const (
	PermPatientsRead    = "patients:read"
	PermPredictionsRead = "predictions:read"
	PermTwinsGenerate   = "twins:generate"
	PermUsersManage     = "users:manage"
)

// Account is a user the mock backend can authenticate.
type Account struct {
	ID          string
	Username    string
	Email       string
	Password    string
	Role        string
	Permissions []string
}

// DemoAccounts returns the seeded accounts, one per role.
func DemoAccounts() []Account {
	return []Account{
		{
			ID:          "u-admin",
			Username:    "admin",
			Email:       "admin@twin.dev",
			Password:    "twin-admin",
			Role:        "admin",
			Permissions: []string{PermPatientsRead, PermPredictionsRead, PermTwinsGenerate, PermUsersManage},
		},
		{
			ID:          "u-clinician",
			Username:    "clinician",
			Email:       "clinician@twin.dev",
			Password:    "twin-clinician",
			Role:        "clinician",
			Permissions: []string{PermPatientsRead, PermPredictionsRead, PermTwinsGenerate},
		},
		{
			ID:          "u-researcher",
			Username:    "researcher",
			Email:       "researcher@twin.dev",
			Password:    "twin-researcher",
			Role:        "researcher",
			Permissions: []string{PermPredictionsRead},
		},
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type patient struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DateOfBirth string   `json:"date_of_birth"`
	Diagnoses   []string `json:"diagnoses"`
	RiskLevel   string   `json:"risk_level"`
}

const seededPatients = 25

var (
	givenNames  = []string{"Ada", "Bruno", "Clara", "Dario", "Elena", "Farid", "Greta", "Hugo", "Ines", "Jonas"}
	familyNames = []string{"Novak", "Silva", "Okafor", "Lindqvist", "Moreau"}
	diagnoses   = []string{"major depressive disorder", "generalized anxiety disorder", "bipolar II disorder", "PTSD", "insomnia"}
	riskLevels  = []string{"low", "moderate", "high"}
)

// seedPatients builds a deterministic patient roster.
func seedPatients() []patient {
	out := make([]patient, 0, seededPatients)
	for i := range seededPatients {
		dx := []string{diagnoses[i%len(diagnoses)]}
		if i%3 == 0 {
			dx = append(dx, diagnoses[(i+2)%len(diagnoses)])
		}
		out = append(out, patient{
			ID:          fmt.Sprintf("p-%03d", i+1),
			Name:        givenNames[i%len(givenNames)] + " " + familyNames[i%len(familyNames)],
			DateOfBirth: fmt.Sprintf("%d-%02d-%02d", 1950+(i*7)%50, i%12+1, i%28+1),
			Diagnoses:   dx,
			RiskLevel:   riskLevels[i%len(riskLevels)],
		})
	}
	return out
}

func (s *Server) findPatient(id string) (*patient, bool) {
	for i := range s.patients {
		if s.patients[i].ID == id {
			return &s.patients[i], true
		}
	}
	return nil, false
}
