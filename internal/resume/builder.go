// Package resume builds a structured candidate CV from the annotated
// dialogue, combining one model request with regex fallbacks for contact
// data.
package resume

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	_ "embed"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/callpilot/protofill/internal/inference"
	"github.com/callpilot/protofill/internal/transcript"
)

//go:embed system_prompt.md
var systemPrompt string

// Applicant holds the candidate's contact data.
type Applicant struct {
	ID         int    `json:"id"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// Experience is one professional station.
type Experience struct {
	ID             int    `json:"id"`
	Position       string `json:"position"`
	Start          string `json:"start,omitempty"`
	End            string `json:"end,omitempty"`
	Company        string `json:"company,omitempty"`
	EmploymentType string `json:"employment_type,omitempty"`
	Tasks          string `json:"tasks,omitempty"`
}

// Education is one educational station, including recognition entries for
// foreign credentials.
type Education struct {
	ID          int    `json:"id"`
	End         string `json:"end,omitempty"`
	Company     string `json:"company,omitempty"`
	Description string `json:"description"`
}

// Resume is the structured CV extracted from the call.
type Resume struct {
	ID                   int          `json:"id"`
	PostalCode           string       `json:"postal_code,omitempty"`
	City                 string       `json:"city,omitempty"`
	PreferredContactTime string       `json:"preferred_contact_time,omitempty"`
	PreferredWorkload    string       `json:"preferred_workload,omitempty"`
	WillingToRelocate    string       `json:"willing_to_relocate,omitempty"`
	EarliestStart        string       `json:"earliest_start,omitempty"`
	CurrentJob           string       `json:"current_job,omitempty"`
	Motivation           string       `json:"motivation,omitempty"`
	Expectations         string       `json:"expectations,omitempty"`
	Start                string       `json:"start,omitempty"`
	ApplicantID          int          `json:"applicant_id"`
	Qualified            bool         `json:"qualified"`
	Summary              string       `json:"summary,omitempty"`
	Experiences          []Experience `json:"experiences"`
	Educations           []Education  `json:"educations"`
}

// ApplicantResume bundles the applicant with their resume.
type ApplicantResume struct {
	Applicant Applicant `json:"applicant"`
	Resume    Resume    `json:"resume"`
}

// Builder extracts resumes via the inference provider.
type Builder struct {
	client inference.Provider
	logger *zap.Logger
}

// NewBuilder constructs a resume builder.
func NewBuilder(client inference.Provider, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{client: client, logger: logger}
}

var (
	postalCodeRe = regexp.MustCompile(`\b(\d{5})\b`)
	phoneRe      = regexp.MustCompile(`\+?49\s*\d{2,4}\s*\d{6,8}`)
	emailRe      = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
)

// Keywords marking a five-digit number as a postal code rather than a year
// or house number.
var postalContextKeywords = []string{
	"postleitzahl", "plz", "wohne", "wohnort", "gezogen", "umgezogen",
}

// Build assembles the applicant from metadata and regex scans, then fills
// the resume body with one model request. A failed request still yields a
// minimal resume so the pipeline can deliver a result.
func (b *Builder) Build(
	ctx context.Context,
	turns []transcript.Turn,
	meta *transcript.Metadata,
	temporal *transcript.Context,
) *ApplicantResume {
	applicantID := generateID(meta)
	resumeID := applicantID + 1000

	applicant := b.extractApplicant(turns, meta, applicantID)
	res := b.extractResume(ctx, turns, temporal, applicantID, resumeID)

	// The model reads the whole dialogue, so its postal code wins over the
	// regex scan.
	if res.PostalCode != "" && applicant.PostalCode != res.PostalCode {
		applicant.PostalCode = res.PostalCode
	}

	return &ApplicantResume{Applicant: applicant, Resume: res}
}

func generateID(meta *transcript.Metadata) int {
	source := uuid.NewString()
	if meta != nil && meta.ConversationID != "" {
		source = meta.ConversationID
	}
	sum := md5.Sum([]byte(source))
	n, _ := strconv.ParseUint(hex.EncodeToString(sum[:])[:8], 16, 64)
	return int(n % 1000000)
}

func (b *Builder) extractApplicant(turns []transcript.Turn, meta *transcript.Metadata, id int) Applicant {
	applicant := Applicant{ID: id}
	if meta != nil {
		applicant.FirstName = meta.CandidateFirst
		applicant.LastName = meta.CandidateLast
		applicant.Phone = meta.PhoneNumber
	}

	fullText := joinTurns(turns)

	if m := postalCodeRe.FindString(fullText); m != "" {
		applicant.PostalCode = m
	}
	if applicant.Phone == "" {
		applicant.Phone = phoneRe.FindString(fullText)
	}
	applicant.Email = emailRe.FindString(fullText)

	return applicant
}

type rawExperience struct {
	Position       string `json:"position"`
	Start          string `json:"start"`
	End            string `json:"end"`
	Company        string `json:"company"`
	EmploymentType string `json:"employment_type"`
	Tasks          string `json:"tasks"`
}

type rawEducation struct {
	End         string `json:"end"`
	Company     string `json:"company"`
	Description string `json:"description"`
}

type resumeResponse struct {
	PostalCode           string          `json:"postal_code"`
	City                 string          `json:"city"`
	PreferredContactTime string          `json:"preferred_contact_time"`
	PreferredWorkload    string          `json:"preferred_workload"`
	WillingToRelocate    string          `json:"willing_to_relocate"`
	EarliestStart        string          `json:"earliest_start"`
	CurrentJob           string          `json:"current_job"`
	Motivation           string          `json:"motivation"`
	Expectations         string          `json:"expectations"`
	Start                string          `json:"start"`
	Experiences          []rawExperience `json:"experiences"`
	Educations           []rawEducation  `json:"educations"`
}

func (b *Builder) extractResume(
	ctx context.Context,
	turns []transcript.Turn,
	temporal *transcript.Context,
	applicantID, resumeID int,
) Resume {
	minimal := Resume{
		ID:          resumeID,
		ApplicantID: applicantID,
		Experiences: []Experience{},
		Educations:  []Education{},
	}

	raw, err := b.client.Complete(ctx, systemPrompt, buildUserPrompt(turns, temporal))
	if err != nil {
		b.logger.Warn("resume extraction failed", zap.Error(err))
		return minimal
	}

	var resp resumeResponse
	if err := inference.DecodeObject(raw, &resp); err != nil {
		b.logger.Warn("resume extraction returned malformed payload", zap.Error(err))
		return minimal
	}

	res := minimal
	res.City = resp.City
	res.PreferredContactTime = resp.PreferredContactTime
	res.PreferredWorkload = resp.PreferredWorkload
	res.WillingToRelocate = resp.WillingToRelocate
	res.EarliestStart = resp.EarliestStart
	res.CurrentJob = resp.CurrentJob
	res.Motivation = resp.Motivation
	res.Expectations = resp.Expectations
	res.Start = resp.Start

	for _, exp := range resp.Experiences {
		sanitized, ok := b.sanitizeExperience(exp)
		if !ok {
			continue
		}
		sanitized.ID = len(res.Experiences) + 1
		res.Experiences = append(res.Experiences, sanitized)
	}

	for _, edu := range resp.Educations {
		res.Educations = append(res.Educations, Education{
			ID:          len(res.Educations) + 1,
			End:         edu.End,
			Company:     edu.Company,
			Description: edu.Description,
		})
	}

	res.PostalCode = resp.PostalCode
	if res.PostalCode == "" {
		res.PostalCode = postalCodeFallback(turns)
	}

	return res
}

// sanitizeExperience enforces a concrete position and cleans vague company
// names. Entries without a recoverable position are dropped.
func (b *Builder) sanitizeExperience(exp rawExperience) (Experience, bool) {
	position := exp.Position
	if position == "" {
		switch {
		case exp.EmploymentType != "" && !isGenericEmploymentType(exp.EmploymentType):
			position = exp.EmploymentType
		case exp.Tasks != "":
			position = positionFromKeywords(exp.Tasks)
		}
		if position == "" {
			b.logger.Warn("dropping experience without position", zap.String("company", exp.Company))
			return Experience{}, false
		}
	}

	if isVaguePosition(position) {
		if improved := positionFromKeywords(position); improved != "" {
			position = improved
		}
	}

	company := exp.Company
	switch strings.ToLower(company) {
	case "eine firma", "ein unternehmen", "firma", "unternehmen":
		company = ""
	}

	return Experience{
		Position:       position,
		Start:          exp.Start,
		End:            exp.End,
		Company:        company,
		EmploymentType: exp.EmploymentType,
		Tasks:          exp.Tasks,
	}, true
}

func isGenericEmploymentType(t string) bool {
	switch t {
	case "Hauptjob", "Nebenjob", "Praktikum", "Ausbildung":
		return true
	}
	return false
}

var vaguePositionMarkers = []string{"arbeit in", "tätig in", "tätig als", "im bereich"}

func isVaguePosition(position string) bool {
	lower := strings.ToLower(position)
	for _, marker := range vaguePositionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

var positionKeywords = map[string]string{
	"hardwarekonstruktion": "Hardwarekonstrukteur",
	"konstruktion":         "Konstrukteur",
	"konstrukteur":         "Konstrukteur",
	"intensivpflege":       "Pflegefachkraft Intensivstation",
	"krankenpflege":        "Gesundheits- und Krankenpfleger",
	"altenpflege":          "Altenpfleger",
	"kinderpflege":         "Kinderpfleger",
	"pflege":               "Pflegefachkraft",
	"kita-leitung":         "Kita-Leitung",
	"kitaleitung":          "Kita-Leitung",
	"erzieherin":           "Erzieherin",
	"erzieher":             "Erzieher",
	"softwareentwicklung":  "Software-Entwickler",
	"webentwicklung":       "Web-Entwickler",
	"entwicklung":          "Entwickler",
	"vertrieb":             "Vertriebsmitarbeiter",
	"verkauf":              "Verkäufer",
	"buchhaltung":          "Buchhalter",
	"verwaltung":           "Verwaltungsmitarbeiter",
	"sekretariat":          "Sekretär",
	"assistenz":            "Assistent",
	"projektleitung":       "Projektleiter",
	"teamleitung":          "Teamleiter",
	"abteilungsleitung":    "Abteilungsleiter",
	"pädagogik":            "Pädagogische Fachkraft",
	"sozialpädagogik":      "Sozialpädagoge",
	"gastronomie":          "Gastronomiefachkraft",
	"küche":                "Koch",
	"lager":                "Lagermitarbeiter",
	"logistik":             "Logistiker",
	"elektrotechnik":       "Elektrotechniker",
	"maschinenbau":         "Maschinenbauingenieur",
	"it":                   "IT-Fachkraft",
}

// positionFromKeywords maps descriptive text onto a job title. Longer
// keywords match first so "hardwarekonstruktion" beats "konstruktion".
func positionFromKeywords(text string) string {
	keywords := make([]string, 0, len(positionKeywords))
	for kw := range positionKeywords {
		keywords = append(keywords, kw)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if len(keywords[i]) != len(keywords[j]) {
			return len(keywords[i]) > len(keywords[j])
		}
		return keywords[i] < keywords[j]
	})

	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return positionKeywords[kw]
		}
	}
	return ""
}

// postalCodeFallback scans five-digit numbers and prefers one with housing
// context within 100 characters. Without context the first match wins.
func postalCodeFallback(turns []transcript.Turn) string {
	fullText := joinTurns(turns)
	matches := postalCodeRe.FindAllStringIndex(fullText, -1)
	if len(matches) == 0 {
		return ""
	}

	lower := strings.ToLower(fullText)
	for _, m := range matches {
		start := m[0] - 100
		if start < 0 {
			start = 0
		}
		end := m[1] + 100
		if end > len(lower) {
			end = len(lower)
		}
		window := lower[start:end]
		for _, kw := range postalContextKeywords {
			if strings.Contains(window, kw) {
				return fullText[m[0]:m[1]]
			}
		}
	}

	return fullText[matches[0][0]:matches[0][1]]
}

func buildUserPrompt(turns []transcript.Turn, temporal *transcript.Context) string {
	var b strings.Builder

	if temporal != nil {
		fmt.Fprintf(&b, "TEMPORALER KONTEXT:\n")
		fmt.Fprintf(&b, "- Referenzdatum des Gesprächs: %s\n", temporal.CallDate)
		fmt.Fprintf(&b, "- Jahr des Gesprächs: %d\n", temporal.CallYear)
		fmt.Fprintf(&b, "- Erwähnte Jahre im Transkript: %v\n\n", temporal.MentionedYears)
	}

	b.WriteString("TRANSKRIPT:\n")
	for i, turn := range turns {
		label := "Recruiter"
		if turn.Speaker.Letter() == "A" {
			label = "Kandidat"
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n", i, label, turn.Text)
	}

	b.WriteString("\nExtrahiere nun die strukturierten Lebenslaufdaten als JSON.")
	return b.String()
}

func joinTurns(turns []transcript.Turn) string {
	parts := make([]string, 0, len(turns))
	for _, turn := range turns {
		parts = append(parts, turn.Text)
	}
	return strings.Join(parts, " ")
}
