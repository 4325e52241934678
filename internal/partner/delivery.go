package partner

import (
	"fmt"
	"time"

	"github.com/callpilot/protofill/internal/protocol"
	"github.com/callpilot/protofill/internal/resume"
	"github.com/callpilot/protofill/internal/transcript"
)

// Delivery is one processed call ready for submission.
type Delivery struct {
	CampaignID      string
	ConversationID  string
	Applicant       resume.Applicant
	Resume          resume.Resume
	Minimal         *protocol.MinimalProtocol
	Metadata        *transcript.Metadata
	Temporal        *transcript.Context
	AnnotationCount int
}

// applicantRef is the matching key the partner uses to find or create the
// applicant on every endpoint.
type applicantRef struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

func (d *Delivery) applicantRef() applicantRef {
	return applicantRef{
		FirstName: d.Applicant.FirstName,
		LastName:  d.Applicant.LastName,
		Phone:     d.Applicant.Phone,
	}
}

// deliveryExperience mirrors resume.Experience without the local id; the
// partner assigns its own.
type deliveryExperience struct {
	Position       string `json:"position"`
	Start          string `json:"start,omitempty"`
	End            string `json:"end,omitempty"`
	Company        string `json:"company,omitempty"`
	EmploymentType string `json:"employment_type,omitempty"`
	Tasks          string `json:"tasks,omitempty"`
}

type deliveryEducation struct {
	End         string `json:"end,omitempty"`
	Company     string `json:"company,omitempty"`
	Description string `json:"description"`
}

type deliveryApplicant struct {
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

type deliveryResume struct {
	PostalCode           string               `json:"postal_code,omitempty"`
	City                 string               `json:"city,omitempty"`
	PreferredContactTime string               `json:"preferred_contact_time,omitempty"`
	PreferredWorkload    string               `json:"preferred_workload,omitempty"`
	WillingToRelocate    string               `json:"willing_to_relocate,omitempty"`
	EarliestStart        string               `json:"earliest_start,omitempty"`
	CurrentJob           string               `json:"current_job,omitempty"`
	Motivation           string               `json:"motivation,omitempty"`
	Expectations         string               `json:"expectations,omitempty"`
	Start                string               `json:"start,omitempty"`
	Qualified            bool                 `json:"qualified"`
	Summary              string               `json:"summary,omitempty"`
	Experiences          []deliveryExperience `json:"experiences"`
	Educations           []deliveryEducation  `json:"educations"`
}

// resumePayload strips local ids; the partner creates its own applicant and
// resume records.
func (d *Delivery) resumePayload() map[string]any {
	experiences := make([]deliveryExperience, 0, len(d.Resume.Experiences))
	for _, exp := range d.Resume.Experiences {
		experiences = append(experiences, deliveryExperience{
			Position:       exp.Position,
			Start:          exp.Start,
			End:            exp.End,
			Company:        exp.Company,
			EmploymentType: exp.EmploymentType,
			Tasks:          exp.Tasks,
		})
	}

	educations := make([]deliveryEducation, 0, len(d.Resume.Educations))
	for _, edu := range d.Resume.Educations {
		educations = append(educations, deliveryEducation{
			End:         edu.End,
			Company:     edu.Company,
			Description: edu.Description,
		})
	}

	return map[string]any{
		"campaign_id": d.CampaignID,
		"applicant": deliveryApplicant{
			FirstName:  d.Applicant.FirstName,
			LastName:   d.Applicant.LastName,
			Email:      d.Applicant.Email,
			Phone:      d.Applicant.Phone,
			PostalCode: d.Applicant.PostalCode,
		},
		"resume": deliveryResume{
			PostalCode:           d.Resume.PostalCode,
			City:                 d.Resume.City,
			PreferredContactTime: d.Resume.PreferredContactTime,
			PreferredWorkload:    d.Resume.PreferredWorkload,
			WillingToRelocate:    d.Resume.WillingToRelocate,
			EarliestStart:        d.Resume.EarliestStart,
			CurrentJob:           d.Resume.CurrentJob,
			Motivation:           d.Resume.Motivation,
			Expectations:         d.Resume.Expectations,
			Start:                d.Resume.Start,
			Qualified:            d.Resume.Qualified,
			Summary:              d.Resume.Summary,
			Experiences:          experiences,
			Educations:           educations,
		},
	}
}

func (d *Delivery) transcriptPayload() map[string]any {
	var pages []protocol.MinimalPage
	if d.Minimal != nil {
		pages = d.Minimal.Pages
	}
	return map[string]any{
		"campaign_id":     d.CampaignID,
		"conversation_id": d.ConversationID,
		"applicant":       d.applicantRef(),
		"pages":           pages,
	}
}

func (d *Delivery) metaPayload() map[string]any {
	return map[string]any{
		"conversation_id":  d.ConversationID,
		"campaign_id":      d.CampaignID,
		"applicant":        d.applicantRef(),
		"protocol_source":  fmt.Sprintf("api_campaign_%s", d.CampaignID),
		"call":             d.callMetadata(),
		"temporal_context": d.temporalContext(),
	}
}

// callMetadata renders the raw envelope plus human-readable duration, start
// time, and cost.
func (d *Delivery) callMetadata() map[string]any {
	if d.Metadata == nil {
		return map[string]any{}
	}
	m := d.Metadata

	out := map[string]any{
		"conversation_id":      m.ConversationID,
		"agent_id":             m.AgentID,
		"status":               m.Status,
		"call_duration_secs":   m.CallDurationSecs,
		"start_time_unix_secs": m.StartTimeUnixSecs,
		"cost_cents":           m.CostCents,
		"termination_reason":   m.TerminationReason,
		"call_successful":      m.CallSuccessful,
		"call_summary":         m.CallSummary,
	}

	out["call_duration_formatted"] = fmt.Sprintf("%d:%02d", m.CallDurationSecs/60, m.CallDurationSecs%60)
	out["cost_formatted"] = fmt.Sprintf("€%.2f", float64(m.CostCents)/100)
	if m.StartTimeUnixSecs > 0 {
		out["start_time_formatted"] = time.Unix(m.StartTimeUnixSecs, 0).UTC().Format("2006-01-02 15:04:05")
	}

	return out
}

func (d *Delivery) temporalContext() map[string]any {
	out := map[string]any{
		"temporal_annotations_count": d.AnnotationCount,
	}
	if d.Temporal != nil {
		out["call_date"] = d.Temporal.CallDate
		out["call_year"] = d.Temporal.CallYear
		out["call_month"] = d.Temporal.CallMonth
		out["mentioned_years"] = d.Temporal.MentionedYears
	}
	if d.Metadata != nil && d.Metadata.StartTimeUnixSecs > 0 {
		out["call_timestamp"] = d.Metadata.StartTimeUnixSecs
	}
	return out
}
