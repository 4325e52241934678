// Package transcript converts post-call webhook payloads into the typed
// dialogue the pipeline consumes, and annotates relative date phrases with
// absolute hints.
package transcript

import (
	"encoding/json"
	"fmt"

	"github.com/callpilot/protofill/internal/protocol"
)

// Turn is one dialogue utterance.
type Turn struct {
	Speaker protocol.Speaker `json:"speaker"`
	Text    string           `json:"text"`
	// Original keeps the un-annotated text once temporal enrichment ran.
	Original string `json:"original_text,omitempty"`
}

// Metadata is the call envelope shipped alongside the transcript.
type Metadata struct {
	ConversationID    string `json:"conversation_id"`
	AgentID           string `json:"agent_id"`
	Status            string `json:"status"`
	CallDurationSecs  int    `json:"call_duration_secs"`
	StartTimeUnixSecs int64  `json:"start_time_unix_secs"`
	CostCents         int    `json:"cost_cents"`
	TerminationReason string `json:"termination_reason"`
	CallSuccessful    string `json:"call_successful"`
	CallSummary       string `json:"call_summary"`
	PhoneNumber       string `json:"phone_number,omitempty"`
	CandidateName     string `json:"candidate_name"`
	CandidateFirst    string `json:"candidate_first_name,omitempty"`
	CandidateLast     string `json:"candidate_last_name,omitempty"`
	CompanyName       string `json:"company_name"`
	CampaignRoleTitle string `json:"campaign_role_title"`
	CampaignLocation  string `json:"campaign_location"`
	CampaignID        string `json:"campaign_id"`
}

const webhookTypeTranscription = "post_call_transcription"

type webhookPayload struct {
	Type string `json:"type"`
	Data struct {
		ConversationID string `json:"conversation_id"`
		AgentID        string `json:"agent_id"`
		Status         string `json:"status"`
		Transcript     []struct {
			Role           string `json:"role"`
			Message        string `json:"message"`
			TimeInCallSecs int    `json:"time_in_call_secs"`
		} `json:"transcript"`
		Metadata struct {
			CallDurationSecs  int    `json:"call_duration_secs"`
			StartTimeUnixSecs int64  `json:"start_time_unix_secs"`
			Cost              int    `json:"cost"`
			TerminationReason string `json:"termination_reason"`
			PhoneCall         struct {
				ExternalNumber string `json:"external_number"`
			} `json:"phone_call"`
		} `json:"metadata"`
		Analysis struct {
			CallSuccessful    string `json:"call_successful"`
			TranscriptSummary string `json:"transcript_summary"`
		} `json:"analysis"`
		ClientData struct {
			DynamicVariables map[string]string `json:"dynamic_variables"`
		} `json:"conversation_initiation_client_data"`
	} `json:"data"`
}

// Parse decodes a raw webhook body and returns the dialogue turns plus the
// call metadata. Tool calls (empty messages) and unknown roles are dropped.
func Parse(body []byte) ([]Turn, *Metadata, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	if payload.Type != webhookTypeTranscription {
		return nil, nil, fmt.Errorf("expected type %q, got %q", webhookTypeTranscription, payload.Type)
	}

	var turns []Turn
	for _, item := range payload.Data.Transcript {
		if item.Message == "" {
			continue
		}
		var speaker protocol.Speaker
		switch item.Role {
		case "user":
			speaker = protocol.SpeakerCandidate
		case "agent":
			speaker = protocol.SpeakerAgent
		default:
			continue
		}
		turns = append(turns, Turn{Speaker: speaker, Text: item.Message})
	}

	vars := payload.Data.ClientData.DynamicVariables
	candidateName := vars["candidatefirst_name"]
	if last := vars["candidatelast_name"]; last != "" {
		if candidateName != "" {
			candidateName += " "
		}
		candidateName += last
	}

	meta := &Metadata{
		ConversationID:    payload.Data.ConversationID,
		AgentID:           payload.Data.AgentID,
		Status:            payload.Data.Status,
		CallDurationSecs:  payload.Data.Metadata.CallDurationSecs,
		StartTimeUnixSecs: payload.Data.Metadata.StartTimeUnixSecs,
		CostCents:         payload.Data.Metadata.Cost,
		TerminationReason: payload.Data.Metadata.TerminationReason,
		CallSuccessful:    payload.Data.Analysis.CallSuccessful,
		CallSummary:       payload.Data.Analysis.TranscriptSummary,
		PhoneNumber:       payload.Data.Metadata.PhoneCall.ExternalNumber,
		CandidateName:     candidateName,
		CandidateFirst:    vars["candidatefirst_name"],
		CandidateLast:     vars["candidatelast_name"],
		CompanyName:       vars["companyname"],
		CampaignRoleTitle: vars["campaignrole_title"],
		CampaignLocation:  vars["campaignlocation_label"],
		CampaignID:        vars["campaignid"],
	}

	return turns, meta, nil
}
