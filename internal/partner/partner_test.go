package partner

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/callpilot/protofill/internal/protocol"
	"github.com/callpilot/protofill/internal/resume"
	"github.com/callpilot/protofill/internal/transcript"
)

func sampleDelivery() *Delivery {
	return &Delivery{
		CampaignID:     "639",
		ConversationID: "conv_1",
		Applicant: resume.Applicant{
			ID: 42, FirstName: "Max", LastName: "Muster",
			Phone: "+49 911 1234567", PostalCode: "90402",
		},
		Resume: resume.Resume{
			ID: 1042, ApplicantID: 42, PostalCode: "90402",
			Experiences: []resume.Experience{{ID: 1, Position: "Pflegefachkraft"}},
			Educations:  []resume.Education{{ID: 1, Description: "Ausbildung Pflegefachkraft"}},
		},
		Minimal: &protocol.MinimalProtocol{
			ID: 7, Name: "Test",
			Pages: []protocol.MinimalPage{{ID: 1, Name: "Kriterien", Position: 1}},
		},
		Metadata: &transcript.Metadata{
			ConversationID:    "conv_1",
			CallDurationSecs:  245,
			StartTimeUnixSecs: 1767182400,
			CostCents:         12,
			CallSuccessful:    "success",
		},
		Temporal:        &transcript.Context{CallDate: "2026-01-15", CallYear: 2026, MentionedYears: []int{2019}},
		AnnotationCount: 3,
	}
}

func TestDeliverPostsAllThreeEndpoints(t *testing.T) {
	var paths []string
	bodies := map[string]map[string]any{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token123" {
			t.Errorf("missing raw token auth: %q", r.Header.Get("Authorization"))
		}
		paths = append(paths, r.URL.Path)

		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		json.Unmarshal(raw, &body)
		bodies[r.URL.Path] = body

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := New(context.Background(), zap.NewNop(), srv.URL, "token123")
	report, err := c.Deliver(sampleDelivery())
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if report.Succeeded() != 3 {
		t.Fatalf("want 3 successes, got %d: %+v", report.Succeeded(), report)
	}
	want := []string{"/applicants/resume", "/campaigns/639/transcript/", "/applicants/ai/call/meta"}
	if len(paths) != 3 {
		t.Fatalf("want 3 requests, got %v", paths)
	}
	for i, p := range want {
		if paths[i] != p {
			t.Fatalf("request order wrong: %v", paths)
		}
	}

	// Local ids must not leak into the resume payload.
	resumeBody := bodies["/applicants/resume"]
	applicant := resumeBody["applicant"].(map[string]any)
	if _, ok := applicant["id"]; ok {
		t.Fatalf("applicant id must not be sent: %v", applicant)
	}
	res := resumeBody["resume"].(map[string]any)
	if _, ok := res["applicant_id"]; ok {
		t.Fatalf("resume applicant_id must not be sent: %v", res)
	}
	exp := res["experiences"].([]any)[0].(map[string]any)
	if _, ok := exp["id"]; ok {
		t.Fatalf("experience id must not be sent: %v", exp)
	}

	meta := bodies["/applicants/ai/call/meta"]
	call := meta["call"].(map[string]any)
	if call["call_duration_formatted"] != "4:05" {
		t.Fatalf("duration formatting wrong: %v", call["call_duration_formatted"])
	}
	if call["cost_formatted"] != "€0.12" {
		t.Fatalf("cost formatting wrong: %v", call["cost_formatted"])
	}
	tctx := meta["temporal_context"].(map[string]any)
	if tctx["temporal_annotations_count"] != float64(3) {
		t.Fatalf("annotation count missing: %v", tctx)
	}
	if meta["protocol_source"] != "api_campaign_639" {
		t.Fatalf("protocol source wrong: %v", meta["protocol_source"])
	}
}

func TestDeliverContinuesAfterEndpointFailure(t *testing.T) {
	var count int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		if r.URL.Path == "/applicants/resume" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(context.Background(), zap.NewNop(), srv.URL, "token123")
	report, err := c.Deliver(sampleDelivery())
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if count != 3 {
		t.Fatalf("failed endpoint must not stop delivery, got %d requests", count)
	}
	if report.Resume.OK || report.Resume.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("resume failure not reported: %+v", report.Resume)
	}
	if !report.Transcript.OK || !report.Metadata.OK {
		t.Fatalf("remaining endpoints must succeed: %+v", report)
	}
}

func TestDeliverRequiresCampaignID(t *testing.T) {
	c := New(context.Background(), zap.NewNop(), "http://localhost", "token")
	d := sampleDelivery()
	d.CampaignID = ""
	if _, err := c.Deliver(d); err == nil {
		t.Fatalf("expected error for missing campaign id")
	}
}

func TestDeliverRequiresConfiguration(t *testing.T) {
	c := New(context.Background(), zap.NewNop(), "", "")
	if _, err := c.Deliver(sampleDelivery()); err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}

func TestGetQuestionnaire(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/questionnaire/639" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":   7,
			"name": "Pflege Protokoll",
			"pages": []map[string]any{
				{"id": 1, "name": "Kriterien", "prompts": []map[string]any{
					{"id": 101, "question": "Führerschein?", "type": "yes_no"},
				}},
			},
		})
	}))
	defer srv.Close()

	c := New(context.Background(), zap.NewNop(), srv.URL, "token123")
	p, err := c.GetQuestionnaire("639")
	if err != nil {
		t.Fatalf("get questionnaire: %v", err)
	}
	if p.ID != 7 || len(p.Pages) != 1 || p.Pages[0].Items[0].ID != 101 {
		t.Fatalf("decoded protocol wrong: %+v", p)
	}
}

func TestGetQuestionnaireBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(context.Background(), zap.NewNop(), srv.URL, "token123")
	if _, err := c.GetQuestionnaire("999"); err == nil {
		t.Fatalf("expected error on 404")
	}
}
