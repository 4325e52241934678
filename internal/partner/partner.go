// Package partner talks to the hiring partner API: it fetches questionnaire
// templates per campaign and delivers processed call results over three
// endpoints.
package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/callpilot/protofill/internal/protocol"
)

const userAgent = "callpilot/protofill"

// Client is the partner API client. Auth uses the raw token in the
// Authorization header, without a Bearer prefix.
type Client struct {
	ctx        context.Context
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	APIURL     string
}

// New builds a client for the given API base URL.
func New(ctx context.Context, logger *zap.Logger, apiURL, token string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		ctx:    ctx,
		token:  token,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	req.Header.Set("Authorization", c.token)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// GetQuestionnaire fetches the protocol template bound to a campaign.
func (c *Client) GetQuestionnaire(campaignID string) (*protocol.Protocol, error) {
	url := fmt.Sprintf("%s/questionnaire/%s", c.APIURL, campaignID)

	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req = c.setHeaders(req)

	c.logger.Debug("fetching questionnaire", zap.String("campaign_id", campaignID))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch questionnaire: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch questionnaire: bad status: %s", resp.Status)
	}

	var p protocol.Protocol
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode questionnaire: %w", err)
	}
	return &p, nil
}

// EndpointResult is the outcome of one delivery endpoint.
type EndpointResult struct {
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DeliveryReport collects the outcomes of all three delivery endpoints.
type DeliveryReport struct {
	Resume     EndpointResult `json:"resume"`
	Transcript EndpointResult `json:"transcript"`
	Metadata   EndpointResult `json:"metadata"`
}

// Succeeded counts the endpoints that accepted their payload.
func (r *DeliveryReport) Succeeded() int {
	n := 0
	for _, e := range []EndpointResult{r.Resume, r.Transcript, r.Metadata} {
		if e.OK {
			n++
		}
	}
	return n
}

// Deliver pushes one processed call to the partner. The resume endpoint runs
// first because it creates or matches the applicant; the transcript and
// metadata endpoints follow. A failed endpoint is recorded in the report and
// does not stop the remaining deliveries.
func (c *Client) Deliver(d *Delivery) (*DeliveryReport, error) {
	if c.APIURL == "" || c.token == "" {
		return nil, fmt.Errorf("partner API not configured")
	}
	if d.CampaignID == "" {
		return nil, fmt.Errorf("campaign id is required for delivery")
	}

	report := &DeliveryReport{}

	report.Resume = c.post(
		fmt.Sprintf("%s/applicants/resume", c.APIURL),
		d.resumePayload(),
	)
	report.Transcript = c.post(
		fmt.Sprintf("%s/campaigns/%s/transcript/", c.APIURL, d.CampaignID),
		d.transcriptPayload(),
	)
	report.Metadata = c.post(
		fmt.Sprintf("%s/applicants/ai/call/meta", c.APIURL),
		d.metaPayload(),
	)

	c.logger.Info("partner delivery finished",
		zap.String("campaign_id", d.CampaignID),
		zap.String("conversation_id", d.ConversationID),
		zap.Int("succeeded", report.Succeeded()),
	)

	return report, nil
}

func (c *Client) post(url string, payload any) EndpointResult {
	body, err := json.Marshal(payload)
	if err != nil {
		return EndpointResult{Error: err.Error()}
	}

	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return EndpointResult{Error: err.Error()}
	}
	req = c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.logger.Warn("delivery request failed", zap.String("url", url), zap.Error(err))
		return EndpointResult{Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("delivery rejected",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet),
		)
		return EndpointResult{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("bad status: %s", resp.Status),
		}
	}

	return EndpointResult{OK: true, StatusCode: resp.StatusCode}
}
