package api

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/ojhub/realtime/src/types"
)

// OJ wraps the judge endpoints used by the realtime layer.
type OJ struct {
	client Client
}

// NewOJ binds the judge endpoints to a Client.
func NewOJ(c Client) *OJ {
	return &OJ{client: c}
}

// SubmitCodeRequest is the body of a new submission.
type SubmitCodeRequest struct {
	ProblemID int    `json:"problem_id"`
	Language  string `json:"language"`
	Code      string `json:"code"`
	ContestID int    `json:"contest_id,omitempty"`
}

// GetSubmission fetches one submission by id.
func (o *OJ) GetSubmission(ctx context.Context, id string) (*types.Submission, error) {
	var sub types.Submission
	if err := o.client.Get(ctx, "submission", url.Values{"id": {id}}, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// SubmitCode creates a submission and returns its id.
func (o *OJ) SubmitCode(ctx context.Context, req SubmitCodeRequest) (string, error) {
	var out struct {
		SubmissionID string `json:"submission_id"`
	}
	if err := o.client.Post(ctx, "submission", req, &out); err != nil {
		return "", err
	}
	return out.SubmissionID, nil
}

// GetWebsiteConfig fetches the site configuration as raw values by key.
func (o *OJ) GetWebsiteConfig(ctx context.Context) (map[string]json.RawMessage, error) {
	cfg := make(map[string]json.RawMessage)
	if err := o.client.Get(ctx, "website", nil, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
