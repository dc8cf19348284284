package optimizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/trueque-collective/trueque/internal/policy"
)

// ErrGeneratorFailed is returned when the external proposal generator is
// unreachable or returns output that cannot be decoded. It is handled
// like a validation failure: nothing is persisted.
var ErrGeneratorFailed = errors.New("policy generator failed")

// Prompt is the bounded context sent to the generator: the current
// policy, the aggregated metrics, and the version the proposal must
// carry. Only fixed, numeric fields go out; no free-form text from user
// data ever reaches the generator.
type Prompt struct {
	CurrentPolicy   *policy.ScoringPolicy `json:"current_policy"`
	Metrics         *MetricSnapshot       `json:"metrics"`
	ProposalVersion string                `json:"proposal_version"`
}

// Proposal is the generator's raw output, decoded provisionally. Every
// field is untrusted until the proposal passes the policy validator.
type Proposal struct {
	Weights     policy.Weights     `json:"weights"`
	Exploration policy.Exploration `json:"exploration"`
	Reciprocal  policy.Reciprocal  `json:"reciprocal"`
	Rationale   string             `json:"rationale"`
}

// Generator produces policy proposals. Implementations are external
// collaborators and must be treated as untrusted: their output goes
// through the validator before it can be persisted.
type Generator interface {
	Propose(ctx context.Context, prompt Prompt) (*Proposal, error)
}

// DefaultGeneratorTimeout bounds a single generator call.
const DefaultGeneratorTimeout = 30 * time.Second

// maxProposalBody caps how much generator output is read.
const maxProposalBody = 1 << 20

// HTTPGenerator calls a proposal service over HTTP: a single POST with
// the prompt as JSON, expecting a Proposal as JSON back.
type HTTPGenerator struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPGenerator creates an HTTPGenerator. A zero timeout falls back
// to DefaultGeneratorTimeout.
func NewHTTPGenerator(endpoint, apiKey string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = DefaultGeneratorTimeout
	}
	return &HTTPGenerator{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Propose sends the prompt and decodes the response.
func (g *HTTPGenerator) Propose(ctx context.Context, prompt Prompt) (*Proposal, error) {
	body, err := json.Marshal(prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding prompt: %v", ErrGeneratorFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrGeneratorFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneratorFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrGeneratorFailed, resp.StatusCode)
	}

	var proposal Proposal
	dec := json.NewDecoder(http.MaxBytesReader(nil, resp.Body, maxProposalBody))
	if err := dec.Decode(&proposal); err != nil {
		return nil, fmt.Errorf("%w: decoding proposal: %v", ErrGeneratorFailed, err)
	}
	return &proposal, nil
}
