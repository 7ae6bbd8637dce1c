package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/zamburak/zamburak/internal/authority"
	"github.com/zamburak/zamburak/internal/engine"
	"github.com/zamburak/zamburak/internal/graph"
	"github.com/zamburak/zamburak/internal/label"
	"github.com/zamburak/zamburak/internal/sink"
)

// --- Input/Output types ---

// EvaluateInput defines parameters for the zamburak_evaluate tool.
type EvaluateInput struct {
	Tool string `json:"tool" jsonschema:"tool name to evaluate"`
	// Args maps argument names to previously recorded value IDs.
	Args             map[string]uint64 `json:"args,omitempty" jsonschema:"argument name to value ID map"`
	PCIntegrity      []string          `json:"pc_integrity,omitempty" jsonschema:"integrity labels of the control context, e.g. Trusted or Untrusted"`
	HeldTokens       []string          `json:"held_tokens,omitempty" jsonschema:"authority token IDs the caller holds"`
	RedactionApplied bool              `json:"redaction_applied,omitempty" jsonschema:"whether outbound redaction transforms were applied"`
	CallPath         string            `json:"call_path,omitempty" jsonschema:"planner or quarantined"`
}

// EvaluateOutput carries the decision and, for non-Allow outcomes, the
// reason and witness.
type EvaluateOutput struct {
	CallID   string `json:"call_id"`
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
	// Witness is the pre-marshaled provenance trace. The node tree is
	// recursive, which the SDK's schema inference cannot express, so it
	// crosses the wire as raw JSON.
	Witness             json.RawMessage `json:"witness,omitempty" jsonschema:"redacted provenance trace for non-Allow decisions"`
	ConfidentialityTags []string        `json:"confidentiality_tags,omitempty"`
}

// RecordValueInput defines parameters for the zamburak_record_value tool.
type RecordValueInput struct {
	Integrity       string   `json:"integrity,omitempty" jsonschema:"integrity label; defaults to Untrusted"`
	Confidentiality []string `json:"confidentiality,omitempty" jsonschema:"confidentiality tags"`
	Parents         []uint64 `json:"parents,omitempty" jsonschema:"parent value IDs this value was derived from"`
	Op              string   `json:"op,omitempty" jsonschema:"operation kind that produced the value"`
}

// RecordValueOutput returns the new value's ID.
type RecordValueOutput struct {
	ValueID uint64 `json:"value_id"`
}

// MintTokenInput defines parameters for the zamburak_mint_token tool.
type MintTokenInput struct {
	Subject string   `json:"subject" jsonschema:"principal the token is issued to"`
	Scope   []string `json:"scope" jsonschema:"scope-resource identifiers the token grants"`
	TTL     string   `json:"ttl,omitempty" jsonschema:"validity duration (e.g. 1h); omit for no expiry"`
}

// DelegateTokenInput defines parameters for the zamburak_delegate_token tool.
type DelegateTokenInput struct {
	ParentID string   `json:"parent_id" jsonschema:"token to delegate from"`
	Subject  string   `json:"subject,omitempty" jsonschema:"child subject; inherits the parent's when omitted"`
	Scope    []string `json:"scope" jsonschema:"narrowed scope, a strict subset of the parent's"`
	TTL      string   `json:"ttl,omitempty" jsonschema:"narrowed validity duration; must fit the parent window"`
}

// TokenOutput describes one token.
type TokenOutput struct {
	ID        string   `json:"id"`
	Subject   string   `json:"subject"`
	Scope     []string `json:"scope"`
	IssuedAt  string   `json:"issued_at,omitempty"`
	ExpiresAt string   `json:"expires_at,omitempty"`
	ParentID  string   `json:"parent_id,omitempty"`
	Status    string   `json:"status"`
}

// RevokeTokenInput defines parameters for the zamburak_revoke_token tool.
type RevokeTokenInput struct {
	TokenID string `json:"token_id" jsonschema:"token to revoke"`
}

// RevokeTokenOutput confirms the revocation.
type RevokeTokenOutput struct {
	TokenID string `json:"token_id"`
	Status  string `json:"status"`
}

// ListTokensInput is empty; no parameters needed.
type ListTokensInput struct{}

// ListTokensOutput lists every token with its current status.
type ListTokensOutput struct {
	Tokens []TokenOutput `json:"tokens"`
}

// --- Handlers ---

func (s *Server) handleEvaluate(ctx context.Context, req *mcpsdk.CallToolRequest, input EvaluateInput) (*mcpsdk.CallToolResult, EvaluateOutput, error) {
	pc := make([]label.Integrity, 0, len(input.PCIntegrity))
	for _, raw := range input.PCIntegrity {
		integ, err := label.ParseIntegrity(raw)
		if err != nil {
			return nil, EvaluateOutput{}, fmt.Errorf("bad pc_integrity label %q: %w", raw, err)
		}
		pc = append(pc, integ)
	}
	args := make(map[string]graph.ValueID, len(input.Args))
	for name, id := range input.Args {
		args[name] = graph.ValueID(id)
	}
	path := sink.CallPath(input.CallPath)
	if path == "" {
		path = sink.PathPlanner
	}

	s.mu.Lock()
	guard := s.guard
	callID := s.nextCallID()
	executionID := s.executionID
	s.mu.Unlock()

	res, err := guard.PreDispatch(engine.CallRequest{
		ExecutionID:      executionID,
		CallID:           callID,
		Tool:             input.Tool,
		Args:             args,
		PCIntegrity:      pc,
		HeldTokenIDs:     input.HeldTokens,
		RedactionApplied: input.RedactionApplied,
	}, path)

	out := EvaluateOutput{
		CallID:              callID,
		Decision:            string(res.Decision),
		Reason:              string(res.Reason),
		Detail:              res.Detail,
		ConfidentialityTags: res.ConfidentialityTags,
	}
	if res.Witness != nil {
		data, merr := json.Marshal(res.Witness)
		if merr != nil {
			return nil, EvaluateOutput{}, fmt.Errorf("marshal witness: %w", merr)
		}
		out.Witness = data
	}
	if err != nil {
		var blocked *sink.BlockedError
		if errors.As(err, &blocked) {
			return &mcpsdk.CallToolResult{IsError: true}, out, nil
		}
		return nil, EvaluateOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) handleRecordValue(ctx context.Context, req *mcpsdk.CallToolRequest, input RecordValueInput) (*mcpsdk.CallToolResult, RecordValueOutput, error) {
	integ := label.Untrusted()
	if input.Integrity != "" {
		parsed, err := label.ParseIntegrity(input.Integrity)
		if err != nil {
			return nil, RecordValueOutput{}, fmt.Errorf("bad integrity label %q: %w", input.Integrity, err)
		}
		integ = parsed
	}
	parents := make([]graph.ValueID, 0, len(input.Parents))
	for _, p := range input.Parents {
		parents = append(parents, graph.ValueID(p))
	}

	id, err := s.graph.Add(integ, label.NewConfidentiality(input.Confidentiality...), parents, input.Op)
	if err != nil {
		return nil, RecordValueOutput{}, err
	}
	return nil, RecordValueOutput{ValueID: uint64(id)}, nil
}

func (s *Server) handleMintToken(ctx context.Context, req *mcpsdk.CallToolRequest, input MintTokenInput) (*mcpsdk.CallToolResult, TokenOutput, error) {
	validity, err := validityFromTTL(s.store.Clock().Now(), input.TTL)
	if err != nil {
		return nil, TokenOutput{}, err
	}
	tok, err := s.store.Mint(input.Subject, input.Scope, validity)
	if err != nil {
		return nil, TokenOutput{}, err
	}
	return nil, s.tokenOutput(tok), nil
}

func (s *Server) handleDelegateToken(ctx context.Context, req *mcpsdk.CallToolRequest, input DelegateTokenInput) (*mcpsdk.CallToolResult, TokenOutput, error) {
	validity, err := validityFromTTL(s.store.Clock().Now(), input.TTL)
	if err != nil {
		return nil, TokenOutput{}, err
	}
	tok, err := s.store.Delegate(input.ParentID, input.Subject, input.Scope, validity)
	if err != nil {
		return nil, TokenOutput{}, err
	}
	return nil, s.tokenOutput(tok), nil
}

func (s *Server) handleRevokeToken(ctx context.Context, req *mcpsdk.CallToolRequest, input RevokeTokenInput) (*mcpsdk.CallToolResult, RevokeTokenOutput, error) {
	s.store.Revoke(input.TokenID)
	return nil, RevokeTokenOutput{
		TokenID: input.TokenID,
		Status:  string(s.store.Validate(input.TokenID, s.store.Clock().Now())),
	}, nil
}

func (s *Server) handleListTokens(ctx context.Context, req *mcpsdk.CallToolRequest, input ListTokensInput) (*mcpsdk.CallToolResult, ListTokensOutput, error) {
	out := ListTokensOutput{}
	for _, tok := range s.store.All() {
		out.Tokens = append(out.Tokens, s.tokenOutput(tok))
	}
	return nil, out, nil
}

func (s *Server) tokenOutput(tok authority.Token) TokenOutput {
	out := TokenOutput{
		ID:       tok.ID,
		Subject:  tok.Subject,
		Scope:    tok.Scope,
		ParentID: tok.ParentID,
		Status:   string(s.store.Validate(tok.ID, s.store.Clock().Now())),
	}
	if !tok.IssuedAt.IsZero() {
		out.IssuedAt = tok.IssuedAt.UTC().Format(time.RFC3339)
	}
	if !tok.ExpiresAt.IsZero() {
		out.ExpiresAt = tok.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return out
}

func validityFromTTL(now time.Time, ttl string) (authority.Validity, error) {
	validity := authority.Validity{NotBefore: now}
	if ttl == "" {
		return validity, nil
	}
	d, err := time.ParseDuration(ttl)
	if err != nil {
		return authority.Validity{}, fmt.Errorf("bad ttl %q: %w", ttl, err)
	}
	validity.NotAfter = now.Add(d)
	return validity, nil
}
