package agentrpc

import "fmt"

// TransportError wraps a gRPC-level failure (connection refused, deadline
// exceeded, codec error) — distinct from a business exception the agent
// itself reports, per the spec's "ability to raise a transport-level
// error distinct from a remote business exception" requirement.
type TransportError struct {
	AgentID string
	Method  string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("agentrpc: transport error calling %s on agent %s: %v", e.Method, e.AgentID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BusinessError is a structured failure the agent itself returned (the
// call reached the agent and it rejected or failed the request).
type BusinessError struct {
	AgentID string
	Method  string
	Detail  string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("agentrpc: agent %s rejected %s: %s", e.AgentID, e.Method, e.Detail)
}
