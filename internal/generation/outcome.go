package generation

import "grantsmith/api/internal/proposal"

// Outcome is the tagged result of one generation call: either text or a
// classified failure. Adapters decide which, so the orchestrator never
// inspects text for error markers.
type Outcome struct {
	text    string
	failure *proposal.Failure
}

func Ok(text string) Outcome {
	return Outcome{text: text}
}

func Err(kind proposal.FailureKind, message string) Outcome {
	return Outcome{failure: &proposal.Failure{Kind: kind, Message: message}}
}

// Text returns the generated text when the call succeeded.
func (o Outcome) Text() (string, bool) {
	if o.failure != nil {
		return "", false
	}
	return o.text, true
}

// Failure returns the failure when the call did not succeed.
func (o Outcome) Failure() (proposal.Failure, bool) {
	if o.failure == nil {
		return proposal.Failure{}, false
	}
	return *o.failure, true
}

// OK reports whether the outcome carries text.
func (o Outcome) OK() bool {
	return o.failure == nil
}
