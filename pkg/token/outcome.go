package token

import "encoding/json"

// Outcome is the result of a verification call. It is either valid, with
// Claims set and Reason empty, or invalid, with a Reason and Err.
//
// SignatureValid is reported separately because a token can carry a
// correct signature over a payload that is not a JSON object.
type Outcome struct {
	Valid          bool
	SignatureValid bool
	Claims         Claims
	Header         Header
	Reason         Reason
	Err            error
}

func validOutcome(header Header, claims Claims) Outcome {
	return Outcome{
		Valid:          true,
		SignatureValid: true,
		Claims:         claims,
		Header:         header,
	}
}

func invalidOutcome(header Header, signatureValid bool, err error) Outcome {
	return Outcome{
		SignatureValid: signatureValid,
		Header:         header,
		Reason:         ReasonOf(err),
		Err:            err,
	}
}

type outcomeJSON struct {
	Valid          bool    `json:"valid"`
	SignatureValid bool    `json:"signature_valid"`
	Reason         Reason  `json:"reason,omitempty"`
	Error          string  `json:"error,omitempty"`
	Header         *Header `json:"header,omitempty"`
	Claims         Claims  `json:"claims,omitempty"`
}

// MarshalJSON renders the outcome for CLI and HTTP output
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{
		Valid:          o.Valid,
		SignatureValid: o.SignatureValid,
		Reason:         o.Reason,
		Claims:         o.Claims,
	}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	if o.Header != (Header{}) {
		h := o.Header
		out.Header = &h
	}
	return json.Marshal(out)
}
