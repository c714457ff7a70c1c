package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"trustmint/internal/verification/models"
	dErrors "trustmint/pkg/domain-errors"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-SHA2-Signature"

// webhook is the provider's envelope. Flat bodies carrying check_reference and
// result at the top level are accepted too; the replay tooling produces them.
type webhook struct {
	Payload *struct {
		ResourceType string `json:"resource_type"`
		Action       string `json:"action"`
		Object       struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Result string `json:"result"`
		} `json:"object"`
	} `json:"payload"`

	CheckReference string `json:"check_reference"`
	CheckRefCamel  string `json:"checkReference"`
	Result         string `json:"result"`
	Event          string `json:"event"`
}

// ParseCallback normalizes a webhook body. Only an unparseable body or one
// without a check reference is malformed. An empty result means the check has
// not finished; an unrecognized result is left empty with RawResult set.
func ParseCallback(raw []byte) (models.Callback, error) {
	var w webhook
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.Callback{}, dErrors.Wrap(err, dErrors.CodeMalformedPayload, "callback body is not valid JSON")
	}

	var cb models.Callback
	var result string
	if w.Payload != nil {
		cb.CheckReference = w.Payload.Object.ID
		cb.Event = w.Payload.Action
		result = w.Payload.Object.Result
	} else {
		cb.CheckReference = w.CheckReference
		if cb.CheckReference == "" {
			cb.CheckReference = w.CheckRefCamel
		}
		cb.Event = w.Event
		result = w.Result
	}
	cb.CheckReference = strings.TrimSpace(cb.CheckReference)
	if cb.CheckReference == "" {
		return models.Callback{}, dErrors.New(dErrors.CodeMalformedPayload, "callback has no check reference")
	}

	parsed, ok := parseResult(result)
	if !ok {
		cb.RawResult = strings.TrimSpace(result)
	}
	cb.Result = parsed
	return cb, nil
}

func parseResult(s string) (models.CheckResult, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", true
	case "clear", "pass", "passed", "approved":
		return models.CheckPassed, true
	case "consider", "fail", "failed", "rejected", "unidentified":
		return models.CheckFailed, true
	default:
		return "", false
	}
}

// VerifySignature checks header against the HMAC-SHA256 of body under secret.
// An empty secret disables verification.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return nil
	}
	got, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil || len(got) == 0 {
		return dErrors.New(dErrors.CodeUnauthorized, "missing or malformed webhook signature")
	}
	if !hmac.Equal(got, Sign(secret, body)) {
		return dErrors.New(dErrors.CodeUnauthorized, "webhook signature mismatch")
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body. Hex-encode it for the header.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
