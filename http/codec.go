package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

// paymentRequiredSchema describes the decoded PAYMENT-REQUIRED document.
// Only the fields a payer needs to act on are constrained.
const paymentRequiredSchema = `{
  "type": "object",
  "required": ["x402Version", "accepts"],
  "properties": {
    "x402Version": {"type": "integer", "minimum": 1},
    "error": {"type": "string"},
    "resource": {
      "type": "object",
      "required": ["url"],
      "properties": {"url": {"type": "string"}}
    },
    "accepts": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["scheme", "network", "asset", "amount", "payTo"],
        "properties": {
          "scheme": {"type": "string", "minLength": 1},
          "network": {"type": "string", "pattern": "^[^:]+:[^:]+$"},
          "asset": {"type": "string", "minLength": 1},
          "amount": {"type": "string", "pattern": "^[0-9]+$"},
          "payTo": {"type": "string", "minLength": 1},
          "maxTimeoutSeconds": {"type": "integer", "minimum": 0},
          "extra": {"type": "object"}
        }
      }
    }
  }
}`

// paymentPayloadSchema describes the decoded PAYMENT-SIGNATURE document.
const paymentPayloadSchema = `{
  "type": "object",
  "required": ["x402Version", "accepted", "payload"],
  "properties": {
    "x402Version": {"type": "integer", "minimum": 1},
    "accepted": {"type": "object", "required": ["scheme", "network"]},
    "payload": {"type": "object"}
  }
}`

var (
	paymentRequiredLoader = gojsonschema.NewStringLoader(paymentRequiredSchema)
	paymentPayloadLoader  = gojsonschema.NewStringLoader(paymentPayloadSchema)
)

// EncodePaymentRequired renders a requirement as the PAYMENT-REQUIRED header
// value: standard base64 over JSON.
func EncodePaymentRequired(required x402.PaymentRequired) (string, error) {
	data, err := json.Marshal(required)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment required: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentRequired parses a PAYMENT-REQUIRED header value. Any failure
// (bad base64, bad JSON, empty accepts, non-integer amount) wraps
// x402.ErrMalformedRequirement.
func DecodePaymentRequired(token string) (x402.PaymentRequired, error) {
	data, err := decodeBase64(token)
	if err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("%w: %v", x402.ErrMalformedRequirement, err)
	}

	if err := validateDocument(paymentRequiredLoader, data); err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("%w: %v", x402.ErrMalformedRequirement, err)
	}

	var required x402.PaymentRequired
	if err := json.Unmarshal(data, &required); err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("%w: %v", x402.ErrMalformedRequirement, err)
	}

	return required, nil
}

// EncodePaymentSignature renders a signed payload as the PAYMENT-SIGNATURE
// header value.
func EncodePaymentSignature(payload x402.PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentSignature parses a PAYMENT-SIGNATURE (or legacy X-PAYMENT)
// header value.
func DecodePaymentSignature(header string) (x402.PaymentPayload, error) {
	if header == "" {
		return x402.PaymentPayload{}, fmt.Errorf("payment header is empty")
	}

	data, err := decodeBase64(header)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid payment header format: %w", err)
	}

	if err := validateDocument(paymentPayloadLoader, data); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid payment header: %w", err)
	}

	var payload x402.PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to parse payment payload: %w", err)
	}

	return payload, nil
}

// EncodePaymentResponse renders a settlement result as the PAYMENT-RESPONSE
// header value.
func EncodePaymentResponse(response x402.SettleResponse) (string, error) {
	data, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentResponse parses a PAYMENT-RESPONSE header value.
func DecodePaymentResponse(header string) (x402.SettleResponse, error) {
	data, err := decodeBase64(header)
	if err != nil {
		return x402.SettleResponse{}, fmt.Errorf("invalid payment response header: %w", err)
	}

	var response x402.SettleResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("invalid settle response JSON: %w", err)
	}
	return response, nil
}

func decodeBase64(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty value")
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	return data, nil
}

func validateDocument(schema gojsonschema.JSONLoader, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("not valid JSON")
	}

	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}
