package rest

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// submitPaymentSchema validates the wire shape of a payment submission
// before any address or amount parsing happens. Amounts travel as decimal
// strings so arbitrary-precision values survive JSON.
const submitPaymentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["contentRef", "payer", "recipient", "asset", "amount"],
  "additionalProperties": false,
  "properties": {
    "contentRef": {
      "type": "string",
      "minLength": 1,
      "maxLength": 512
    },
    "payer": {
      "type": "string",
      "pattern": "^0x[0-9a-fA-F]{40}$"
    },
    "recipient": {
      "type": "string",
      "pattern": "^0x[0-9a-fA-F]{40}$"
    },
    "asset": {
      "type": "string",
      "pattern": "^0x[0-9a-fA-F]{40}$"
    },
    "amount": {
      "type": "string",
      "pattern": "^[0-9]+$"
    }
  }
}`

var submitPaymentLoader = gojsonschema.NewStringLoader(submitPaymentSchema)

// validateSubmitPayment runs the JSON schema over the raw request body.
// Returns a human-readable summary of every violation, or "" when valid.
func validateSubmitPayment(body []byte) (string, error) {
	result, err := gojsonschema.Validate(submitPaymentLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return "", fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return "", nil
	}
	reasons := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.String())
	}
	return strings.Join(reasons, "; "), nil
}
