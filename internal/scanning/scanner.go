package scanning

import (
	"context"
	"encoding/json"
)

// Extraction is what a model made of one invoice document. Exactly one of
// Record and Raw is set: Record holds the cleaned JSON object, Raw holds the
// model's text when no valid JSON could be recovered from it.
type Extraction struct {
	Record json.RawMessage `json:"record,omitempty"`
	Raw    string          `json:"raw,omitempty"`
}

// Structured reports whether the model produced a JSON object
func (e *Extraction) Structured() bool {
	return e != nil && len(e.Record) > 0
}

// Extractor defines the interface for invoice extraction
type Extractor interface {
	// Extract sends an invoice image or PDF to the model and returns the
	// parsed result. When the response holds no JSON object at all it
	// returns ErrNoJSON along with an Extraction carrying the raw text.
	Extract(ctx context.Context, data []byte, contentType string) (*Extraction, error)
	// Close releases the underlying client
	Close() error
}

// invoicePrompt is shared by every model provider
const invoicePrompt = `You are reading a scanned invoice. Extract its contents and return a single JSON object with exactly this structure, using null for any value you cannot find:

{
  "invoice_number": string or null,
  "invoice_date": string (YYYY-MM-DD) or null,
  "supplier": {
    "name": string or null,
    "address": string or null,
    "phone": string or null,
    "email": string or null
  },
  "client": {
    "name": string or null,
    "address": string or null,
    "phone": string or null,
    "email": string or null
  },
  "items": [
    {
      "description": string or null,
      "quantity": number or null,
      "unit_price": number or null,
      "total_price": number or null
    }
  ],
  "subtotal": number or null,
  "discount": number or null,
  "discount_percentage": number or null,
  "tax": number or null,
  "shipping_cost": number or null,
  "rounding_adjustment": number or null,
  "payment_terms": string or null,
  "currency": string or null,
  "total": number or null
}

Important:
- Amounts are plain numbers without currency symbols or thousands separators
- quantity is a whole number of units
- Copy amounts as printed; do not correct arithmetic that looks wrong
- Return only the JSON object, with no text before or after it`

// systemPrompt is used by providers that take a separate system message
const systemPrompt = "You are an expert at reading invoices. You read every line of the document carefully and report exactly what is printed."
