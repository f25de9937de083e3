package models

import (
	"encoding/json"
	"strconv"
)

// Paystack charge statuses
const (
	ChargeSuccess    = "success"
	ChargeFailed     = "failed"
	ChargePayOffline = "pay_offline"
	ChargeAbandoned  = "abandoned"
)

// Webhook event kinds
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// InitializeRequest is the body of POST /transaction/initialize.
type InitializeRequest struct {
	Amount      int64             `json:"amount"`
	Email       string            `json:"email"`
	Currency    string            `json:"currency"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url"`
	Channels    []string          `json:"channels,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MobileMoney is the mobile_money block of a charge request.
type MobileMoney struct {
	Phone    string `json:"phone"`
	Provider string `json:"provider"`
}

// CustomField is rendered by Paystack on its dashboard.
type CustomField struct {
	DisplayName  string `json:"display_name"`
	VariableName string `json:"variable_name"`
	Value        string `json:"value"`
}

// ChargeMetadata tags a charge with the donation it belongs to.
type ChargeMetadata struct {
	DonationID         uint          `json:"donation_id"`
	DonorName          string        `json:"donor_name,omitempty"`
	ProjectDesignation string        `json:"project_designation,omitempty"`
	CustomFields       []CustomField `json:"custom_fields,omitempty"`
}

// ChargeRequest is the body of POST /charge.
type ChargeRequest struct {
	Amount      int64          `json:"amount"`
	Email       string         `json:"email"`
	Currency    string         `json:"currency"`
	Reference   string         `json:"reference,omitempty"`
	MobileMoney MobileMoney    `json:"mobile_money"`
	Metadata    ChargeMetadata `json:"metadata"`
}

// InitializeData is the data block of an initialize response.
type InitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// InitializeResponse is the decoded body of POST /transaction/initialize.
type InitializeResponse struct {
	Status  bool           `json:"status"`
	Message string         `json:"message"`
	Data    InitializeData `json:"data"`
}

// TransactionData is the transaction shape shared by charge, verify and webhook payloads.
type TransactionData struct {
	ID              GatewayID `json:"id"`
	Reference       string    `json:"reference"`
	Status          string    `json:"status"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Message         string    `json:"message"`
	GatewayResponse string    `json:"gateway_response"`
	DisplayText     string    `json:"display_text"`
	Channel         string    `json:"channel"`
	PaidAt          string    `json:"paid_at"`
}

// ChargeResponse is the decoded body of POST /charge.
type ChargeResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    TransactionData `json:"data"`
}

// VerifyResponse is the decoded body of GET /transaction/verify/{reference}.
type VerifyResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    TransactionData `json:"data"`
}

// WebhookEvent is a decoded webhook payload. Known kinds carry Data; every
// kind keeps the raw JSON.
type WebhookEvent struct {
	Kind  string
	Data  *TransactionData
	Raw   json.RawMessage
	Known bool
}

// ParseWebhookEvent decodes a webhook body. Unrecognised event kinds are
// returned with Known=false and no Data.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var envelope struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}

	event := &WebhookEvent{Kind: envelope.Event, Raw: json.RawMessage(body)}
	switch envelope.Event {
	case EventChargeSuccess, EventChargeFailed:
		var data TransactionData
		if len(envelope.Data) > 0 {
			if err := json.Unmarshal(envelope.Data, &data); err != nil {
				return nil, err
			}
		}
		event.Data = &data
		event.Known = true
	}
	return event, nil
}

// GatewayID accepts both numeric and string transaction ids.
type GatewayID string

func (g *GatewayID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*g = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*g = GatewayID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*g = GatewayID(s)
	return nil
}

func (g GatewayID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(g), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(g))
}

func (g GatewayID) String() string {
	return string(g)
}
