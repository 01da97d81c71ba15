package webhook

import (
	"encoding/json"
	"net/mail"
	"strings"
)

// SaleStatus is the lifecycle status reported by the sales platform.
// Unrecognized values are preserved as-is: whether an unknown status is an
// error is a business decision made by the engine, not by validation.
type SaleStatus string

const (
	StatusPaid        SaleStatus = "paid"
	StatusRefunded    SaleStatus = "refunded"
	StatusChargedback SaleStatus = "chargedback"
)

// SaleEvent is the normalized view of a validated webhook payload. It is
// only ever constructed by ValidateEvent; no partially populated instance
// exists.
type SaleEvent struct {
	SellerRef          string
	CustomerEmail      string
	CustomerFullName   string
	ProductName        string
	SaleStatus         SaleStatus
	AuthorizationToken string
}

// Rejection classifies a payload that failed validation. Message is the
// caller-facing response text, Detail the log line naming the offending
// field.
type Rejection struct {
	Message string
	Detail  string
}

var requiredKeys = []string{"seller", "client", "product", "sale"}

// ValidateEvent checks a raw payload for structural completeness and
// field-level correctness. Raw-payload logging is the engine's concern and
// happens before this runs, independent of the result.
func ValidateEvent(rawBody []byte, headers map[string]string) (*SaleEvent, *Rejection) {
	var payload map[string]any
	if len(rawBody) == 0 || json.Unmarshal(rawBody, &payload) != nil || payload == nil {
		return nil, &Rejection{Message: "No data provided", Detail: "No data provided in request."}
	}

	for _, key := range requiredKeys {
		if _, ok := payload[key]; !ok {
			return nil, &Rejection{Message: "Missing data: " + key, Detail: "Missing data: " + key + " in request."}
		}
	}

	client, okClient := payload["client"].(map[string]any)
	product, okProduct := payload["product"].(map[string]any)
	sale, okSale := payload["sale"].(map[string]any)
	if !okClient || !okProduct || !okSale {
		return nil, &Rejection{Message: "Invalid data format", Detail: "Invalid data format in request."}
	}

	email := strings.TrimSpace(stringField(client, "email"))
	if !validEmail(email) {
		return nil, &Rejection{Message: "Invalid email address", Detail: "Invalid email address provided: " + email}
	}

	fullName := strings.TrimSpace(stringField(client, "name"))
	if fullName == "" {
		return nil, &Rejection{Message: "Full name is empty", Detail: "Full name is empty."}
	}

	return &SaleEvent{
		SellerRef:          opaqueRef(payload["seller"]),
		CustomerEmail:      email,
		CustomerFullName:   fullName,
		ProductName:        strings.TrimSpace(stringField(product, "name")),
		SaleStatus:         SaleStatus(stringField(sale, "status")),
		AuthorizationToken: headerValue(headers, "Authorization"),
	}, nil
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// validEmail applies RFC-basic syntax validation: the value must parse as
// a bare address with no display name.
func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// opaqueRef keeps the seller reference opaque: strings pass through,
// anything else is carried as its compact JSON encoding.
func opaqueRef(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
