package models

import "time"

// Order represents an order snapshot delivered over the feed's
// postback channel. Field names mirror the broker's JSON payload.
type Order struct {
	AccountID string `json:"account_id"`
	PlacedBy  string `json:"placed_by"`

	OrderID         string `json:"order_id"`
	ExchangeOrderID string `json:"exchange_order_id"`
	ParentOrderID   string `json:"parent_order_id"`
	Status          string `json:"status"`
	StatusMessage   string `json:"status_message"`

	OrderTimestamp    OrderTime `json:"order_timestamp"`
	ExchangeTimestamp OrderTime `json:"exchange_timestamp"`

	Variety  string `json:"variety"`
	Modified bool   `json:"modified"`

	Exchange        string `json:"exchange"`
	TradingSymbol   string `json:"tradingsymbol"`
	InstrumentToken uint32 `json:"instrument_token"`

	OrderType       string  `json:"order_type"`
	TransactionType string  `json:"transaction_type"`
	Validity        string  `json:"validity"`
	Product         string  `json:"product"`
	Quantity        float64 `json:"quantity"`
	DisclosedQty    float64 `json:"disclosed_quantity"`
	Price           float64 `json:"price"`
	TriggerPrice    float64 `json:"trigger_price"`

	AveragePrice      float64 `json:"average_price"`
	FilledQuantity    float64 `json:"filled_quantity"`
	PendingQuantity   float64 `json:"pending_quantity"`
	CancelledQuantity float64 `json:"cancelled_quantity"`

	Tag string `json:"tag"`
}

// OrderTime parses the broker's zoneless timestamp strings. Empty or
// null values unmarshal to the zero time.
type OrderTime struct {
	time.Time
}

// Timestamp layouts seen in order payloads.
var orderTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *OrderTime) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	var lastErr error
	for _, layout := range orderTimeLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// MarshalJSON implements json.Marshaler.
func (t OrderTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Format("2006-01-02 15:04:05") + `"`), nil
}
