package services

import "encoding/json"

// RawOrder is an order as returned by the Toast orders API. Only the fields
// the sync pipeline consumes are decoded; Raw keeps the full payload.
type RawOrder struct {
	GUID           string        `json:"guid"`
	BusinessDate   int           `json:"businessDate"`
	OpenedDate     string        `json:"openedDate"`
	ClosedDate     string        `json:"closedDate"`
	PaidDate       string        `json:"paidDate"`
	Source         string        `json:"source"`
	Voided         bool          `json:"voided"`
	NumberOfGuests int           `json:"numberOfGuests"`
	DeliveryInfo   *DeliveryInfo `json:"deliveryInfo"`
	Checks         []Check       `json:"checks"`

	Raw json.RawMessage `json:"-"`
	// DecodeErr is set when the nested structure could not be decoded. The
	// order still carries its GUID so the failure can be attributed.
	DecodeErr error `json:"-"`
}

// DeliveryInfo is the delivery address attached to an order.
type DeliveryInfo struct {
	Address1 string `json:"address1"`
	Address2 string `json:"address2"`
	City     string `json:"city"`
	State    string `json:"state"`
	ZipCode  string `json:"zipCode"`
}

// Check is a sub-bill of an order.
type Check struct {
	GUID          string      `json:"guid"`
	DisplayNumber string      `json:"displayNumber"`
	Amount        float64     `json:"amount"`
	TaxAmount     float64     `json:"taxAmount"`
	TotalAmount   float64     `json:"totalAmount"`
	Customer      *Customer   `json:"customer"`
	Payments      []Payment   `json:"payments"`
	Selections    []Selection `json:"selections"`
}

// Customer is the guest attached to a check.
type Customer struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Payment is one tender applied to a check.
type Payment struct {
	GUID           string           `json:"guid"`
	Type           string           `json:"type"`
	Amount         float64          `json:"amount"`
	TipAmount      float64          `json:"tipAmount"`
	AmountTendered float64          `json:"amountTendered"`
	CardType       string           `json:"cardType"`
	Last4Digits    string           `json:"last4Digits"`
	PaidDate       string           `json:"paidDate"`
	RefundStatus   string           `json:"refundStatus"`
	VoidInfo       *json.RawMessage `json:"voidInfo"`
}

// Selection is a line item. Modifiers are selections nested under it.
type Selection struct {
	GUID             string      `json:"guid"`
	DisplayName      string      `json:"displayName"`
	Quantity         float64     `json:"quantity"`
	PreDiscountPrice float64     `json:"preDiscountPrice"`
	Price            float64     `json:"price"`
	Tax              float64     `json:"tax"`
	Voided           bool        `json:"voided"`
	Modifiers        []Selection `json:"modifiers"`
}

// UnmarshalJSON decodes leniently: a structurally broken order keeps its
// GUID and raw bytes and records the error instead of failing the page.
func (o *RawOrder) UnmarshalJSON(data []byte) error {
	type plain RawOrder

	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		var header struct {
			GUID string `json:"guid"`
		}
		if headerErr := json.Unmarshal(data, &header); headerErr != nil {
			return err
		}
		*o = RawOrder{GUID: header.GUID, DecodeErr: err}
	} else {
		*o = RawOrder(decoded)
	}

	o.Raw = append(json.RawMessage(nil), data...)
	return nil
}
