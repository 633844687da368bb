// Package catalog defines the product records exchanged with the POS system
// and the PLU corrections pushed back to it.
package catalog

import (
	"math"
	"strconv"
	"strings"
)

// InternalPrefix marks store-internal items in the description. Internal
// items live in the low PLU range.
const InternalPrefix = "(I)"

// PLU ranges.
const (
	InternalMin uint16 = 1
	InternalMax uint16 = 999

	StandardMin uint16 = 1000
	StandardMax uint16 = 65535

	// StandardFloor is where probing for a fresh standard PLU begins.
	StandardFloor uint16 = 1001
)

// Item code position inside the UPC: bytes [3, 8).
const (
	itemCodeStart = 3
	itemCodeEnd   = 8
)

// Item is one product as returned by the POS catalog endpoint.
//
// Only the fields the scale sync needs are mapped; unknown fields are
// ignored on decode.
type Item struct {
	UPC               string   `json:"upc"`
	Description       string   `json:"description"`
	SecondDescription *string  `json:"secondDescription,omitempty"`
	DepartmentID      int32    `json:"departmentId"`
	SectionID         *int32   `json:"sectionId,omitempty"`
	NormalPrice       float64  `json:"normal_price"`
	PLU               *string  `json:"PLU,omitempty"`
	Weighed           bool     `json:"scale"`
	Active            bool     `json:"active"`
	Deleted           bool     `json:"Deleted"`
	QuantityOnHand    *float64 `json:"QuantityOnHand,omitempty"`
}

// Assignment is a PLU correction for one UPC.
type Assignment struct {
	UPC string `json:"upc"`
	PLU uint16 `json:"plu"`
}

// IsInternal reports whether the item belongs to the internal PLU range.
// The category is derived from the description on every call.
func (it *Item) IsInternal() bool {
	return strings.HasPrefix(it.Description, InternalPrefix)
}

// ParsedPLU returns the item's PLU as a number. Missing, blank or
// non-numeric values report false.
func (it *Item) ParsedPLU() (uint16, bool) {
	if it.PLU == nil {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(*it.PLU), 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

// InRange reports whether plu lies inside the range the item's category
// requires.
func (it *Item) InRange(plu uint16) bool {
	if it.IsInternal() {
		return plu >= InternalMin && plu <= InternalMax
	}
	return plu >= StandardMin
}

// ItemCode extracts the 5-digit item code embedded in the UPC.
func (it *Item) ItemCode() (uint32, bool) {
	if len(it.UPC) < itemCodeEnd {
		return 0, false
	}
	raw := it.UPC[itemCodeStart:itemCodeEnd]
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// PriceCents converts the decimal unit price to integer cents.
func (it *Item) PriceCents() uint32 {
	if it.NormalPrice <= 0 {
		return 0
	}
	return uint32(math.Round(it.NormalPrice * 100))
}

// Ingredients returns the ingredient text carried in the second
// description, or "" when absent.
func (it *Item) Ingredients() string {
	if it.SecondDescription == nil {
		return ""
	}
	return strings.TrimSpace(*it.SecondDescription)
}

// Section returns the section id, treating a missing section as 0.
// Negative ids are kept and sort first.
func (it *Item) Section() int32 {
	if it.SectionID == nil {
		return 0
	}
	return *it.SectionID
}

// Quantity returns the quantity on hand, treating a missing value as 0.
func (it *Item) Quantity() float64 {
	if it.QuantityOnHand == nil {
		return 0
	}
	return *it.QuantityOnHand
}
