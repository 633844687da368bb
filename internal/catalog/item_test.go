package catalog

import (
	"encoding/json"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestItem_ParsedPLU(t *testing.T) {
	tests := []struct {
		name   string
		plu    *string
		want   uint16
		wantOK bool
	}{
		{"nil", nil, 0, false},
		{"numeric", strPtr("1234"), 1234, true},
		{"padded", strPtr(" 42 "), 42, true},
		{"empty", strPtr(""), 0, false},
		{"alpha", strPtr("12a"), 0, false},
		{"overflow", strPtr("70000"), 0, false},
		{"negative", strPtr("-1"), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := Item{PLU: tt.plu}
			got, ok := it.ParsedPLU()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParsedPLU() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestItem_InRange(t *testing.T) {
	internal := Item{Description: "(I) Salami"}
	standard := Item{Description: "Turkey"}

	tests := []struct {
		name string
		item Item
		plu  uint16
		want bool
	}{
		{"internal zero", internal, 0, false},
		{"internal low", internal, 1, true},
		{"internal high", internal, 999, true},
		{"internal overflow", internal, 1000, false},
		{"standard low", standard, 999, false},
		{"standard floor", standard, 1000, true},
		{"standard max", standard, 65535, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.InRange(tt.plu); got != tt.want {
				t.Errorf("InRange(%d) = %v, want %v", tt.plu, got, tt.want)
			}
		})
	}
}

func TestItem_ItemCode(t *testing.T) {
	tests := []struct {
		upc    string
		want   uint32
		wantOK bool
	}{
		{"00212345000000", 12345, true},
		{"00200042", 42, true},
		{"0020004", 0, false},
		{"002AB345000", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.upc, func(t *testing.T) {
			it := Item{UPC: tt.upc}
			got, ok := it.ItemCode()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ItemCode() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestItem_PriceCents(t *testing.T) {
	tests := []struct {
		price float64
		want  uint32
	}{
		{0, 0},
		{-1.5, 0},
		{4.99, 499},
		{12.5, 1250},
		{0.1 + 0.2, 30},
	}

	for _, tt := range tests {
		it := Item{NormalPrice: tt.price}
		if got := it.PriceCents(); got != tt.want {
			t.Errorf("PriceCents(%v) = %d, want %d", tt.price, got, tt.want)
		}
	}
}

func TestItem_Ingredients(t *testing.T) {
	it := Item{}
	if got := it.Ingredients(); got != "" {
		t.Errorf("Ingredients() = %q, want empty", got)
	}
	it.SecondDescription = strPtr("  pork, salt  ")
	if got := it.Ingredients(); got != "pork, salt" {
		t.Errorf("Ingredients() = %q, want %q", got, "pork, salt")
	}
}

func TestItem_DecodePOSPayload(t *testing.T) {
	payload := `{
		"upc": "00212345000000",
		"description": "Turkey Breast",
		"secondDescription": "turkey, salt",
		"departmentId": 7,
		"sectionId": 3,
		"normal_price": 8.99,
		"PLU": "1001",
		"scale": true,
		"active": true,
		"Deleted": false,
		"QuantityOnHand": 12.5,
		"unmapped": "ignored"
	}`

	var it Item
	if err := json.Unmarshal([]byte(payload), &it); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if it.UPC != "00212345000000" || it.DepartmentID != 7 || it.Section() != 3 {
		t.Errorf("decoded item = %+v", it)
	}
	if plu, ok := it.ParsedPLU(); !ok || plu != 1001 {
		t.Errorf("ParsedPLU() = (%d, %v), want (1001, true)", plu, ok)
	}
	if it.Quantity() != 12.5 {
		t.Errorf("Quantity() = %v, want 12.5", it.Quantity())
	}
	if !it.Weighed {
		t.Error("Weighed = false, want true")
	}
}

func TestItem_NegativeIDsDecode(t *testing.T) {
	payload := `[
		{"upc": "00200001000", "departmentId": -1, "sectionId": -3},
		{"upc": "00200002000", "departmentId": 4}
	]`

	var items []Item
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if items[0].DepartmentID != -1 || items[0].Section() != -3 {
		t.Errorf("first item = %+v", items[0])
	}
	if items[1].Section() != 0 {
		t.Errorf("missing section = %d, want 0", items[1].Section())
	}
}
