package scale

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nerrad567/scalesync/internal/catalog"
)

// PLU record field sizes.
const (
	// NameSize is the name buffer width, including the terminating null.
	NameSize = 64

	// IngredientSize is the direct-ingredient buffer width, including the
	// terminating null.
	IngredientSize = 1024

	// RecordSize is the encoded size of a Record.
	//
	//	DepartmentNo(2) PLUNo(4) PLUType(1) Name(64) ItemCode(4)
	//	UnitPrice(4) LabelNo(2) UnitWeight(2) Ingredient(1024)
	RecordSize = 2 + 4 + 1 + NameSize + 4 + 4 + 2 + 2 + IngredientSize
)

// PLU types.
const (
	PLUTypeWeighed uint8 = 1
	PLUTypeFixed   uint8 = 2
)

// IngredientLabelNo selects the label format with an ingredient block.
const IngredientLabelNo uint16 = 62

// unitWeightDefault is the unit-weight code sent with every record.
const unitWeightDefault uint16 = 1

// DeleteAllName marks the delete-all command record. The scale echoes the
// record back, which is how its acknowledgment is recognised.
const DeleteAllName = "#SCALESYNC-DELETE-ALL#"

// Record is the fixed-format PLU record sent to a scale.
//
// Text fields hold at most their buffer size minus one byte; longer text is
// truncated and a null terminator is always present.
type Record struct {
	DepartmentNo uint16
	PLUNo        uint32
	PLUType      uint8
	Name         string
	ItemCode     uint32
	UnitPrice    uint32
	LabelNo      uint16
	UnitWeight   uint16
	Ingredient   string
}

// NewItemRecord builds the record for one catalog item. The item is
// expected to have passed plu.Restrict, so PLU and item code are valid;
// missing values encode as 0. The department id is clamped to [0, 65535].
func NewItemRecord(it *catalog.Item) Record {
	plu, _ := it.ParsedPLU()
	code, _ := it.ItemCode()

	dept := min(max(it.DepartmentID, 0), math.MaxUint16)

	rec := Record{
		DepartmentNo: uint16(dept),
		PLUNo:        uint32(plu),
		PLUType:      PLUTypeWeighed,
		Name:         it.Description,
		ItemCode:     code,
		UnitPrice:    it.PriceCents(),
		UnitWeight:   unitWeightDefault,
	}
	if !it.Weighed {
		rec.PLUType = PLUTypeFixed
	}
	if ing := it.Ingredients(); ing != "" {
		rec.LabelNo = IngredientLabelNo
		rec.Ingredient = ing
	}
	return rec
}

// NewDeleteAllRecord builds the command record that clears every PLU.
func NewDeleteAllRecord() Record {
	return Record{Name: DeleteAllName}
}

// IsDeleteAll reports whether r is (an echo of) the delete-all command.
func (r Record) IsDeleteAll() bool {
	return r.PLUNo == 0 && len(r.Name) >= len(DeleteAllName) && r.Name[:len(DeleteAllName)] == DeleteAllName
}

// Encode serialises the record into its fixed little-endian layout.
func (r Record) Encode() []byte {
	buf := make([]byte, RecordSize)
	off := 0

	binary.LittleEndian.PutUint16(buf[off:], r.DepartmentNo)
	off += 2
	binary.LittleEndian.PutUint32(buf[off:], r.PLUNo)
	off += 4
	buf[off] = r.PLUType
	off++
	putText(buf[off:off+NameSize], r.Name)
	off += NameSize
	binary.LittleEndian.PutUint32(buf[off:], r.ItemCode)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], r.UnitPrice)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], r.LabelNo)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], r.UnitWeight)
	off += 2
	putText(buf[off:off+IngredientSize], r.Ingredient)

	return buf
}

// DecodeRecord parses an encoded record.
func DecodeRecord(data []byte) (Record, error) {
	if len(data) != RecordSize {
		return Record{}, fmt.Errorf("%w: %d bytes, want %d", ErrShortRecord, len(data), RecordSize)
	}

	var r Record
	off := 0

	r.DepartmentNo = binary.LittleEndian.Uint16(data[off:])
	off += 2
	r.PLUNo = binary.LittleEndian.Uint32(data[off:])
	off += 4
	r.PLUType = data[off]
	off++
	r.Name = getText(data[off : off+NameSize])
	off += NameSize
	r.ItemCode = binary.LittleEndian.Uint32(data[off:])
	off += 4
	r.UnitPrice = binary.LittleEndian.Uint32(data[off:])
	off += 4
	r.LabelNo = binary.LittleEndian.Uint16(data[off:])
	off += 2
	r.UnitWeight = binary.LittleEndian.Uint16(data[off:])
	off += 2
	r.Ingredient = getText(data[off : off+IngredientSize])

	return r, nil
}

// putText copies s into dst, truncating to len(dst)-1 bytes so the last
// byte stays null. dst must be zeroed.
func putText(dst []byte, s string) {
	if len(dst) == 0 {
		return
	}
	n := len(s)
	if n > len(dst)-1 {
		n = len(dst) - 1
	}
	copy(dst, s[:n])
}

// getText reads a null-terminated string from src.
func getText(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}
