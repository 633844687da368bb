package pos

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strconv"

	"github.com/nerrad567/scalesync/internal/catalog"
)

// Multipart field names expected by the UpdateOnly endpoint.
const (
	partFile    = "1"
	partColumns = "2"
	partFlag    = "3"
	partStore   = "5[0]"

	updateFileName = "plu.csv"
)

// pluColumns is the CSV header of a PLU update.
var pluColumns = []string{"upc", "PLU"}

// encodeAssignments renders PLU corrections as a CRLF-terminated CSV with
// an upc,PLU header.
func encodeAssignments(assignments []catalog.Assignment) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = true

	if err := w.Write(pluColumns); err != nil {
		return nil, err
	}
	for _, a := range assignments {
		if err := w.Write([]string{a.UPC, strconv.FormatUint(uint64(a.PLU), 10)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildUpdateForm builds the multipart body for a field update.
//
// Returns:
//   - []byte: Encoded body
//   - string: Content-Type header including the boundary
//   - error: If encoding fails
func buildUpdateForm(storeID string, assignments []catalog.Assignment) ([]byte, string, error) {
	csvData, err := encodeAssignments(assignments)
	if err != nil {
		return nil, "", fmt.Errorf("encoding PLU csv: %w", err)
	}
	columns, err := json.Marshal(pluColumns)
	if err != nil {
		return nil, "", fmt.Errorf("encoding column list: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, partFile, updateFileName))
	header.Set("Content-Type", "text/plain")
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(csvData); err != nil {
		return nil, "", err
	}

	fields := []struct{ name, value string }{
		{partColumns, string(columns)},
		{partFlag, "false"},
		{partStore, storeID},
	}
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), mw.FormDataContentType(), nil
}
