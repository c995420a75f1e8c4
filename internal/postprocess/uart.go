package postprocess

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// SerialMarker opens every serial detection dump.
const SerialMarker = "YOLO"

// WriteHex emits records in the serial text protocol:
//
//	YOLO
//	<count as %02X>
//	<count*12 bytes as uppercase hex, no separators>
//
// records must be the payload after the count byte, i.e. count*RecordSize
// bytes.
func WriteHex(w io.Writer, records []byte, count int) error {
	if count < 0 || count > MaxRecords || len(records) < count*RecordSize {
		return fmt.Errorf("%w: %d records with %d payload bytes", ErrMalformed, count, len(records))
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n%02X\n", SerialMarker, count)
	bw.WriteString(strings.ToUpper(hex.EncodeToString(records[:count*RecordSize])))
	bw.WriteByte('\n')
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write serial dump: %w", err)
	}
	return nil
}

// ReadHex parses a captured serial stream. Lines before the marker, such as
// boot or timing logs, are skipped.
func ReadHex(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)

	found := false
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == SerialMarker {
			found = true
			break
		}
	}
	if !found {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("failed to read serial dump: %w", err)
		}
		return nil, fmt.Errorf("%w: %q marker not found", ErrMalformed, SerialMarker)
	}

	if !sc.Scan() {
		return nil, fmt.Errorf("%w: missing count line", ErrMalformed)
	}
	count, err := strconv.ParseUint(strings.TrimSpace(sc.Text()), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: count line: %v", ErrMalformed, err)
	}

	payload := ""
	if count > 0 {
		if !sc.Scan() {
			return nil, fmt.Errorf("%w: missing record line", ErrMalformed)
		}
		payload = strings.TrimSpace(sc.Text())
	}
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: record line: %v", ErrMalformed, err)
	}
	buf := append([]byte{byte(count)}, raw...)
	return DecodeRecords(buf)
}
