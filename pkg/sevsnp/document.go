package sevsnp

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
)

// DecodeReportBody reverses the wire encoding of AttestationDocument.Body:
// base64-decode, then gzip-decompress, yielding the raw SEV-SNP report
// bytes ready for ParseReport.
func DecodeReportBody(body string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("sevsnp: report body is not valid base64: %w", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("sevsnp: report body is not valid gzip: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("sevsnp: failed to decompress report body: %w", err)
	}
	return raw, nil
}

// EncodeReportBody is the inverse of DecodeReportBody, used by tests and
// by anything constructing a fixture document.
func EncodeReportBody(raw []byte) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
