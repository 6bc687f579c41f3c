package sevsnp

import (
	"encoding/base32"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// dcode embeds an arbitrary byte string across a TLS certificate's
// Subject Alternative Names as a sequence of DNS names
// "NN<base32-chunk>.<prefix>.<domain>", NN a two-digit zero-padded chunk
// index.
const dcodeIndexWidth = 2

var dcodeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// DecodeSAN filters sans for names containing ".<prefix>.", orders them
// by their two-digit chunk index, strips the index, concatenates the
// base32 chunks, and decodes the result. It fails if no SAN matches the
// prefix or if a chunk is not valid base32 (case-insensitive, RFC 4648
// alphabet).
func DecodeSAN(sans []string, prefix string) ([]byte, error) {
	marker := "." + prefix + "."
	type chunk struct {
		index int
		data  string
	}
	var chunks []chunk

	for _, san := range sans {
		if !strings.Contains(san, marker) {
			continue
		}
		label := san[:strings.Index(san, marker)]
		if len(label) < dcodeIndexWidth {
			continue
		}
		idx, err := strconv.Atoi(label[:dcodeIndexWidth])
		if err != nil {
			continue
		}
		chunks = append(chunks, chunk{index: idx, data: label[dcodeIndexWidth:]})
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("sevsnp: no SAN entries matched prefix %q", prefix)
	}

	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].index < chunks[j].index })

	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.data)
	}

	decoded, err := dcodeEncoding.DecodeString(strings.ToUpper(b.String()))
	if err != nil {
		return nil, fmt.Errorf("sevsnp: invalid base32 in dcode SAN for prefix %q: %w", prefix, err)
	}
	return decoded, nil
}

// EncodeSAN is the inverse of DecodeSAN: it base32-encodes payload, splits
// the encoding into equal runs (the last may be shorter), and renders each as an "NN<chunk>.<prefix>.<apex>"
// DNS name. Used by tests to exercise the round trip and by fixture
// generators.
func EncodeSAN(payload []byte, prefix, apex string, chunkBytes int) ([]string, error) {
	if chunkBytes <= 0 {
		return nil, fmt.Errorf("sevsnp: chunkBytes must be positive")
	}
	encoded := dcodeEncoding.EncodeToString(payload)

	// chunkBytes is expressed in input bytes; convert to a run of base32
	// characters (8 chars per 5 bytes, rounded down). Boundaries fall on
	// byte edges only when chunkBytes is a multiple of 5; DecodeSAN joins
	// all chunks before decoding, so a split byte does not matter.
	charsPerChunk := (chunkBytes * 8) / 5
	if charsPerChunk == 0 {
		charsPerChunk = len(encoded)
	}

	var sans []string
	idx := 0
	for start := 0; start < len(encoded); start += charsPerChunk {
		end := start + charsPerChunk
		if end > len(encoded) {
			end = len(encoded)
		}
		if idx > 99 {
			return nil, fmt.Errorf("sevsnp: payload needs more than 100 dcode chunks")
		}
		sans = append(sans, fmt.Sprintf("%02d%s.%s.%s", idx, strings.ToLower(encoded[start:end]), prefix, apex))
		idx++
	}
	return sans, nil
}
