package mqtt

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
	"github.com/xtxerr/axislog/internal/errors"
)

// Format selects how message payloads are decoded.
type Format int

const (
	// FormatAuto picks the decoder from the content type or the first byte.
	FormatAuto Format = iota

	// FormatText is a single decimal number, e.g. "0.981".
	FormatText

	// FormatSenMLJSON is a SenML pack in JSON (RFC 8428).
	FormatSenMLJSON

	// FormatSenMLCBOR is a SenML pack in CBOR (RFC 8428).
	FormatSenMLCBOR
)

// Content types of the formats.
const (
	ContentTypeText      = "text/plain"
	ContentTypeSenMLJSON = "application/senml+json"
	ContentTypeSenMLCBOR = "application/senml+cbor"
)

// ParseFormat parses a configured payload format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "auto", "":
		return FormatAuto, nil
	case "text":
		return FormatText, nil
	case "senml-json":
		return FormatSenMLJSON, nil
	case "senml-cbor":
		return FormatSenMLCBOR, nil
	default:
		return FormatAuto, fmt.Errorf("unknown payload format %q", s)
	}
}

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatSenMLJSON:
		return "senml-json"
	case FormatSenMLCBOR:
		return "senml-cbor"
	default:
		return "auto"
	}
}

// Record is one SenML record. Only numeric values are used; the JSON and
// CBOR labels follow RFC 8428.
type Record struct {
	BaseName string   `json:"bn,omitempty" cbor:"-2,keyasint,omitempty"`
	BaseTime float64  `json:"bt,omitempty" cbor:"-3,keyasint,omitempty"`
	Name     string   `json:"n,omitempty" cbor:"0,keyasint,omitempty"`
	Unit     string   `json:"u,omitempty" cbor:"1,keyasint,omitempty"`
	Value    *float64 `json:"v,omitempty" cbor:"2,keyasint,omitempty"`
	Time     float64  `json:"t,omitempty" cbor:"6,keyasint,omitempty"`
}

// Decode returns the numeric values carried by payload, in order.
// contentType may be empty.
func Decode(format Format, contentType string, payload []byte) ([]float64, error) {
	if format == FormatAuto {
		format = detect(contentType, payload)
	}

	switch format {
	case FormatText:
		return decodeText(payload)
	case FormatSenMLJSON:
		var records []Record
		if err := json.Unmarshal(payload, &records); err != nil {
			return nil, invalid("senml-json", err)
		}
		return values(records)
	case FormatSenMLCBOR:
		var records []Record
		if err := cbor.Unmarshal(payload, &records); err != nil {
			return nil, invalid("senml-cbor", err)
		}
		return values(records)
	default:
		return nil, invalid(format.String(), fmt.Errorf("unsupported format"))
	}
}

func detect(contentType string, payload []byte) Format {
	switch {
	case strings.HasPrefix(contentType, ContentTypeSenMLJSON):
		return FormatSenMLJSON
	case strings.HasPrefix(contentType, ContentTypeSenMLCBOR):
		return FormatSenMLCBOR
	case strings.HasPrefix(contentType, ContentTypeText):
		return FormatText
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return FormatSenMLJSON
	}
	// CBOR major type 4 (array)
	if len(payload) > 0 && payload[0]>>5 == 4 {
		return FormatSenMLCBOR
	}
	return FormatText
}

func decodeText(payload []byte) ([]float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return nil, invalid("text", err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, invalid("text", fmt.Errorf("not a finite number: %s", payload))
	}
	return []float64{v}, nil
}

func values(records []Record) ([]float64, error) {
	out := make([]float64, 0, len(records))
	for _, r := range records {
		if r.Value == nil {
			continue
		}
		out = append(out, *r.Value)
	}
	if len(out) == 0 {
		return nil, invalid("senml", fmt.Errorf("pack has no numeric value"))
	}
	return out, nil
}

func invalid(format string, err error) error {
	return fmt.Errorf("%w: %s: %v", errors.ErrInvalidPayload, format, err)
}

// EncodeText renders a value as a text payload.
func EncodeText(v float64) []byte {
	return strconv.AppendFloat(nil, v, 'f', -1, 64)
}

// EncodeSenMLJSON renders values as a SenML JSON pack named name.
func EncodeSenMLJSON(name string, vs ...float64) ([]byte, error) {
	return json.Marshal(pack(name, vs))
}

// EncodeSenMLCBOR renders values as a SenML CBOR pack named name.
func EncodeSenMLCBOR(name string, vs ...float64) ([]byte, error) {
	return cbor.Marshal(pack(name, vs))
}

func pack(name string, vs []float64) []Record {
	records := make([]Record, len(vs))
	for i := range vs {
		records[i] = Record{Value: &vs[i]}
	}
	if len(records) > 0 {
		records[0].BaseName = name
	}
	return records
}
