package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Encoder writes newline-delimited JSON frames.
type Encoder struct {
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode validates f and writes it as one line.
func (e *Encoder) Encode(f *Frame) error {
	if err := Validate(f); err != nil {
		return err
	}
	if err := e.enc.Encode(f); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited JSON frames.
type Decoder struct {
	dec *json.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields() // Strict parsing
	return &Decoder{dec: dec}
}

// Decode reads the next frame into f. It returns io.EOF unchanged when the
// stream ends cleanly between frames.
func (d *Decoder) Decode(f *Frame) error {
	*f = Frame{}
	if err := d.dec.Decode(f); err != nil {
		if err == io.EOF {
			return err
		}
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	return Validate(f)
}

// Validate checks the required fields of each frame type.
func Validate(f *Frame) error {
	switch f.Type {
	case TypeCall:
		if f.ID == 0 {
			return fmt.Errorf("call frame missing required field: id")
		}
		if f.Kind == "" || f.Method == "" {
			return fmt.Errorf("call frame missing required field: kind/method")
		}
	case TypeMessage:
		if f.Kind == "" || f.Method == "" {
			return fmt.Errorf("message frame missing required field: kind/method")
		}
	case TypeReply:
		if f.ID == 0 {
			return fmt.Errorf("reply frame missing required field: id")
		}
	case "":
		return fmt.Errorf("frame missing required field: type")
	default:
		return fmt.Errorf("invalid frame type: %q (must be 'call', 'reply' or 'message')", f.Type)
	}
	if f.Error != nil && f.Type != TypeReply {
		return fmt.Errorf("%s frame must not carry an error", f.Type)
	}
	return nil
}

// Marshal encodes a payload value. A nil value encodes as no payload.
func Marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a payload into v, rejecting unknown fields.
func Unmarshal(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
