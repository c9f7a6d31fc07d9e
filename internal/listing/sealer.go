package listing

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Details are the free-text fields folded into a listing's payload.
type Details struct {
	ServiceType  string `json:"serviceType"`
	Description  string `json:"description"`
	Availability string `json:"availability"`
}

// Sealer turns listing details into the opaque payload stored in
// Record.Data and back. The controller never interprets the payload.
type Sealer interface {
	Seal(d Details) (string, error)
	Open(payload string) (Details, error)
}

// envelopePrefix marks payloads written by EnvelopeSealer; records created by
// the browser client carry the same prefix.
const envelopePrefix = "FHE-"

var ErrNotEnvelope = errors.New("payload is not an envelope")

// EnvelopeSealer base64-encodes the JSON form of the details. It is an
// encoding, not encryption: anyone holding the payload can read it.
type EnvelopeSealer struct{}

func (EnvelopeSealer) Seal(d Details) (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal details: %w", err)
	}
	return envelopePrefix + base64.StdEncoding.EncodeToString(b), nil
}

func (EnvelopeSealer) Open(payload string) (Details, error) {
	rest, ok := strings.CutPrefix(payload, envelopePrefix)
	if !ok {
		return Details{}, ErrNotEnvelope
	}
	b, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return Details{}, fmt.Errorf("%w: %v", ErrNotEnvelope, err)
	}
	var d Details
	if err := json.Unmarshal(b, &d); err != nil {
		return Details{}, fmt.Errorf("%w: %v", ErrNotEnvelope, err)
	}
	return d, nil
}
