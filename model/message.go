// SPDX-License-Identifier: ice License 1.0

package model

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

// ParseMessage decodes one relay frame into its typed envelope. It is pure and
// total over recognized labels: unknown labels come back as
// *UnrecognizedEnvelope, only structurally broken frames return an error.
func ParseMessage(message []byte) (Envelope, error) {
	parsed := gjson.ParseBytes(message)
	if !parsed.IsArray() {
		return nil, errors.Wrapf(ErrMalformedFrame, "not a json array: %s", message)
	}
	arr := parsed.Array()
	if len(arr) == 0 || arr[0].Type != gjson.String {
		return nil, errors.Wrapf(ErrMalformedFrame, "missing label: %s", message)
	}

	var (
		envelope Envelope
		err      error
	)
	switch EnvelopeType(arr[0].Str) {
	case EnvelopeTypeEvent:
		v := new(EventEnvelope)
		err = v.UnmarshalJSON(message)
		envelope = v
	case EnvelopeTypeOK:
		v := new(OKEnvelope)
		err = v.UnmarshalJSON(message)
		envelope = v
	case EnvelopeTypeEOSE:
		v := new(EOSEEnvelope)
		err = v.UnmarshalJSON(message)
		envelope = *v
	case EnvelopeTypeNotice:
		v := new(NoticeEnvelope)
		err = v.UnmarshalJSON(message)
		envelope = *v
	case EnvelopeTypeAuth:
		v := new(AuthEnvelope)
		err = v.UnmarshalJSON(message)
		envelope = v
	case EnvelopeTypeCount:
		v := new(CountEnvelope)
		err = v.UnmarshalJSON(message)
		envelope = v
	case EnvelopeTypeReq:
		v := new(ReqEnvelope)
		err = v.UnmarshalJSON(message)
		envelope = v
	case EnvelopeTypeClose:
		v := new(CloseEnvelope)
		err = v.UnmarshalJSON(message)
		envelope = *v
	case EnvelopeTypeClosed:
		v := new(ClosedEnvelope)
		err = v.UnmarshalJSON(message)
		envelope = v
	default:
		return &UnrecognizedEnvelope{
			Type: EnvelopeType(arr[0].Str),
			Raw:  json.RawMessage(message),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return envelope, nil
}
