// SPDX-License-Identifier: ice License 1.0

package model

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/mailru/easyjson"
	"github.com/tidwall/gjson"
)

type (
	EnvelopeType string

	Envelope interface {
		json.Marshaler
		Label() string
	}

	// EventEnvelope is ["EVENT", <subscription id>, <event>] when delivered by
	// the relay and ["EVENT", <event>] when published by the client.
	EventEnvelope struct {
		SubscriptionID *string
		Event          Event
	}

	OKEnvelope struct {
		EventID string
		OK      bool
		Reason  string
	}

	EOSEEnvelope string

	NoticeEnvelope string

	// AuthEnvelope carries the relay challenge inbound and the signed
	// kind-22242 response outbound.
	AuthEnvelope struct {
		Challenge *string
		Event     *Event
	}

	CountEnvelope struct {
		SubscriptionID string
		Filters
		Count *int64
	}

	// ReqEnvelope is used both for outbound queries and for requests the relay
	// itself issues to the client (same wire shape, opposite direction).
	ReqEnvelope struct {
		SubscriptionID string
		Filters
	}

	CloseEnvelope string

	ClosedEnvelope struct {
		SubscriptionID string
		Reason         string
	}

	// UnrecognizedEnvelope is the pass-through variant for labels this client
	// does not know, so forward-compatible relays do not break it.
	UnrecognizedEnvelope struct {
		Type EnvelopeType
		Raw  json.RawMessage
	}
)

const (
	EnvelopeTypeEvent  EnvelopeType = "EVENT"
	EnvelopeTypeReq    EnvelopeType = "REQ"
	EnvelopeTypeCount  EnvelopeType = "COUNT"
	EnvelopeTypeNotice EnvelopeType = "NOTICE"
	EnvelopeTypeEOSE   EnvelopeType = "EOSE"
	EnvelopeTypeOK     EnvelopeType = "OK"
	EnvelopeTypeAuth   EnvelopeType = "AUTH"
	EnvelopeTypeClosed EnvelopeType = "CLOSED"
	EnvelopeTypeClose  EnvelopeType = "CLOSE"
)

func (*EventEnvelope) Label() string        { return string(EnvelopeTypeEvent) }
func (*OKEnvelope) Label() string           { return string(EnvelopeTypeOK) }
func (EOSEEnvelope) Label() string          { return string(EnvelopeTypeEOSE) }
func (NoticeEnvelope) Label() string        { return string(EnvelopeTypeNotice) }
func (*AuthEnvelope) Label() string         { return string(EnvelopeTypeAuth) }
func (*CountEnvelope) Label() string        { return string(EnvelopeTypeCount) }
func (*ReqEnvelope) Label() string          { return string(EnvelopeTypeReq) }
func (CloseEnvelope) Label() string         { return string(EnvelopeTypeClose) }
func (*ClosedEnvelope) Label() string       { return string(EnvelopeTypeClosed) }
func (v *UnrecognizedEnvelope) Label() string { return string(v.Type) }

func (v *EventEnvelope) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	switch len(arr) {
	case 2:
		if !arr[1].IsObject() {
			return errors.Wrapf(ErrMalformedFrame, "EVENT: second element is not an event object: %s", data)
		}

		return errors.Wrapf(easyjson.Unmarshal([]byte(arr[1].Raw), &v.Event.Event), "failed to decode event: %s", data)
	case 3:
		if arr[1].Type != gjson.String || !arr[2].IsObject() {
			return errors.Wrapf(ErrMalformedFrame, "EVENT: wrong element types: %s", data)
		}
		v.SubscriptionID = &arr[1].Str

		return errors.Wrapf(easyjson.Unmarshal([]byte(arr[2].Raw), &v.Event.Event), "failed to decode event: %s", data)
	default:
		return errors.Wrapf(ErrMalformedFrame, "EVENT: wrong number of elements (%v): %s", len(arr), data)
	}
}

func (v *EventEnvelope) MarshalJSON() ([]byte, error) {
	data := []any{EnvelopeTypeEvent}
	if v.SubscriptionID != nil {
		data = append(data, *v.SubscriptionID)
	}
	data = append(data, &v.Event.Event)

	return json.Marshal(data)
}

func (v *OKEnvelope) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 4 {
		return errors.Wrapf(ErrMalformedFrame, "OK: wrong number of elements (%v): %s", len(arr), data)
	}
	if arr[1].Type != gjson.String || !arr[2].IsBool() || arr[3].Type != gjson.String {
		return errors.Wrapf(ErrMalformedFrame, "OK: wrong element types: %s", data)
	}
	v.EventID = arr[1].Str
	v.OK = arr[2].Bool()
	v.Reason = arr[3].Str

	return nil
}

func (v *OKEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{EnvelopeTypeOK, v.EventID, v.OK, v.Reason})
}

func (v *EOSEEnvelope) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 2 || arr[1].Type != gjson.String {
		return errors.Wrapf(ErrMalformedFrame, "EOSE: missing subscription id: %s", data)
	}
	*v = EOSEEnvelope(arr[1].Str)

	return nil
}

func (v EOSEEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{EnvelopeTypeEOSE, string(v)})
}

func (v *NoticeEnvelope) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 2 || arr[1].Type != gjson.String {
		return errors.Wrapf(ErrMalformedFrame, "NOTICE: missing message: %s", data)
	}
	*v = NoticeEnvelope(arr[1].Str)

	return nil
}

func (v NoticeEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{EnvelopeTypeNotice, string(v)})
}

func (v *AuthEnvelope) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 2 {
		return errors.Wrapf(ErrMalformedFrame, "AUTH: missing challenge: %s", data)
	}
	if arr[1].IsObject() {
		v.Event = new(Event)

		return errors.Wrapf(easyjson.Unmarshal([]byte(arr[1].Raw), &v.Event.Event), "failed to decode auth event: %s", data)
	}
	if arr[1].Type != gjson.String {
		return errors.Wrapf(ErrMalformedFrame, "AUTH: challenge is not a string: %s", data)
	}
	v.Challenge = &arr[1].Str

	return nil
}

func (v *AuthEnvelope) MarshalJSON() ([]byte, error) {
	if v.Event != nil {
		return json.Marshal([]any{EnvelopeTypeAuth, &v.Event.Event})
	}

	return json.Marshal([]any{EnvelopeTypeAuth, v.Challenge})
}

func (v *CountEnvelope) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 3 {
		return errors.Wrapf(ErrMalformedFrame, "COUNT: wrong number of elements (%v): %s", len(arr), data)
	}
	if arr[1].Type != gjson.String {
		return errors.Wrapf(ErrMalformedFrame, "COUNT: subscription id is not a string: %s", data)
	}
	v.SubscriptionID = arr[1].Str

	var countResult struct {
		Count *int64 `json:"count"`
	}
	if err := json.Unmarshal([]byte(arr[2].Raw), &countResult); err == nil && countResult.Count != nil {
		v.Count = countResult.Count

		return nil
	}

	v.Filters = make(Filters, len(arr)-2)
	for i := 2; i < len(arr); i++ {
		if err := easyjson.Unmarshal([]byte(arr[i].Raw), &v.Filters[i-2]); err != nil {
			return errors.Wrapf(ErrMalformedFrame, "COUNT: bad filter %v: %s", i-2, data)
		}
	}

	return nil
}

func (v *CountEnvelope) MarshalJSON() ([]byte, error) {
	data := []any{EnvelopeTypeCount, v.SubscriptionID}
	if v.Count != nil {
		count := struct {
			Count int64 `json:"count"`
		}{Count: *v.Count}
		data = append(data, &count)
	} else if len(v.Filters) > 0 {
		filterData, err := marshalFilters(v.Filters)
		if err != nil {
			return nil, err
		}
		data = append(data, filterData...)
	}

	return json.Marshal(data)
}

func (v *CountEnvelope) String() string {
	data, _ := json.Marshal(v)

	return string(data)
}

func (v *ReqEnvelope) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 3 {
		return errors.Wrapf(ErrMalformedFrame, "REQ: missing filters: %s", data)
	}
	if arr[1].Type != gjson.String {
		return errors.Wrapf(ErrMalformedFrame, "REQ: subscription id is not a string: %s", data)
	}
	v.SubscriptionID = arr[1].Str
	v.Filters = make(Filters, len(arr)-2)
	for i := 2; i < len(arr); i++ {
		if !arr[i].IsObject() {
			return errors.Wrapf(ErrMalformedFrame, "REQ: filter %v is not an object: %s", i-2, data)
		}
		if err := easyjson.Unmarshal([]byte(arr[i].Raw), &v.Filters[i-2]); err != nil {
			return errors.Wrapf(ErrMalformedFrame, "REQ: bad filter %v: %s", i-2, data)
		}
	}

	return nil
}

func (v *ReqEnvelope) MarshalJSON() ([]byte, error) {
	data := []any{EnvelopeTypeReq, v.SubscriptionID}
	if len(v.Filters) > 0 {
		filterData, err := marshalFilters(v.Filters)
		if err != nil {
			return nil, err
		}
		data = append(data, filterData...)
	}

	return json.Marshal(data)
}

func (v *ReqEnvelope) String() string {
	data, _ := json.Marshal(v)

	return string(data)
}

func (v *CloseEnvelope) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 2 || arr[1].Type != gjson.String {
		return errors.Wrapf(ErrMalformedFrame, "CLOSE: missing subscription id: %s", data)
	}
	*v = CloseEnvelope(arr[1].Str)

	return nil
}

func (v CloseEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{EnvelopeTypeClose, string(v)})
}

func (v *ClosedEnvelope) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 2 || arr[1].Type != gjson.String {
		return errors.Wrapf(ErrMalformedFrame, "CLOSED: missing subscription id: %s", data)
	}
	v.SubscriptionID = arr[1].Str
	if len(arr) > 2 && arr[2].Type == gjson.String {
		v.Reason = arr[2].Str
	}

	return nil
}

func (v *ClosedEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{EnvelopeTypeClosed, v.SubscriptionID, v.Reason})
}

func (v *UnrecognizedEnvelope) MarshalJSON() ([]byte, error) {
	return v.Raw, nil
}

func marshalFilters(filters Filters) ([]any, error) {
	messages := make([]any, 0, len(filters))
	for _, filter := range filters {
		filterData, err := json.Marshal(filter)
		if err != nil {
			return nil, err
		}
		messages = append(messages, json.RawMessage(filterData))
	}

	return messages, nil
}
