// Copyright 2019 The SpO2 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package spo2

import (
	"encoding/json"
	"fmt"
)

// Status is the last judgment of a monitored URL.
type Status string

// The four states a URL can report. Removed only ever appears in outbound
// event frames; it is never written to the store.
const (
	StatusHealthy      Status = "Healthy"
	StatusUnhealthy    Status = "Unhealthy"
	StatusUnreacheable Status = "Unreacheable" // the misspelling is part of the wire format
	StatusRemoved      Status = "Removed"
)

// IsGood reports whether the status needs no attention.
func (s Status) IsGood() bool { return s == StatusHealthy }

func (s Status) String() string { return string(s) }

// UrlValue is the record kept for one monitored URL. The URL itself is the
// store key; it is attached to the value only when the record leaves the
// process (event frames, /all listings) so receivers can identify the
// subject.
//
// Data belongs to the client that registered the URL and is carried through
// status updates untouched. Fields this version does not know about are
// preserved across a decode/encode cycle so that newer writers do not lose
// state to older readers.
type UrlValue struct {
	URL    string
	Status Status
	Reason string
	Data   json.RawMessage

	extra map[string]json.RawMessage
}

// MarshalJSON encodes the record, omitting the URL when unset and the
// reason when empty, and carrying any unknown fields along.
func (v UrlValue) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(v.extra)+4)
	for name, raw := range v.extra {
		fields[name] = raw
	}

	status, err := json.Marshal(v.Status)
	if err != nil {
		return nil, fmt.Errorf("encoding status: %v", err)
	}
	fields["status"] = status

	if v.Reason != "" {
		reason, err := json.Marshal(v.Reason)
		if err != nil {
			return nil, fmt.Errorf("encoding reason: %v", err)
		}
		fields["reason"] = reason
	}

	if len(v.Data) > 0 {
		fields["data"] = v.Data
	} else {
		fields["data"] = json.RawMessage("null")
	}

	if v.URL != "" {
		u, err := json.Marshal(v.URL)
		if err != nil {
			return nil, fmt.Errorf("encoding url: %v", err)
		}
		fields["url"] = u
	}

	return json.Marshal(fields)
}

// UnmarshalJSON decodes the record, stashing unknown fields for the next
// MarshalJSON call.
func (v *UrlValue) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	*v = UrlValue{}

	if raw, ok := fields["url"]; ok {
		if err := json.Unmarshal(raw, &v.URL); err != nil {
			return fmt.Errorf("decoding url: %v", err)
		}
		delete(fields, "url")
	}
	if raw, ok := fields["status"]; ok {
		if err := json.Unmarshal(raw, &v.Status); err != nil {
			return fmt.Errorf("decoding status: %v", err)
		}
		delete(fields, "status")
	}
	if raw, ok := fields["reason"]; ok {
		if err := json.Unmarshal(raw, &v.Reason); err != nil {
			return fmt.Errorf("decoding reason: %v", err)
		}
		delete(fields, "reason")
	}
	if raw, ok := fields["data"]; ok {
		v.Data = raw
		delete(fields, "data")
	}
	if len(fields) > 0 {
		v.extra = fields
	}

	return nil
}

// Report is one entry on the alert channel, consumed by the notifier.
// Still marks a periodic reminder that the URL has stayed in a bad state,
// as opposed to a fresh transition.
type Report struct {
	URL    string
	Status Status
	Still  bool
	Reason string
}
