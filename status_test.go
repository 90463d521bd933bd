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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusIsGood(t *testing.T) {
	for status, good := range map[Status]bool{
		StatusHealthy:      true,
		StatusUnhealthy:    false,
		StatusUnreacheable: false,
		StatusRemoved:      false,
	} {
		if status.IsGood() != good {
			t.Errorf("IsGood(%s) = %v, want %v", status, status.IsGood(), good)
		}
	}
}

func TestUrlValueMarshal(t *testing.T) {
	for i, test := range []struct {
		value UrlValue
		want  string
	}{
		{
			UrlValue{Status: StatusHealthy, Data: json.RawMessage(`{"k":1}`)},
			`{"status":"Healthy","data":{"k":1}}`,
		},
		{
			// empty reason and URL are omitted, nil data encodes as null
			UrlValue{Status: StatusHealthy},
			`{"status":"Healthy","data":null}`,
		},
		{
			UrlValue{
				URL:    "https://a.example",
				Status: StatusUnreacheable,
				Reason: "connection refused",
				Data:   json.RawMessage(`null`),
			},
			`{"url":"https://a.example","status":"Unreacheable","reason":"connection refused","data":null}`,
		},
	} {
		got, err := json.Marshal(test.value)
		require.NoError(t, err, "test %d", i)
		assert.JSONEq(t, test.want, string(got), "test %d", i)
	}
}

func TestUrlValueUnknownFieldsRoundTrip(t *testing.T) {
	in := `{"status":"Unhealthy","reason":"504 Gateway Timeout","data":{"team":"infra"},"ttl":3600,"labels":["a","b"]}`

	var value UrlValue
	require.NoError(t, json.Unmarshal([]byte(in), &value))
	assert.Equal(t, StatusUnhealthy, value.Status)
	assert.Equal(t, "504 Gateway Timeout", value.Reason)
	assert.JSONEq(t, `{"team":"infra"}`, string(value.Data))

	out, err := json.Marshal(value)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out), "unknown fields must survive a decode/encode cycle")
}

func TestUrlValueRemarshalAfterPatch(t *testing.T) {
	in := `{"status":"Healthy","data":{"k":1},"future":"field"}`

	var value UrlValue
	require.NoError(t, json.Unmarshal([]byte(in), &value))
	value.Status = StatusUnreacheable
	value.Reason = "i/o timeout"

	out, err := json.Marshal(value)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"status":"Unreacheable","reason":"i/o timeout","data":{"k":1},"future":"field"}`,
		string(out))
}
