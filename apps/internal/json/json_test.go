// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package json

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"
)

type testPerson struct {
	Name             string
	ID               int `json:"id"`
	Meta             *testMeta
	AdditionalFields map[string]interface{}
}

type testMeta struct {
	Address          string
	AdditionalFields map[string]interface{}
}

type testBase struct {
	Code    string `json:"error"`
	Message string `json:"error_description"`
}

type testEmbedding struct {
	testBase
	Token            string `json:"access_token,omitempty"`
	AdditionalFields map[string]interface{}
}

type testShadowing struct {
	testBase
	Code             string `json:"error"`
	AdditionalFields map[string]interface{}
}

type testWrapper struct {
	Time             time.Time
	Project          testProject
	AdditionalFields map[string]interface{}
}

type testProject struct {
	Project          string
	Info             testInfo
	AdditionalFields map[string]interface{}
}

type testInfo struct {
	Employees        int
	AdditionalFields map[string]interface{}
}

func TestUnmarshal(t *testing.T) {
	now := time.Now()
	nowJSON, err := now.MarshalJSON()
	if err != nil {
		panic(err)
	}

	tests := []struct {
		desc string
		b    []byte
		got  interface{}
		want interface{}
		err  bool
	}{
		{
			desc: "receiver not a pointer",
			got:  testPerson{},
			b:    []byte(`{"content": "value"}`),
			err:  true,
		},
		{
			desc: "receiver not a pointer to a struct",
			got:  new(string),
			b:    []byte(`{"content": "value"}`),
			err:  true,
		},
		{
			desc: "AdditionalFields not a map",
			b:    []byte(`{"content": "value"}`),
			got: &struct {
				AdditionalFields string
			}{},
			err: true,
		},
		{
			desc: "AdditionalFields not a map[string]interface{}",
			b:    []byte(`{"content": "value"}`),
			got: &struct {
				AdditionalFields map[string]string
			}{},
			err: true,
		},
		{
			desc: "unknown fields land in AdditionalFields at every level",
			b: []byte(
				`
				{
					"Name": "John",
					"id": 3,
					"Meta": {
						"Address": "291 Street",
						"unknown0": 3.2
					},
					"unknown0": 10,
					"unknown1": "hello"
				}
				`,
			),
			got: &testPerson{},
			want: &testPerson{
				Name: "John",
				ID:   3,
				Meta: &testMeta{
					Address: "291 Street",
					AdditionalFields: map[string]interface{}{
						"unknown0": MarshalRaw(3.2),
					},
				},
				AdditionalFields: map[string]interface{}{
					"unknown0": MarshalRaw(10),
					"unknown1": MarshalRaw("hello"),
				},
			},
		},
		{
			desc: "a type implementing json.Unmarshaler is deferred to",
			b: []byte(fmt.Sprintf(`
				{
					"Time":%s,
					"Project": {
						"Project":"myProject",
						"Info":{
							"Employees":2
						}
					}
				}
			`, string(nowJSON))),
			got: &testWrapper{},
			want: &testWrapper{
				Time: now,
				Project: testProject{
					Project: "myProject",
					Info: testInfo{
						Employees: 2,
					},
				},
			},
		},
	}

	for _, test := range tests {
		err := Unmarshal(test.b, test.got)
		switch {
		case err == nil && test.err:
			t.Errorf("TestUnmarshal(%s): got err == nil, want err != nil", test.desc)
			continue
		case err != nil && !test.err:
			t.Errorf("TestUnmarshal(%s): got err == %s, want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}
		if diff := (&pretty.Config{IncludeUnexported: false}).Compare(test.want, test.got); diff != "" {
			t.Errorf("TestUnmarshal(%s): -want/+got:\n%s", test.desc, diff)
		}
	}
}

func TestUnmarshalEmbeddedStruct(t *testing.T) {
	b := []byte(`{"error":"invalid_grant","error_description":"bad code","access_token":"tok","unknown0":"x"}`)

	got := testEmbedding{}
	if err := Unmarshal(b, &got); err != nil {
		t.Fatalf("TestUnmarshalEmbeddedStruct: got err == %s, want err == nil", err)
	}
	if got.Code != "invalid_grant" {
		t.Errorf("TestUnmarshalEmbeddedStruct: got Code == %q, want %q", got.Code, "invalid_grant")
	}
	if got.Message != "bad code" {
		t.Errorf("TestUnmarshalEmbeddedStruct: got Message == %q, want %q", got.Message, "bad code")
	}
	if got.Token != "tok" {
		t.Errorf("TestUnmarshalEmbeddedStruct: got Token == %q, want %q", got.Token, "tok")
	}
	if _, ok := got.AdditionalFields["error"]; ok {
		t.Errorf("TestUnmarshalEmbeddedStruct: a promoted field leaked into AdditionalFields")
	}
	if _, ok := got.AdditionalFields["unknown0"]; !ok {
		t.Errorf("TestUnmarshalEmbeddedStruct: the unknown field was dropped")
	}
}

func TestUnmarshalEmbeddedStructShadowing(t *testing.T) {
	b := []byte(`{"error":"outer","error_description":"still promoted"}`)

	got := testShadowing{}
	if err := Unmarshal(b, &got); err != nil {
		t.Fatalf("TestUnmarshalEmbeddedStructShadowing: got err == %s, want err == nil", err)
	}
	if got.Code != "outer" {
		t.Errorf("TestUnmarshalEmbeddedStructShadowing: got Code == %q, want %q", got.Code, "outer")
	}
	if got.testBase.Code != "" {
		t.Errorf("TestUnmarshalEmbeddedStructShadowing: the shadowed field was set to %q, want it empty", got.testBase.Code)
	}
	if got.Message != "still promoted" {
		t.Errorf("TestUnmarshalEmbeddedStructShadowing: got Message == %q, want %q", got.Message, "still promoted")
	}
}

func TestUnmarshalMapOfStructs(t *testing.T) {
	b := []byte(`
	{
		"people": {
			"john": {
				"Address": "291 Street",
				"unknown0": "extra"
			}
		}
	}
	`)

	got := struct {
		People           map[string]testMeta `json:"people"`
		AdditionalFields map[string]interface{}
	}{}

	if err := Unmarshal(b, &got); err != nil {
		t.Fatalf("TestUnmarshalMapOfStructs: got err == %s, want err == nil", err)
	}

	person, ok := got.People["john"]
	if !ok {
		t.Fatalf("TestUnmarshalMapOfStructs: map entry was not decoded")
	}
	if person.Address != "291 Street" {
		t.Errorf("TestUnmarshalMapOfStructs: got Address == %q, want %q", person.Address, "291 Street")
	}
	if _, ok := person.AdditionalFields["unknown0"]; !ok {
		t.Errorf("TestUnmarshalMapOfStructs: unknown field inside the map entry was dropped")
	}
}

func TestUnmarshalNullPointer(t *testing.T) {
	got := testPerson{Meta: nil}
	if err := Unmarshal([]byte(`{"Meta": null}`), &got); err != nil {
		t.Fatalf("TestUnmarshalNullPointer: got err == %s, want err == nil", err)
	}
	if got.Meta != nil {
		t.Errorf("TestUnmarshalNullPointer: got Meta == %v, want nil", got.Meta)
	}
}

func TestRawMessageRoundTrip(t *testing.T) {
	b := []byte(`{"name": "John", "unknownObj": {"a": [1, 2, 3]}}`)

	got := struct {
		Name             string `json:"name,omitempty"`
		AdditionalFields map[string]interface{}
	}{}
	if err := Unmarshal(b, &got); err != nil {
		t.Fatalf("TestRawMessageRoundTrip: Unmarshal: %s", err)
	}

	out, err := Marshal(got)
	if err != nil {
		t.Fatalf("TestRawMessageRoundTrip: Marshal: %s", err)
	}

	want := map[string]interface{}{}
	if err := json.Unmarshal(b, &want); err != nil {
		panic(err)
	}
	gotMap := map[string]interface{}{}
	if err := json.Unmarshal(out, &gotMap); err != nil {
		t.Fatalf("TestRawMessageRoundTrip: output is not valid JSON: %s", err)
	}
	if diff := pretty.Compare(want, gotMap); diff != "" {
		t.Errorf("TestRawMessageRoundTrip: -want/+got:\n%s", diff)
	}
}
