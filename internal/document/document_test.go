package document_test

import (
	"bytes"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lastpatch/internal/document"
)

const jobInvocationJSON = `{
  "id": 42,
  "description": "Run rpm -qa --last",
  "targeting": {
    "search_query": "*",
    "hosts": [
      {"id": 7, "name": "web01.example.com"},
      {"id": 9, "name": "db01.example.com"}
    ]
  },
  "task": {"id": "5c7b6e4a-0d44-4a1f-8d3b-2f1b8d1b2c3d", "state": "running"},
  "succeeded": 1,
  "total": "N/A",
  "progress": 0.25,
  "big": 12345678901234567890,
  "location_id": null,
  "ok": true
}`

func TestParse(t *testing.T) {
	doc, err := document.Parse([]byte(jobInvocationJSON))
	require.NoError(t, err)

	assert.Equal(t, document.Object, doc.Kind())
	assert.Equal(t,
		[]string{"id", "description", "targeting", "task", "succeeded", "total", "progress", "big", "location_id", "ok"},
		doc.Keys())

	id, ok := doc.Field("id")
	require.True(t, ok)
	n, ok := id.Int64()
	require.True(t, ok)
	assert.Equal(t, int64(42), n)

	name, ok := doc.Lookup("targeting.hosts.1.name")
	require.True(t, ok)
	assert.Equal(t, "db01.example.com", name.Text())

	big, ok := doc.Field("big")
	require.True(t, ok)
	assert.Equal(t, "12345678901234567890", big.Text(), "numbers keep their literal form")

	loc, ok := doc.Field("location_id")
	require.True(t, ok)
	assert.True(t, loc.IsNull())
	assert.Equal(t, "", loc.Text())

	okField, _ := doc.Field("ok")
	b, isBool := okField.Bool()
	assert.True(t, isBool)
	assert.True(t, b)

	total, _ := doc.Field("total")
	_, isInt := total.Int64()
	assert.False(t, isInt)
	assert.Equal(t, "N/A", total.Text())
}

func TestParse_Errors(t *testing.T) {
	for _, input := range []string{"", "{", `{"a":1}{"b":2}`, `[1,2`, `{"a" 1}`} {
		t.Run(strconv.Quote(input), func(t *testing.T) {
			_, err := document.Parse([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestLookup(t *testing.T) {
	doc, err := document.Parse([]byte(jobInvocationJSON))
	require.NoError(t, err)

	tests := []struct {
		path  string
		found bool
		text  string
	}{
		{path: "", found: true},
		{path: "task.state", found: true, text: "running"},
		{path: "targeting.hosts.0.id", found: true, text: "7"},
		{path: "targeting.hosts.2.id", found: false},
		{path: "targeting.hosts.x", found: false},
		{path: "task.state.deeper", found: false},
		{path: "missing", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			v, ok := doc.Lookup(tt.path)
			assert.Equal(t, tt.found, ok)
			if ok && tt.path != "" {
				assert.Equal(t, tt.text, v.Text())
			}
		})
	}
}

func TestField_OnlyValidForObjects(t *testing.T) {
	arr, err := document.Parse([]byte(`[{"a":1}]`))
	require.NoError(t, err)

	_, ok := arr.Field("a")
	assert.False(t, ok)

	str, err := document.Parse([]byte(`"text"`))
	require.NoError(t, err)
	_, ok = str.Field("a")
	assert.False(t, ok)
	assert.Nil(t, str.Keys())
	assert.Equal(t, 0, str.Len())
}

func TestEqual(t *testing.T) {
	parse := func(s string) document.Value {
		v, err := document.Parse([]byte(s))
		require.NoError(t, err)
		return v
	}

	assert.True(t, parse(`{"a":1,"b":[1,2]}`).Equal(parse(`{"b":[1,2],"a":1}`)))
	assert.True(t, parse(`{"progress":0.5}`).Equal(parse(`{"progress":5e-1}`)))
	assert.False(t, parse(`{"a":1,"b":[1,2]}`).Equal(parse(`{"a":1,"b":[2,1]}`)))
	assert.False(t, parse(`{"a":1}`).Equal(parse(`{"a":1,"b":null}`)))
	assert.False(t, parse(`{"a":"1"}`).Equal(parse(`{"a":1}`)))
	assert.True(t, parse(`null`).Equal(document.Value{}))
}

func TestMarshalJSON_PreservesOrder(t *testing.T) {
	input := `{"z":1,"a":{"y":[true,null,"x"],"b":1.50},"m":"q\"uote"}`
	doc, err := document.Parse([]byte(input))
	require.NoError(t, err)

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, input, string(out))

	var again document.Value
	require.NoError(t, json.Unmarshal(out, &again))
	assert.True(t, doc.Equal(again))
}

// Converting a nested structure and reading it back by path must agree with plain map lookups.
func TestRoundTrip_FieldAccessMatchesDirectLookup(t *testing.T) {
	raw := []byte(`{
		"results": [
			{"id": 1, "name": "one", "tags": ["a", "b"], "meta": {"depth": {"deeper": [1.5, {"leaf": null}]}}},
			{"id": 2, "name": "two", "tags": [], "meta": {}}
		],
		"total": 2,
		"search": "job_category = Commands",
		"flag": false
	}`)

	var original map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&original))

	fromMap, err := document.FromAny(original)
	require.NoError(t, err)
	fromBytes, err := document.Parse(raw)
	require.NoError(t, err)

	assert.True(t, fromMap.Equal(fromBytes))
	assert.Equal(t, original, fromMap.Interface())
	assert.Equal(t, original, fromBytes.Interface())

	results := original["results"].([]any)
	first := results[0].(map[string]any)
	deeper := first["meta"].(map[string]any)["depth"].(map[string]any)["deeper"].([]any)

	checks := []struct {
		path string
		want any
	}{
		{"total", original["total"]},
		{"search", original["search"]},
		{"flag", original["flag"]},
		{"results.0.id", first["id"]},
		{"results.0.tags.1", first["tags"].([]any)[1]},
		{"results.0.meta.depth", first["meta"].(map[string]any)["depth"]},
		{"results.0.meta.depth.deeper.0", deeper[0]},
		{"results.0.meta.depth.deeper.1.leaf", deeper[1].(map[string]any)["leaf"]},
		{"results.1.tags", results[1].(map[string]any)["tags"]},
		{"results.1.meta", results[1].(map[string]any)["meta"]},
	}

	for _, c := range checks {
		t.Run(c.path, func(t *testing.T) {
			for _, doc := range []document.Value{fromMap, fromBytes} {
				got, ok := doc.Lookup(c.path)
				require.True(t, ok)
				assert.Equal(t, c.want, got.Interface())
			}
		})
	}
}

func TestFromAny_GoScalars(t *testing.T) {
	doc, err := document.FromAny(map[string]any{
		"int":   3,
		"int64": int64(-4),
		"float": 2.5,
		"list":  []any{"x", nil},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"float", "int", "int64", "list"}, doc.Keys())
	v, _ := doc.Field("int64")
	n, ok := v.Int64()
	assert.True(t, ok)
	assert.Equal(t, int64(-4), n)

	f, _ := doc.Field("float")
	x, ok := f.Float64()
	assert.True(t, ok)
	assert.Equal(t, 2.5, x)

	type pair struct {
		Left  string `json:"left"`
		Right int    `json:"right"`
	}
	structDoc, err := document.FromAny(pair{Left: "l", Right: 2})
	require.NoError(t, err)
	assert.Equal(t, `{"left":"l","right":2}`, structDoc.String())
}
