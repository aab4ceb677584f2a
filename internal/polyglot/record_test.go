package polyglot_test

import (
	"encoding/json"
	"io"
	"math"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/polyrun/internal/polyglot"
)

func TestMapKeepsInsertionOrder(t *testing.T) {
	m := polyglot.NewMap()
	m.Set("z", 1)
	m.Set("a", 2)
	m.Set("m", 3)
	m.Set("z", 4)

	assert.Equal(t, []string{"z", "a", "m"}, m.Keys())
	v, ok := m.Get("z")
	require.True(t, ok)
	assert.Equal(t, 4, v)

	m.Delete("a")
	assert.Equal(t, []string{"z", "m"}, m.Keys())
	assert.Equal(t, 2, m.Len())
}

func TestMapMarshalJSON(t *testing.T) {
	m := polyglot.MapOf(
		"id", int32(666),
		"name", "x",
		"list", []any{polyglot.MapOf("b", 1, "a", 2), math.Inf(1)},
		"nan", math.NaN(),
	)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"id":666,"name":"x","list":[{"b":1,"a":2},null],"nan":null}`, string(data))
}

func TestMarshalValueURL(t *testing.T) {
	u, err := url.Parse("https://example.com/a?b=c")
	require.NoError(t, err)

	data, err := polyglot.MarshalValue(u)
	require.NoError(t, err)
	assert.Equal(t, `"https://example.com/a?b=c"`, string(data))
}

func TestDecodeJSON(t *testing.T) {
	v, err := polyglot.DecodeJSON([]byte(`{"b": 1, "a": [2.5, 3e10, "s", null, true], "c": {"d": 0.1}}`))
	require.NoError(t, err)

	m, ok := v.(*polyglot.Map)
	require.True(t, ok)
	assert.Equal(t, []string{"b", "a", "c"}, m.Keys())

	b, _ := m.Get("b")
	assert.Equal(t, int32(1), b)

	a, _ := m.Get("a")
	assert.Equal(t, []any{float32(2.5), int64(3e10), "s", nil, true}, a)

	c, _ := m.Get("c")
	d, _ := c.(*polyglot.Map).Get("d")
	assert.Equal(t, 0.1, d)
}

func TestDecodeJSONErrors(t *testing.T) {
	_, err := polyglot.DecodeJSON([]byte(``))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = polyglot.DecodeJSON([]byte(`{"a": 1} {"b": 2}`))
	assert.Error(t, err)

	_, err = polyglot.DecodeJSON([]byte(`{"a": }`))
	assert.Error(t, err)
}

func TestDecoderStreamsJSONLines(t *testing.T) {
	dec := polyglot.NewDecoder(strings.NewReader("{\"id\":1}\n{\"id\":2}\n\n[3]\n"))

	var got []any
	for {
		v, err := dec.Decode()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, v)
	}

	require.Len(t, got, 3)
	assert.Equal(t, polyglot.MapOf("id", int32(1)), got[0])
	assert.Equal(t, polyglot.MapOf("id", int32(2)), got[1])
	assert.Equal(t, []any{int32(3)}, got[2])
}

func TestMapUnmarshalJSON(t *testing.T) {
	var m polyglot.Map
	require.NoError(t, json.Unmarshal([]byte(`{"y": "1", "x": 2}`), &m))
	assert.Equal(t, []string{"y", "x"}, m.Keys())

	assert.Error(t, json.Unmarshal([]byte(`[1]`), &m))
}

func TestMapToStdMap(t *testing.T) {
	m := polyglot.MapOf("a", polyglot.MapOf("b", []any{polyglot.MapOf("c", 1)}))
	assert.Equal(t, map[string]any{
		"a": map[string]any{"b": []any{map[string]any{"c": 1}}},
	}, m.ToStdMap())
}
