package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	var _ IRValue = IRNull{}
	var _ IRValue = IRString("test")
	var _ IRValue = IRInt(42)
	var _ IRValue = IRBool(true)
	var _ IRValue = IRArray{IRString("a"), IRInt(1)}
	var _ IRValue = IRObject{"key": IRString("value")}
}

func TestIRObjectSortedKeysRFC8785Order(t *testing.T) {
	obj := IRObject{
		"a":  IRInt(1),
		"A":  IRInt(2),
		"aa": IRInt(3),
		"aA": IRInt(4),
		"Aa": IRInt(5),
		"AA": IRInt(6),
	}

	// 'A' = 65, 'a' = 97
	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aA", "aa"}, obj.SortedKeys())
}

func TestIRObjectSortedKeysSurrogatePairs(t *testing.T) {
	// U+1F600 encodes to surrogates 0xD83D 0xDE00 and sorts before U+FFFD
	// in UTF-16 even though its UTF-8 encoding is larger.
	obj := IRObject{"\U0001F600": IRInt(1), "\uFFFD": IRInt(2)}
	assert.Equal(t, []string{"\U0001F600", "\uFFFD"}, obj.SortedKeys())
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(IRString("x"), IRString("x")))
	assert.False(t, Equal(IRString("1"), IRInt(1)))
	assert.True(t, Equal(nil, IRNull{}))
	assert.True(t, Equal(
		IRObject{"b": IRInt(2), "a": IRArray{IRBool(true)}},
		IRObject{"a": IRArray{IRBool(true)}, "b": IRInt(2)},
	))
	assert.False(t, Equal(IRArray{IRInt(1), IRInt(2)}, IRArray{IRInt(2), IRInt(1)}))
}

func TestFromGoAndBack(t *testing.T) {
	in := map[string]any{
		"title": "Guardians of the Galaxy",
		"year":  float64(2014),
		"tags":  []any{"space", true},
		"none":  nil,
	}

	v, err := FromGo(in)
	require.NoError(t, err)

	obj := v.(IRObject)
	assert.Equal(t, IRInt(2014), obj["year"])
	assert.Equal(t, IRNull{}, obj["none"])

	back := ToGo(obj).(map[string]any)
	assert.Equal(t, int64(2014), back["year"])
	assert.Equal(t, []any{"space", true}, back["tags"])
	assert.Nil(t, back["none"])
}

func TestFromGoRejectsFractionalFloat(t *testing.T) {
	_, err := FromGo(map[string]any{"rating": 7.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}

func TestParseObject(t *testing.T) {
	obj, err := ParseObject(`{"id":"mcu","count":3,"gone":null}`)
	require.NoError(t, err)
	assert.Equal(t, IRObject{"id": IRString("mcu"), "count": IRInt(3), "gone": IRNull{}}, obj)

	empty, err := ParseObject("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseObject(`{"x":1.5}`)
	require.Error(t, err)
}

func TestIRObjectJSONRoundTrip(t *testing.T) {
	obj := IRObject{"z": IRInt(1), "a": IRString("<&>")}
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<&>","z":1}`, string(data))

	var back IRObject
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, Equal(obj, back))
}

func TestAccessors(t *testing.T) {
	obj := IRObject{"id": IRString("mcu"), "year": IRInt(2014)}

	s, ok := obj.String("id")
	assert.True(t, ok)
	assert.Equal(t, "mcu", s)

	_, ok = obj.String("year")
	assert.False(t, ok)

	n, ok := obj.Int("year")
	assert.True(t, ok)
	assert.Equal(t, int64(2014), n)

	clone := obj.Clone()
	clone["id"] = IRString("other")
	assert.Equal(t, IRString("mcu"), obj["id"])
}
