package megafon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAnswer(t *testing.T) {
	a, err := decodeAnswer([]byte(`{
		"balance": 12.5,
		"msisdn": "9250000000",
		"ok": true,
		"code": null,
		"ratePlan": {"id": "1001", "name": "Без переплат"}
	}`))
	require.NoError(t, err)

	assert.True(t, a.Has("balance"))
	assert.False(t, a.Has("code"), "null counts as absent")
	assert.False(t, a.Has("missing"))

	balance, ok := a.Float("balance")
	assert.True(t, ok)
	assert.InDelta(t, 12.5, balance, 0.001)

	msisdn, ok := a.String("msisdn")
	assert.True(t, ok)
	assert.Equal(t, "9250000000", msisdn)

	_, ok = a.String("balance")
	assert.False(t, ok, "wrong type")

	okField, ok := a.Bool("ok")
	assert.True(t, ok)
	assert.True(t, okField)

	plan := a.Object("ratePlan")
	require.NotNil(t, plan)
	name, _ := plan.String("name")
	assert.Equal(t, "Без переплат", name)
	assert.JSONEq(t, `{"id":"1001","name":"Без переплат"}`, string(plan.Raw()))

	assert.Nil(t, a.Object("msisdn"))
	assert.False(t, a.Object("missing").Has("id"), "nil answers are empty")
}

func TestDecodeAnswer_NonObject(t *testing.T) {
	for _, body := range []string{`[1,2]`, `"text"`, `null`, `42`} {
		a, err := decodeAnswer([]byte(body))
		require.NoError(t, err, body)
		assert.False(t, a.Has("code"), body)
		assert.Equal(t, body, string(a.Raw()))
	}
}

func TestDecodeAnswer_Invalid(t *testing.T) {
	_, err := decodeAnswer([]byte(`<html>maintenance</html>`))
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "<html>maintenance</html>", decodeErr.Body)
	assert.NotNil(t, decodeErr.Unwrap())

	_, err = decodeAnswer(nil)
	assert.ErrorAs(t, err, &decodeErr)
}

func TestAnswer_Truthy(t *testing.T) {
	a, err := decodeAnswer([]byte(`{
		"t": true, "f": false,
		"one": 1, "zero": 0, "half": 0.5,
		"s1": "1", "s0": "0", "empty": "", "word": "no",
		"list": [0], "none": [],
		"obj": {}, "null": null
	}`))
	require.NoError(t, err)

	for _, key := range []string{"t", "one", "half", "s1", "word", "list", "obj"} {
		assert.True(t, a.Truthy(key), key)
	}
	for _, key := range []string{"f", "zero", "s0", "empty", "none", "null", "missing"} {
		assert.False(t, a.Truthy(key), key)
	}
	assert.False(t, (*Answer)(nil).Truthy("t"))
}
