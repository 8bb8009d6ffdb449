package jsonx

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func parse(t *testing.T, body string) (payload, error) {
	t.Helper()
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	var p payload
	err := ParseStrictJSONBody(req, &p)
	return p, err
}

func TestParseStrictJSONBody_valid(t *testing.T) {
	p, err := parse(t, `{"name":"cam1","count":3}`)
	require.NoError(t, err)
	assert.Equal(t, payload{Name: "cam1", Count: 3}, p)
}

func TestParseStrictJSONBody_emptyBody(t *testing.T) {
	_, err := parse(t, "  \n ")
	assert.ErrorIs(t, err, ErrEmptyBody)
}

func TestParseStrictJSONBody_malformed(t *testing.T) {
	_, err := parse(t, `{"name":`)
	assert.Error(t, err)
}

func TestParseStrictJSONBody_unknownField(t *testing.T) {
	_, err := parse(t, `{"name":"cam1","extra":true}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestParseStrictJSONBody_trailingData(t *testing.T) {
	_, err := parse(t, `{"name":"cam1"}{"name":"cam2"}`)
	assert.ErrorIs(t, err, ErrTrailingJSON)
}

func TestParseStrictJSONBody_typeMismatch(t *testing.T) {
	_, err := parse(t, `{"count":"three"}`)
	assert.Error(t, err)
}
