package postgres

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscanio/engine/pkg/domain/shared"
)

func TestEscapeLikePattern(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "example.com", "example.com"},
		{"percent", "50%", `50\%`},
		{"underscore", "port_scan", `port\_scan`},
		{"backslash", `a\b`, `a\\b`},
		{"mixed wildcards", "%_%", `\%\_\%`},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, escapeLikePattern(tt.input))
		})
	}
}

func TestWrapLikePattern(t *testing.T) {
	assert.Equal(t, "%demo%", wrapLikePattern("demo"))
	// User-supplied wildcards must not widen the search.
	assert.Equal(t, `%\%\_%`, wrapLikePattern("%_"))
}

func TestNullHelpers(t *testing.T) {
	t.Run("nullString", func(t *testing.T) {
		assert.False(t, nullString("").Valid)
		ns := nullString("value")
		require.True(t, ns.Valid)
		assert.Equal(t, "value", ns.String)
	})

	t.Run("nullStringValue", func(t *testing.T) {
		assert.Equal(t, "", nullStringValue(sql.NullString{}))
		assert.Equal(t, "x", nullStringValue(sql.NullString{String: "x", Valid: true}))
	})

	t.Run("nullTime round trip", func(t *testing.T) {
		assert.False(t, nullTime(nil).Valid)
		assert.Nil(t, nullTimeValue(sql.NullTime{}))

		now := time.Now()
		nt := nullTime(&now)
		require.True(t, nt.Valid)
		got := nullTimeValue(nt)
		require.NotNil(t, got)
		assert.True(t, now.Equal(*got))
	})
}

func TestNullID(t *testing.T) {
	assert.False(t, nullID(nil).Valid)

	zero := shared.ID{}
	assert.False(t, nullID(&zero).Valid)

	id := shared.NewID()
	ns := nullID(&id)
	require.True(t, ns.Valid)
	assert.Equal(t, id.String(), ns.String)
}

func TestParseNullID(t *testing.T) {
	assert.Nil(t, parseNullID(sql.NullString{}))
	assert.Nil(t, parseNullID(sql.NullString{String: "not-a-uuid", Valid: true}))

	id := shared.NewID()
	got := parseNullID(sql.NullString{String: id.String(), Valid: true})
	require.NotNil(t, got)
	assert.Equal(t, id.String(), got.String())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain error")))
	assert.False(t, isUniqueViolation(nil))
}

func TestJSONBHelpers(t *testing.T) {
	data, err := toJSONB(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = toJSONB(map[string]int{"total": 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":3}`, string(data))

	var out map[string]int
	require.NoError(t, fromJSONB(nil, &out))
	assert.Nil(t, out)

	require.NoError(t, fromJSONB(data, &out))
	assert.Equal(t, 3, out["total"])

	assert.Nil(t, nullBytes(nil))
	assert.Nil(t, nullBytes([]byte{}))
	assert.Equal(t, []byte("{}"), nullBytes([]byte("{}")))
}
