package handler

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscanio/engine/pkg/domain/shared"
)

func TestParseQueryInt(t *testing.T) {
	assert.Equal(t, 5, parseQueryInt("5", 1))
	assert.Equal(t, 1, parseQueryInt("", 1))
	assert.Equal(t, 1, parseQueryInt("abc", 1))
	assert.Equal(t, -3, parseQueryInt("-3", 1))
}

func TestParseQueryBool(t *testing.T) {
	assert.Nil(t, parseQueryBool(""))

	for _, s := range []string{"true", "1"} {
		v := parseQueryBool(s)
		require.NotNil(t, v)
		assert.True(t, *v)
	}

	v := parseQueryBool("false")
	require.NotNil(t, v)
	assert.False(t, *v)
}

func TestParseQueryArray(t *testing.T) {
	assert.Nil(t, parseQueryArray(""))
	assert.Equal(t, []string{"a"}, parseQueryArray("a"))
	assert.Equal(t, []string{"a", "b", "c"}, parseQueryArray("a,b,c"))
}

func TestParseQueryTime(t *testing.T) {
	assert.Nil(t, parseQueryTime(""))
	assert.Nil(t, parseQueryTime("yesterday"))

	parsed := parseQueryTime("2026-08-01T12:00:00Z")
	require.NotNil(t, parsed)
	assert.Equal(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), parsed.UTC())
}

func TestNewPaginationLinks(t *testing.T) {
	t.Run("no pages yields no links", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/scans", nil)
		assert.Nil(t, NewPaginationLinks(r, 1, 20, 0))
	})

	t.Run("middle page has all links", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/scans?status=running&page=2&per_page=10", nil)
		links := NewPaginationLinks(r, 2, 10, 5)
		require.NotNil(t, links)

		assert.Contains(t, links.Self, "page=2")
		assert.Contains(t, links.Prev, "page=1")
		assert.Contains(t, links.Next, "page=3")
		assert.Contains(t, links.Last, "page=5")
		// Existing filters survive the page rewrite.
		assert.Contains(t, links.Next, "status=running")
	})

	t.Run("first page has no prev", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/scans", nil)
		links := NewPaginationLinks(r, 1, 20, 3)
		require.NotNil(t, links)
		assert.Empty(t, links.Prev)
		assert.NotEmpty(t, links.Next)
	})

	t.Run("single page has no last", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/scans", nil)
		links := NewPaginationLinks(r, 1, 20, 1)
		require.NotNil(t, links)
		assert.Empty(t, links.Last)
		assert.Empty(t, links.Next)
	})
}

func TestBuildBaseURL(t *testing.T) {
	t.Run("plain request", func(t *testing.T) {
		r := httptest.NewRequest("GET", "http://api.local/api/v1/scans", nil)
		assert.Equal(t, "http://api.local/api/v1/scans", buildBaseURL(r))
	})

	t.Run("forwarded proto and host", func(t *testing.T) {
		r := httptest.NewRequest("GET", "http://internal:8080/api/v1/scans", nil)
		r.Header.Set("X-Forwarded-Proto", "https")
		r.Header.Set("X-Forwarded-Host", "api.example.com")
		assert.Equal(t, "https://api.example.com/api/v1/scans", buildBaseURL(r))
	})
}

func TestDomainMessage(t *testing.T) {
	de := shared.NewDomainError("VALIDATION", "target is required", shared.ErrValidation)
	assert.Equal(t, "target is required", domainMessage(de))

	wrapped := fmt.Errorf("create scan: %w", de)
	assert.Equal(t, "target is required", domainMessage(wrapped))

	plain := fmt.Errorf("boom")
	assert.Equal(t, "boom", domainMessage(plain))
}
