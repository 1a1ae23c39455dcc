package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	lagos, err := time.LoadLocation("Africa/Lagos")
	require.NoError(t, err)
	// A Saturday morning.
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, lagos)

	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"2024-05-26", "2024-05-26"},
		{"  2024-05-26  ", "2024-05-26"},
		{"today", "2024-06-01"},
		{"yesterday", "2024-05-31"},
		{"tomorrow", "2024-06-02"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDate(tt.input, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDate_Unrecognized(t *testing.T) {
	_, err := parseDate("qwerty", time.Now())
	assert.Error(t, err)
}
