package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"12.5", "+$12.50"},
		{"-3", "-$3.00"},
		{"0", "$0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Contains(t, FormatAmount(decimal.RequireFromString(tt.in)), tt.want)
		})
	}
}

func TestFormatters(t *testing.T) {
	assert.Contains(t, FormatSuccess("saved"), SuccessIcon+" saved")
	assert.Contains(t, FormatError("boom"), ErrorIcon+" boom")
	assert.Contains(t, FormatWarning("careful"), "careful")
	assert.Contains(t, FormatInfo("fyi"), "fyi")
	assert.Contains(t, FormatTitle("Summary"), "Summary")
	assert.Contains(t, FormatPrompt("Continue?"), "Continue? →")

	box := RenderBox("March 2024", "Income $10.00")
	assert.Contains(t, box, "March 2024")
	assert.Contains(t, box, "Income $10.00")
}

func TestNewProgressBar(t *testing.T) {
	var out bytes.Buffer
	bar := NewProgressBar(&out, 3, "Importing")
	for range 3 {
		require.NoError(t, bar.Add(1))
	}
	assert.True(t, bar.IsFinished())
	assert.True(t, strings.Contains(out.String(), "Importing"))
}
