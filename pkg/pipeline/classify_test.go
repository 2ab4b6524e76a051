package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPipelineError(t *testing.T) {
	tests := []struct {
		name        string
		diagnostics string
		expected    string
	}{
		{
			name:        "missing rtmpsink element",
			diagnostics: "WARNING: erroneous pipeline: no element \"rtmpsink\"",
			expected:    RTMPMissingMessage,
		},
		{
			name:        "librtmp load failure",
			diagnostics: "Failed to load plugin: librtmp.so.1: cannot open shared object file",
			expected:    RTMPMissingMessage,
		},
		{
			name:        "libgstrtmp load failure",
			diagnostics: "libgstrtmp.so could not be loaded",
			expected:    RTMPMissingMessage,
		},
		{
			name:        "unrelated error is not classified",
			diagnostics: "ERROR: from element /GstPipeline:pipeline0/GstVaapiEncodeH264: failed to create encoder",
			expected:    "",
		},
		{
			name:        "empty diagnostics",
			diagnostics: "",
			expected:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyPipelineError(tt.diagnostics))
		})
	}
}

func TestMatchesConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected bool
	}{
		{"refused", "rtmpsink0: Connection refused", true},
		{"could not connect", "Could not connect to server", true},
		{"timed out", "connection timed out after 30s", true},
		{"broken pipe", "write failed: Broken pipe", true},
		{"generic error token", "ERROR: from element rtmpsink0", true},
		{"plain progress line", "Setting pipeline to PLAYING", false},
		{"caps negotiation chatter", "caps = video/x-h264", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MatchesConnectionError(tt.line))
		})
	}
}
