// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	tests := []struct {
		name  string
		short string
		want  string
	}{
		{"full", "false", "evidence-engine v1.2.3 (" + runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH + ")\n"},
		{"short", "true", "v1.2.3\n"},
	}

	saved := version
	version = "v1.2.3"
	t.Cleanup(func() {
		version = saved
		versionCmd.SetOut(nil)
		_ = versionCmd.Flags().Set("short", "false")
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			versionCmd.SetOut(&buf)
			require.NoError(t, versionCmd.Flags().Set("short", tt.short))

			versionCmd.Run(versionCmd, nil)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
