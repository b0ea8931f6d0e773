package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p9e.in/wsm/pkg/workflow"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "NUMBERING", "WORKFLOW_POLICY", "STATUS_CHANGE_ROLE", "ARTIFACT_BACKEND", "USE_GCS", "RENDER_STAGE_TIMEOUT", "LOG_LEVEL", "ADMIN_USERNAME", "ADMIN_PASSWORD"} {
		t.Setenv(k, "")
	}

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "counter", c.Numbering)
	assert.Equal(t, "permissive", c.WorkflowPolicy.Name())
	assert.Equal(t, workflow.GateAdmin, c.StatusChangeGate)
	assert.Equal(t, "local", c.ArtifactBackend)
	assert.Equal(t, 30*time.Second, c.RenderStageTimeout)
	assert.Equal(t, slog.LevelInfo, c.LogLevel)
	assert.Equal(t, "admin", c.AdminUsername)
	assert.Equal(t, "admin123", c.AdminPassword)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NUMBERING", "random")
	t.Setenv("WORKFLOW_POLICY", "forward")
	t.Setenv("STATUS_CHANGE_ROLE", "any")
	t.Setenv("RENDER_STAGE_TIMEOUT", "5s")
	t.Setenv("USE_GCS", "true")
	t.Setenv("GCS_BUCKET", "wsm-artifacts")
	t.Setenv("LOG_LEVEL", "debug")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "random", c.Numbering)
	assert.Equal(t, "forward", c.WorkflowPolicy.Name())
	assert.Equal(t, workflow.GateAny, c.StatusChangeGate)
	assert.Equal(t, 5*time.Second, c.RenderStageTimeout)
	assert.Equal(t, "gcs", c.ArtifactBackend)
	assert.Equal(t, slog.LevelDebug, c.LogLevel)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"NUMBERING", "sequential"},
		{"WORKFLOW_POLICY", "strict"},
		{"STATUS_CHANGE_ROLE", "root"},
		{"RENDER_STAGE_TIMEOUT", "soon"},
		{"PDF_PRIMARY", "maybe"},
		{"ARTIFACT_BACKEND", "s3"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
