package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupEmitsJSONWithServiceAndEnv(t *testing.T) {
	var buf bytes.Buffer
	logger := setup("ec", "test", &buf)
	logger.Info("hello", "election_id", "ab12")

	var fields map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	require.Equal(t, "ec", fields["service"])
	require.Equal(t, "test", fields["env"])
	require.Equal(t, "hello", fields["message"])
	require.Equal(t, "ab12", fields["election_id"])
}

func TestSetupMasksNonAllowlistedStringFields(t *testing.T) {
	var buf bytes.Buffer
	logger := setup("ec", "test", &buf)
	logger.Info("token issued", "voter_pk", "abcd1234", "election_id", "ab12")

	var fields map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	require.Equal(t, RedactedValue, fields["voter_pk"])
	require.Equal(t, "ab12", fields["election_id"])
}

func TestSetupWithFileRotatesToDisk(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")

	logger := SetupWithFile("ec", "test", logPath)
	logger.Info("boot complete")

	require.FileExists(t, logPath)
}
