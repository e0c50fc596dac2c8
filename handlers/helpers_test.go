package handlers

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// decodeData unwraps the {"data": ...} envelope written by utils.WriteOK
func decodeData(t *testing.T, body io.Reader, dst interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(body).Decode(&envelope))
	require.NotEmpty(t, envelope.Data)
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}
