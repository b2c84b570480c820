package providers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeToolArgs_ValidJSON(t *testing.T) {
	raw, err := normalizeToolArgs(`{"path":"a.txt"}`)
	require.NoError(t, err)
	require.JSONEq(t, `{"path":"a.txt"}`, string(raw))
}

func TestNormalizeToolArgs_EmptyBecomesEmptyObject(t *testing.T) {
	raw, err := normalizeToolArgs("")
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(raw))
}

func TestNormalizeToolArgs_MalformedIsRejectedNotPanicked(t *testing.T) {
	_, err := normalizeToolArgs(`{"path": "a.txt"`)
	require.Error(t, err)
}
