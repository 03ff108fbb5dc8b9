package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPayload_NestedEnvelope(t *testing.T) {
	body := []byte(`{
		"data": {
			"token": "EU_abc123",
			"userName": "alice",
			"fullName": "Alice Weber",
			"userEmail": "alice@clinic.example",
			"userSystemId": 8841,
			"urlsLookup": {"portal": "https://portal.example.com"}
		}
	}`)

	p, err := extractPayload(body)
	require.NoError(t, err)

	assert.Equal(t, "EU_abc123", p.Token)
	assert.Equal(t, "alice", p.UserName)
	assert.Equal(t, "Alice Weber", p.FullName)
	assert.Equal(t, flexID("8841"), p.UserSystemID)
	assert.Equal(t, map[string]string{"portal": "https://portal.example.com"}, p.URLsLookup)
}

func TestExtractPayload_FlatBody(t *testing.T) {
	body := []byte(`{"token": "US_xyz", "userName": "bob", "userSystemId": "usr-17"}`)

	p, err := extractPayload(body)
	require.NoError(t, err)

	assert.Equal(t, "US_xyz", p.Token)
	assert.Equal(t, "bob", p.UserName)
	assert.Equal(t, flexID("usr-17"), p.UserSystemID)
}

func TestExtractPayload_NestedWinsOverFlat(t *testing.T) {
	body := []byte(`{"token": "outer", "data": {"token": "inner", "userName": "alice"}}`)

	p, err := extractPayload(body)
	require.NoError(t, err)
	assert.Equal(t, "inner", p.Token)
}

func TestExtractPayload_DataNotAnObject(t *testing.T) {
	// A scalar "data" field is not an envelope; the flat body is the payload.
	body := []byte(`{"token": "tok", "data": true}`)

	p, err := extractPayload(body)
	require.NoError(t, err)
	assert.Equal(t, "tok", p.Token)
}

func TestExtractPayload_ErrorBodyHasNoToken(t *testing.T) {
	body := []byte(`{"hasErrors": true, "errorCode": "BAD_CREDENTIALS"}`)

	p, err := extractPayload(body)
	require.NoError(t, err)
	assert.Empty(t, p.Token)
}

func TestExtractPayload_MalformedJSON(t *testing.T) {
	_, err := extractPayload([]byte(`<html>Bad Gateway</html>`))
	assert.Error(t, err)
}
