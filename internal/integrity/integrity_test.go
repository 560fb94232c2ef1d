package integrity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func payload(t *testing.T, s string) map[string]json.RawMessage {
	t.Helper()
	var p map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(s), &p))
	return p
}

func TestCheck(t *testing.T) {
	t.Parallel()
	original := []string{"alder", "karakter_navn", "hvorfor_division"}

	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "decision only", body: `{"status":"approved"}`},
		{name: "rejection with reason", body: `{"status":"rejected","rejectionReason":"nej"}`},
		{name: "admin info ignored", body: `{"status":"approved","adminInfo":{"discordId":"1"}}`},
		{name: "subset of fields", body: `{"status":"approved","fields":{"alder":"20"}}`},
		{name: "empty fields", body: `{"status":"approved","fields":{}}`},
		{name: "null fields", body: `{"status":"approved","fields":null}`},
		{name: "forged type", body: `{"status":"approved","type":"whitelist"}`, wantErr: ErrProtectedField},
		{name: "forged applicant id", body: `{"status":"approved","applicantId":"123"}`, wantErr: ErrProtectedField},
		{name: "forged discord id", body: `{"status":"approved","discordId":"123"}`, wantErr: ErrProtectedField},
		{name: "forged name", body: `{"status":"approved","discordName":"x"}`, wantErr: ErrProtectedField},
		{name: "forged id", body: `{"status":"approved","id":"abc"}`, wantErr: ErrProtectedField},
		{name: "forged created at", body: `{"status":"approved","createdAt":"2020-01-01"}`, wantErr: ErrProtectedField},
		{name: "protected key with null value", body: `{"status":"approved","type":null}`, wantErr: ErrProtectedField},
		{name: "added field", body: `{"status":"approved","fields":{"alder":"20","new":"x"}}`, wantErr: ErrFieldAdded},
		{name: "renamed field", body: `{"status":"approved","fields":{"Alder":"20"}}`, wantErr: ErrFieldAdded},
		{name: "fields not object", body: `{"status":"approved","fields":["alder"]}`, wantErr: ErrMalformedFields},
		{name: "fields string", body: `{"status":"approved","fields":"alder"}`, wantErr: ErrMalformedFields},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Check(original, payload(t, tc.body))
			if tc.wantErr == nil {
				assert.NoError(t, err)
				assert.True(t, IsIntact(original, payload(t, tc.body)))
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
			assert.False(t, IsIntact(original, payload(t, tc.body)))
		})
	}
}

func TestCheck_NoOriginalFields(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Check(nil, payload(t, `{"status":"rejected"}`)))
	assert.ErrorIs(t, Check(nil, payload(t, `{"fields":{"a":"b"}}`)), ErrFieldAdded)
}
