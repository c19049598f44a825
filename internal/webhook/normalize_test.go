package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flint/internal/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw   string
		want  EventType
		known bool
	}{
		{"CONNECTION_ATTEMPTED", ConnectionAttempted, true},
		{"CONNECTION_ADDED", ConnectionAdded, true},
		{"connection.added", ConnectionAdded, true},
		{"connectionUpdated", ConnectionUpdated, true},
		{"CONNECTION_BROKEN", ConnectionBroken, true},
		{"Connection-Broken", ConnectionBroken, true},
		{"enrollment.disconnected", ConnectionBroken, true},
		{"CONNECTION_FIXED", ConnectionFixed, true},
		{"CONNECTION_DELETED", ConnectionDeleted, true},
		{"connection_removed", ConnectionDeleted, true},
		{"webhook.test", NoOp, true},
		{"USER_REGISTERED", NoOp, false},
		{"", NoOp, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, known := Normalize(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestParse(t *testing.T) {
	t.Run("snaptrade_camel_case", func(t *testing.T) {
		ev, err := Parse(models.ProviderSnapTrade, []byte(`{
			"webhookId": "wh-1",
			"eventType": "CONNECTION_BROKEN",
			"userId": "flint-u1",
			"brokerageAuthorizationId": "auth-1",
			"brokerageName": "Robinhood"
		}`))
		require.NoError(t, err)
		assert.Equal(t, "wh-1", ev.ID)
		assert.Equal(t, "CONNECTION_BROKEN", ev.RawType)
		assert.Equal(t, "flint-u1", ev.RemoteUserID)
		assert.Equal(t, "auth-1", ev.AuthorizationID)
		assert.Equal(t, "Robinhood", ev.BrokerName)
		assert.Empty(t, ev.Type, "type is normalized after verification")
	})

	t.Run("snaptrade_snake_case", func(t *testing.T) {
		ev, err := Parse(models.ProviderSnapTrade, []byte(`{"event_type":"connection_deleted","user_id":"u","brokerage_authorization_id":"auth-2"}`))
		require.NoError(t, err)
		assert.Equal(t, "connection_deleted", ev.RawType)
		assert.Equal(t, "auth-2", ev.AuthorizationID)
	})

	t.Run("teller_nested_payload", func(t *testing.T) {
		ev, err := Parse(models.ProviderTeller, []byte(`{
			"id": "wh_abc",
			"type": "enrollment.disconnected",
			"timestamp": "2024-01-01T00:00:00Z",
			"payload": {"enrollment_id": "enr_1", "reason": "disconnected"}
		}`))
		require.NoError(t, err)
		assert.Equal(t, "wh_abc", ev.ID)
		assert.Equal(t, "enr_1", ev.AuthorizationID)
	})

	t.Run("unexpected_field_types_are_ignored", func(t *testing.T) {
		ev, err := Parse(models.ProviderSnapTrade, []byte(`{"type":"CONNECTION_FIXED","data":[1,2],"authorizationId":"auth-3"}`))
		require.NoError(t, err)
		assert.Equal(t, "auth-3", ev.AuthorizationID)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := Parse(models.ProviderSnapTrade, []byte(`{not json`))
		assert.Error(t, err)
	})
}
