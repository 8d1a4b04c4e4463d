package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:   "minimal valid config",
			config: Config{RemoteURL: "http://localhost:8080"},
		},
		{
			name:    "empty remote URL",
			config:  Config{},
			wantErr: ErrRemoteURLEmpty,
		},
		{
			name: "backoff min above max",
			config: Config{
				RemoteURL:  "http://localhost:8080",
				BackoffMin: 2 * time.Minute,
				BackoffMax: time.Second,
			},
			wantErr: ErrBackoffInvalid,
		},
		{
			name: "negative sync interval",
			config: Config{
				RemoteURL:    "http://localhost:8080",
				SyncInterval: -time.Second,
			},
			wantErr: ErrIntervalInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfigValidateAppliesDefaults(t *testing.T) {
	c := Config{RemoteURL: "http://localhost:8080"}
	require.NoError(t, c.Validate())

	assert.Equal(t, DefaultSyncInterval, c.SyncInterval)
	assert.Equal(t, DefaultBackoffMin, c.BackoffMin)
	assert.Equal(t, DefaultBackoffMax, c.BackoffMax)
	assert.Equal(t, DefaultHTTPTimeout, c.HTTPTimeout)
}
