package server_test

import (
	"testing"

	"doc-reconciler/core/server"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     server.Config
		wantErr bool
	}{
		{"Disabled", server.Config{}, false},
		{"Enabled", server.Config{Enabled: true, Port: "8080"}, false},
		{"Missing Port", server.Config{Enabled: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Addr(t *testing.T) {
	assert.Equal(t, ":9090", server.Config{Port: "9090"}.Addr())
}
