package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_URL(t *testing.T) {
	tests := []struct {
		name  string
		vhost string
		want  string
	}{
		{name: "default vhost", vhost: "/", want: "/"},
		{name: "empty vhost", vhost: "", want: "/"},
		{name: "named vhost", vhost: "/weather", want: "weather"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Host: "broker", Port: 5672, User: "guest", Password: "p@ss:word", VHost: tt.vhost}

			uri, err := amqp.ParseURI(cfg.URL())
			require.NoError(t, err)

			assert.Equal(t, "broker", uri.Host)
			assert.Equal(t, 5672, uri.Port)
			assert.Equal(t, "guest", uri.Username)
			assert.Equal(t, "p@ss:word", uri.Password)
			assert.Equal(t, tt.want, uri.Vhost)
		})
	}
}
