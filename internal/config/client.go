package config

import (
	"github.com/rickgao/socket-client/internal/client"
)

// ClientConfig maps the loaded configuration onto a client.Config. Call it
// after defaults have been applied.
func (c *Config) ClientConfig() client.Config {
	cc := client.DefaultConfig()

	conn := &cc.Connection
	conn.Host = c.Server.Host
	conn.Secure = c.Server.Secure
	conn.Secret = c.Server.Secret
	conn.Token = c.Server.Token
	conn.ClientID = c.Server.ClientID
	conn.AutoReconnect = c.Reconnect.Enabled()
	conn.MaxRetries = c.Reconnect.MaxRetries
	conn.ReconnectInterval = c.Reconnect.Interval
	conn.AuthTimeout = c.Requests.AuthTimeout
	conn.Transport.Path = c.Server.Path
	conn.Transport.Transports = append([]string(nil), c.Server.Transports...)

	cc.RequestTimeout = c.Requests.Timeout
	cc.APITimeout = c.API.Timeout
	cc.APIMaxRetries = c.API.MaxRetries
	cc.APIRetryBackoff = c.API.RetryBackoff
	return cc
}
