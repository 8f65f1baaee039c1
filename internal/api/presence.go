package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/rickgao/socket-client/internal/protocol"
)

// GetPresence fetches the member list of channel.
func (c *Client) GetPresence(ctx context.Context, channel string, q PresenceQuery) ([]protocol.Member, error) {
	if channel == "" {
		return nil, ErrNoChannel
	}

	query := url.Values{}
	if q.ClientID != "" {
		query.Set("clientId", q.ClientID)
	}
	if q.ConnectionID != "" {
		query.Set("connectionId", q.ConnectionID)
	}

	body, err := c.doWithRetry(ctx, http.MethodGet, "/room/"+url.PathEscape(channel), query)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsArray() {
		return nil, ErrNotArray
	}

	var members []protocol.Member
	if err := json.Unmarshal(body, &members); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	c.logger.Debug("presence fetched", "channel", channel, "members", len(members))
	return members, nil
}
