package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/okian/spotted/internal/domain/model"
	"github.com/okian/spotted/pkg/logger"
)

type historyResponse struct {
	apiResponse
	Messages []MessagePayload `json:"messages"`
}

// FetchEvent re-reads a message so late-arriving files become visible.
// Thread replies are not part of channel history, so they are read through
// conversations.replies on their parent.
func (c *Client) FetchEvent(ctx context.Context, ref model.MessageRef) (model.MessageEvent, error) {
	method := "conversations.history"
	params := map[string]string{
		"channel":   ref.ChannelID,
		"latest":    ref.MessageTS,
		"oldest":    ref.MessageTS,
		"inclusive": "true",
		"limit":     "1",
	}
	if ref.InThread() {
		method = "conversations.replies"
		params["ts"] = ref.ThreadTS
	}

	var out historyResponse
	err := c.call(ctx, method, c.token, func(r *resty.Request) *resty.Request {
		return r.SetQueryParams(params)
	}, http.MethodGet, &out)
	if err != nil {
		return model.MessageEvent{}, err
	}

	for _, m := range out.Messages {
		if m.TS != ref.MessageTS {
			continue
		}
		m.Channel = ref.ChannelID
		return m.toModel("", c.now()), nil
	}
	return model.MessageEvent{}, fmt.Errorf("%w: %s", ErrMessageNotFound, model.MessageKey(ref.ChannelID, ref.MessageTS))
}

type userInfoResponse struct {
	apiResponse
	User struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		RealName string `json:"real_name"`
		Profile  struct {
			DisplayName string `json:"display_name"`
			RealName    string `json:"real_name"`
		} `json:"profile"`
	} `json:"user"`
}

// displayName picks the first non-empty of display name, real name, handle.
func (r userInfoResponse) displayName(fallback string) string {
	for _, v := range []string{r.User.Profile.DisplayName, r.User.Profile.RealName, r.User.RealName, r.User.Name} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return fallback
}

// DisplayName resolves a user's human-readable name. Results are cached and
// concurrent lookups of one user share a single API call.
func (c *Client) DisplayName(ctx context.Context, userID string) (string, error) {
	if v, ok := c.names.Load(userID); ok {
		cn := v.(cachedName)
		if c.now().Before(cn.expires) {
			return cn.name, nil
		}
	}

	v, err, _ := c.group.Do(userID, func() (any, error) {
		var out userInfoResponse
		err := c.call(ctx, "users.info", c.token, func(r *resty.Request) *resty.Request {
			return r.SetQueryParam("user", userID)
		}, http.MethodGet, &out)
		if err != nil {
			return "", err
		}
		name := out.displayName(userID)
		c.names.Store(userID, cachedName{name: name, expires: c.now().Add(c.nameTTL)})
		return name, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type postMessageResponse struct {
	apiResponse
	TS string `json:"ts"`
}

// PostMessage posts text to a channel, as a thread reply when threadTS is set.
func (c *Client) PostMessage(ctx context.Context, channelID, threadTS, text string) error {
	body := map[string]string{"channel": channelID, "text": text}
	if threadTS != "" {
		body["thread_ts"] = threadTS
	}
	var out postMessageResponse
	err := c.call(ctx, "chat.postMessage", c.token, func(r *resty.Request) *resty.Request {
		return r.SetHeader("Content-Type", "application/json; charset=utf-8").SetBody(body)
	}, http.MethodPost, &out)
	if err != nil {
		return err
	}
	c.log.Debug(ctx, "message posted", logger.String("channel_id", channelID), logger.String("ts", out.TS))
	return nil
}

type connectionsOpenResponse struct {
	apiResponse
	URL string `json:"url"`
}

// OpenSocketURL asks Slack for a fresh Socket Mode websocket URL.
func (c *Client) OpenSocketURL(ctx context.Context) (string, error) {
	if c.appToken == "" {
		return "", ErrNoAppToken
	}
	var out connectionsOpenResponse
	err := c.call(ctx, "apps.connections.open", c.appToken, func(r *resty.Request) *resty.Request {
		return r
	}, http.MethodPost, &out)
	if err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", errors.New("apps.connections.open returned no url")
	}
	return out.URL, nil
}
