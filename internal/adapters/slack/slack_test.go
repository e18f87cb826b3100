package slack_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/okian/spotted/internal/adapters/slack"
	"github.com/okian/spotted/internal/domain/model"
	"github.com/okian/spotted/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeSlack serves the handful of Web API methods the bot calls.
type fakeSlack struct {
	mu         sync.Mutex
	userCalls  atomic.Int32
	posted     []map[string]string
	history    string
	replies    string
	repliesQS  string
	auth       []string
	socketURL  string
	failStatus int
}

func (f *fakeSlack) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if f.failStatus != 0 {
			w.WriteHeader(f.failStatus)
			return
		}
		_, _ = w.Write([]byte(f.history))
	})
	mux.HandleFunc("/conversations.replies", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		f.repliesQS = r.URL.RawQuery
		f.mu.Unlock()
		_, _ = w.Write([]byte(f.replies))
	})
	mux.HandleFunc("/users.info", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.userCalls.Add(1)
		time.Sleep(20 * time.Millisecond)
		switch r.URL.Query().Get("user") {
		case "U1":
			_, _ = w.Write([]byte(`{"ok":true,"user":{"id":"U1","name":"al","real_name":"Alice","profile":{"display_name":"","real_name":"Alice Real"}}}`))
		case "U2":
			_, _ = w.Write([]byte(`{"ok":true,"user":{"id":"U2","name":"bobby","profile":{}}}`))
		default:
			_, _ = w.Write([]byte(`{"ok":false,"error":"user_not_found"}`))
		}
	})
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.posted = append(f.posted, body)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"ts":"2.0"}`))
	})
	mux.HandleFunc("/apps.connections.open", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_, _ = w.Write([]byte(`{"ok":true,"url":"` + f.socketURL + `"}`))
	})
	return mux
}

func (f *fakeSlack) record(r *http.Request) {
	f.mu.Lock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	f.mu.Unlock()
}

func newClient(url string, opts ...slack.Option) *slack.Client {
	opts = append([]slack.Option{
		slack.WithBaseURL(url),
		slack.WithRateLimit(1000, 100),
		slack.WithLogger(logger.Nop()),
	}, opts...)
	return slack.New("xoxb-test", opts...)
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	Convey("Given a client against a fake Slack API", t, func() {
		fake := &fakeSlack{}
		srv := httptest.NewServer(fake.handler())
		Reset(srv.Close)
		c := newClient(srv.URL)
		ref := model.MessageRef{ChannelID: "C1", MessageTS: "1.5"}

		Convey("When re-fetching a message that now has files", func() {
			fake.history = `{"ok":true,"messages":[{"type":"message","user":"U1","text":"<@U2>","ts":"1.5",
				"files":[{"id":"F1","mimetype":"image/png"},{"id":"F2","mimetype":"text/plain"}]}]}`
			ev, err := c.FetchEvent(ctx, ref)

			Convey("Then the message is mapped with its attachments", func() {
				So(err, ShouldBeNil)
				So(ev.EventID, ShouldEqual, "C1:1.5")
				So(ev.ChannelID, ShouldEqual, "C1")
				So(ev.AuthorID, ShouldEqual, "U1")
				So(ev.Attachments, ShouldHaveLength, 2)
				So(ev.Attachments[0].MimeType, ShouldEqual, "image/png")
				So(fake.auth[0], ShouldEqual, "Bearer xoxb-test")
			})
		})

		Convey("When re-fetching a reply inside a thread", func() {
			fake.history = `{"ok":true,"messages":[]}`
			fake.replies = `{"ok":true,"messages":[{"type":"message","user":"U1","text":"<@U2>","ts":"1.5","thread_ts":"1.0",
				"files":[{"id":"F3","mimetype":"image/jpeg"}]}]}`
			ev, err := c.FetchEvent(ctx, model.MessageRef{ChannelID: "C1", MessageTS: "1.5", ThreadTS: "1.0"})

			Convey("Then the thread is read instead of channel history", func() {
				So(err, ShouldBeNil)
				So(ev.EventID, ShouldEqual, "C1:1.5")
				So(ev.ThreadTS, ShouldEqual, "1.0")
				So(ev.Attachments, ShouldHaveLength, 1)
				So(fake.repliesQS, ShouldContainSubstring, "ts=1.0")
				So(fake.repliesQS, ShouldContainSubstring, "latest=1.5")
			})
		})

		Convey("When re-fetching a thread parent", func() {
			fake.history = `{"ok":true,"messages":[{"type":"message","user":"U1","ts":"1.5","thread_ts":"1.5"}]}`
			_, err := c.FetchEvent(ctx, model.MessageRef{ChannelID: "C1", MessageTS: "1.5", ThreadTS: "1.5"})

			Convey("Then channel history is used", func() {
				So(err, ShouldBeNil)
				So(fake.repliesQS, ShouldBeEmpty)
			})
		})

		Convey("When the message is gone", func() {
			fake.history = `{"ok":true,"messages":[]}`
			_, err := c.FetchEvent(ctx, ref)
			So(errors.Is(err, slack.ErrMessageNotFound), ShouldBeTrue)
		})

		Convey("When Slack reports an API error", func() {
			fake.history = `{"ok":false,"error":"channel_not_found"}`
			_, err := c.FetchEvent(ctx, ref)
			So(errors.Is(err, slack.ErrAPI), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "channel_not_found")
		})

		Convey("When Slack answers with a server error", func() {
			fake.failStatus = http.StatusInternalServerError
			_, err := c.FetchEvent(ctx, ref)
			So(errors.Is(err, slack.ErrAPI), ShouldBeTrue)
		})

		Convey("When resolving display names", func() {
			Convey("Then the profile real name beats the account name", func() {
				name, err := c.DisplayName(ctx, "U1")
				So(err, ShouldBeNil)
				So(name, ShouldEqual, "Alice Real")
			})

			Convey("Then the handle is the last fallback", func() {
				name, err := c.DisplayName(ctx, "U2")
				So(err, ShouldBeNil)
				So(name, ShouldEqual, "bobby")
			})

			Convey("Then unknown users return an error", func() {
				_, err := c.DisplayName(ctx, "U404")
				So(err, ShouldNotBeNil)
			})

			Convey("Then concurrent and repeated lookups share one call", func() {
				var wg sync.WaitGroup
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, _ = c.DisplayName(ctx, "U1")
					}()
				}
				wg.Wait()
				_, _ = c.DisplayName(ctx, "U1")
				So(fake.userCalls.Load(), ShouldEqual, 1)
			})
		})

		Convey("When posting a thread reply", func() {
			err := c.PostMessage(ctx, "C1", "1.5", "spotted!")
			So(err, ShouldBeNil)
			So(fake.posted, ShouldHaveLength, 1)
			So(fake.posted[0]["channel"], ShouldEqual, "C1")
			So(fake.posted[0]["thread_ts"], ShouldEqual, "1.5")
			So(fake.posted[0]["text"], ShouldEqual, "spotted!")
		})

		Convey("When opening a socket without an app token", func() {
			_, err := c.OpenSocketURL(ctx)
			So(errors.Is(err, slack.ErrNoAppToken), ShouldBeTrue)
		})

		Convey("When opening a socket with an app token", func() {
			fake.socketURL = "wss://example.invalid/link"
			c := newClient(srv.URL, slack.WithAppToken("xapp-1"))
			url, err := c.OpenSocketURL(ctx)
			So(err, ShouldBeNil)
			So(url, ShouldEqual, "wss://example.invalid/link")
			So(fake.auth[len(fake.auth)-1], ShouldEqual, "Bearer xapp-1")
		})
	})
}

func TestParseEnvelope(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	Convey("Given Events API bodies", t, func() {
		Convey("A url_verification challenge is decoded", func() {
			env, err := slack.ParseEnvelope([]byte(`{"type":"url_verification","challenge":"abc"}`))
			So(err, ShouldBeNil)
			So(env.Type, ShouldEqual, slack.TypeURLVerification)
			So(env.Challenge, ShouldEqual, "abc")
		})

		Convey("Garbage is rejected", func() {
			_, err := slack.ParseEnvelope([]byte(`{not json`))
			So(errors.Is(err, slack.ErrBadPayload), ShouldBeTrue)
			_, err = slack.ParseEnvelope([]byte(`{}`))
			So(errors.Is(err, slack.ErrBadPayload), ShouldBeTrue)
		})

		callback := func(event string) slack.Envelope {
			env, err := slack.ParseEnvelope([]byte(`{"type":"event_callback","event_id":"Ev1","event":` + event + `}`))
			So(err, ShouldBeNil)
			return env
		}

		Convey("A file_share message becomes a MessageEvent", func() {
			env := callback(`{"type":"message","subtype":"file_share","user":"U1","channel":"C1","ts":"1.0",
				"text":"<@U2>","files":[{"id":"F1","mimetype":"image/jpeg"}]}`)
			ev, reason := env.MessageEvent(now)
			So(reason, ShouldBeEmpty)
			So(ev.EventID, ShouldEqual, "C1:1.0")
			So(ev.DeliveryID, ShouldEqual, "Ev1")
			So(ev.Attachments, ShouldHaveLength, 1)
			So(ev.ReceivedAt, ShouldEqual, now)
		})

		Convey("Non-candidate events carry a reason", func() {
			cases := map[string]string{
				`{"type":"reaction_added","user":"U1"}`:                                          slack.IgnoreNotMessage,
				`{"type":"message","subtype":"message_changed","channel":"C1","ts":"1"}`:         slack.IgnoreSubtype,
				`{"type":"message","bot_id":"B1","user":"U1","channel":"C1","ts":"1"}`:           slack.IgnoreBot,
				`{"type":"message","channel":"C1","ts":"1","text":"hi"}`:                         slack.IgnoreNoUser,
				`{"type":"message","user":"U1","text":"hi"}`:                                     slack.IgnoreMalformed,
				`{"type":"message","subtype":"bot_message","user":"U1","channel":"C1","ts":"1"}`: slack.IgnoreSubtype,
			}
			for body, want := range cases {
				_, reason := callback(body).MessageEvent(now)
				So(reason, ShouldEqual, want)
			}
		})

		Convey("Envelopes that are not callbacks are ignored", func() {
			env, _ := slack.ParseEnvelope([]byte(`{"type":"app_rate_limited"}`))
			_, reason := env.MessageEvent(now)
			So(reason, ShouldEqual, slack.IgnoreNotCallback)
		})
	})
}

func TestVerifySignature(t *testing.T) {
	Convey("Given a signed request", t, func() {
		now := time.Unix(1_700_000_000, 0)
		body := []byte(`{"type":"event_callback"}`)
		h := http.Header{}
		h.Set(slack.HeaderTimestamp, "1700000000")
		h.Set(slack.HeaderSignature, slack.Sign("secret", now.Unix(), body))

		Convey("Then the right secret verifies", func() {
			So(slack.VerifySignature("secret", h, body, now), ShouldBeNil)
		})

		Convey("Then a tampered body fails", func() {
			err := slack.VerifySignature("secret", h, []byte(`{}`), now)
			So(errors.Is(err, slack.ErrBadSignature), ShouldBeTrue)
		})

		Convey("Then the wrong secret fails", func() {
			So(slack.VerifySignature("other", h, body, now), ShouldNotBeNil)
		})

		Convey("Then an old request is rejected as stale", func() {
			err := slack.VerifySignature("secret", h, body, now.Add(10*time.Minute))
			So(errors.Is(err, slack.ErrStaleRequest), ShouldBeTrue)
		})

		Convey("Then a missing timestamp fails", func() {
			h.Del(slack.HeaderTimestamp)
			So(slack.VerifySignature("secret", h, body, now), ShouldNotBeNil)
		})
	})
}

func TestSocketClient(t *testing.T) {
	Convey("Given a fake Socket Mode endpoint", t, func() {
		upgrader := websocket.Upgrader{}
		acks := make(chan string, 4)
		ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer func() { _ = conn.Close() }()
			_ = conn.WriteJSON(map[string]any{"type": "hello"})
			_ = conn.WriteJSON(map[string]any{
				"type":        "events_api",
				"envelope_id": "env-1",
				"payload": map[string]any{
					"type": "event_callback", "event_id": "Ev9",
					"event": map[string]any{"type": "message", "user": "U1", "channel": "C1", "ts": "3.0", "text": "<@U2>"},
				},
			})
			var ack map[string]string
			if err := conn.ReadJSON(&ack); err == nil {
				acks <- ack["envelope_id"]
			}
			// hold the connection until the client goes away
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}))
		Reset(ws.Close)

		fake := &fakeSlack{socketURL: "ws" + strings.TrimPrefix(ws.URL, "http")}
		api := httptest.NewServer(fake.handler())
		Reset(api.Close)

		got := make(chan slack.Envelope, 1)
		client := newClient(api.URL, slack.WithAppToken("xapp-1"))
		sc := slack.NewSocketClient(client, func(_ context.Context, env slack.Envelope) {
			got <- env
		}, slack.WithReconnectBackoff(10*time.Millisecond, 50*time.Millisecond))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sc.Run(ctx) }()

		Convey("Then events are acked and handed over", func() {
			var env slack.Envelope
			select {
			case env = <-got:
			case <-time.After(2 * time.Second):
			}
			So(env.EventID, ShouldEqual, "Ev9")
			ev, reason := env.MessageEvent(time.Now())
			So(reason, ShouldBeEmpty)
			So(ev.EventID, ShouldEqual, "C1:3.0")

			var ack string
			select {
			case ack = <-acks:
			case <-time.After(2 * time.Second):
			}
			So(ack, ShouldEqual, "env-1")

			cancel()
			var runErr error
			select {
			case runErr = <-done:
			case <-time.After(2 * time.Second):
				runErr = errors.New("socket client did not stop")
			}
			So(runErr, ShouldBeNil)
		})
	})
}
