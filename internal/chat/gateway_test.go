package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/config"
	"pricewatch/internal/identity"
	"pricewatch/internal/shared/testutil"
)

var (
	ada = identity.Authenticated("u-ada", "Ada")
	bob = identity.Authenticated("u-bob", "Bob")
)

func newTestGateway(t *testing.T, mutate ...func(*Options)) (*Gateway, *testutil.BufferedSlogHandler) {
	t.Helper()
	logger, logs := testutil.NewTestLogger(t)
	opts := DefaultOptions()
	opts.Logger = logger
	for _, m := range mutate {
		m(&opts)
	}
	return NewGateway(opts), logs
}

func admit(t *testing.T, g *Gateway, who identity.Identity) (*Connection, *recordingTransport) {
	t.Helper()
	tr := &recordingTransport{}
	c, err := g.Admit(context.Background(), who, tr)
	require.NoError(t, err)
	return c, tr
}

func send(t *testing.T, g *Gateway, c *Connection, payload string) error {
	t.Helper()
	return g.HandleFrame(context.Background(), c.ID, []byte(payload))
}

func historyIDs(t *testing.T, frame map[string]interface{}) []string {
	t.Helper()
	require.Equal(t, FrameHistory, frame["type"])
	raw, ok := frame["messages"].([]interface{})
	require.True(t, ok, "messages must be an array")
	out := make([]string, 0, len(raw))
	for _, m := range raw {
		out = append(out, m.(map[string]interface{})["id"].(string))
	}
	return out
}

func TestGateway_AdmitSendsHistoryFirst(t *testing.T) {
	g, _ := newTestGateway(t)
	poster, _ := admit(t, g, ada)

	m1, err := g.PostMessage(context.Background(), poster.ID, "one")
	require.NoError(t, err)
	m2, err := g.PostMessage(context.Background(), poster.ID, "two")
	require.NoError(t, err)

	_, tr := admit(t, g, identity.Guest())
	frames := tr.decoded(t)
	require.Len(t, frames, 1)
	assert.Equal(t, []string{m1.ID, m2.ID}, historyIDs(t, frames[0]))
}

func TestGateway_EmptyHistoryFrame(t *testing.T) {
	g, _ := newTestGateway(t)
	_, tr := admit(t, g, identity.Guest())
	assert.JSONEq(t, `{"type":"history","messages":[]}`, string(tr.frames[0]))
}

func TestGateway_SnapshotIsAtomicWithConcurrentPosts(t *testing.T) {
	g, _ := newTestGateway(t, func(o *Options) { o.HistoryCapacity = 1000 })

	posters := make([]*Connection, 4)
	for i := range posters {
		posters[i], _ = admit(t, g, identity.Guest())
	}

	type admitted struct{ tr *recordingTransport }
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		joiners []admitted
	)

	for _, p := range posters {
		wg.Add(1)
		go func(p *Connection) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := g.PostMessage(context.Background(), p.ID, fmt.Sprintf("%s-%d", p.ID, i))
				assert.NoError(t, err)
			}
		}(p)
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr := &recordingTransport{}
			_, err := g.Admit(context.Background(), identity.Guest(), tr)
			assert.NoError(t, err)
			mu.Lock()
			joiners = append(joiners, admitted{tr: tr})
			mu.Unlock()
		}()
	}
	wg.Wait()

	final := g.History()
	require.Len(t, final, 200)
	want := make([]string, len(final))
	for i, m := range final {
		want[i] = m.ID
	}

	for _, j := range joiners {
		frames := j.tr.decoded(t)
		require.NotEmpty(t, frames)
		got := historyIDs(t, frames[0])
		for _, f := range frames[1:] {
			require.Equal(t, FrameMessage, f["type"])
			got = append(got, f["id"].(string))
		}
		assert.Equal(t, want, got, "snapshot plus later broadcasts must replay history exactly once, in order")
	}
}

func TestGateway_PostMessage(t *testing.T) {
	t.Run("trims text and broadcasts to everyone", func(t *testing.T) {
		g, _ := newTestGateway(t)
		sender, senderTr := admit(t, g, ada)
		_, otherTr := admit(t, g, identity.Guest())

		require.NoError(t, send(t, g, sender, `{"type":"message","text":"  hello  "}`))

		hist := g.History()
		require.Len(t, hist, 1)
		assert.Equal(t, "hello", hist[0].Text)
		assert.Equal(t, "Ada", hist[0].AuthorName)
		require.NotNil(t, hist[0].AuthorID)
		assert.Equal(t, "u-ada", *hist[0].AuthorID)

		for _, tr := range []*recordingTransport{senderTr, otherTr} {
			last := tr.last(t)
			assert.Equal(t, "message", last["type"])
			assert.Equal(t, "hello", last["text"])
			assert.Equal(t, hist[0].ID, last["id"])
		}
	})

	t.Run("whitespace only is rejected without mutation", func(t *testing.T) {
		g, _ := newTestGateway(t)
		sender, senderTr := admit(t, g, ada)
		_, otherTr := admit(t, g, identity.Guest())

		err := send(t, g, sender, `{"type":"message","text":"   \n\t "}`)
		assert.ErrorIs(t, err, ErrEmptyText)
		assert.Empty(t, g.History())
		assert.Equal(t, 1, otherTr.count(), "only the history frame")

		last := senderTr.last(t)
		assert.Equal(t, "error", last["type"])
		assert.Equal(t, "message text is required", last["message"])
	})

	t.Run("legacy content field", func(t *testing.T) {
		g, _ := newTestGateway(t)
		sender, _ := admit(t, g, identity.Guest())

		require.NoError(t, send(t, g, sender, `{"type":"message","content":"old client"}`))
		hist := g.History()
		require.Len(t, hist, 1)
		assert.Equal(t, "old client", hist[0].Text)
		assert.Nil(t, hist[0].AuthorID)
		assert.Equal(t, "Guest", hist[0].AuthorName)
	})

	t.Run("over-long text is truncated", func(t *testing.T) {
		g, _ := newTestGateway(t)
		sender, _ := admit(t, g, ada)

		require.NoError(t, send(t, g, sender, fmt.Sprintf(`{"type":"message","text":%q}`, strings.Repeat("x", 2500))))
		hist := g.History()
		require.Len(t, hist, 1)
		assert.Len(t, hist[0].Text, 2000)
	})

	t.Run("history stays bounded", func(t *testing.T) {
		g, _ := newTestGateway(t, func(o *Options) { o.HistoryCapacity = 3 })
		sender, _ := admit(t, g, ada)
		for i := 0; i < 10; i++ {
			_, err := g.PostMessage(context.Background(), sender.ID, fmt.Sprint(i))
			require.NoError(t, err)
		}
		hist := g.History()
		require.Len(t, hist, 3)
		assert.Equal(t, []string{"7", "8", "9"}, []string{hist[0].Text, hist[1].Text, hist[2].Text})
	})
}

func TestGateway_FanOut(t *testing.T) {
	g, _ := newTestGateway(t)
	sender, tr1 := admit(t, g, ada)
	_, tr2 := admit(t, g, bob)
	_, tr3 := admit(t, g, identity.Guest())

	m, err := g.PostMessage(context.Background(), sender.ID, "to all")
	require.NoError(t, err)

	payload := tr1.frames[1]
	assert.Equal(t, payload, tr2.frames[1])
	assert.Equal(t, payload, tr3.frames[1])

	_, tr4 := admit(t, g, identity.Guest())
	frames := tr4.decoded(t)
	require.Len(t, frames, 1, "late joiner gets no retroactive broadcast")
	assert.Equal(t, []string{m.ID}, historyIDs(t, frames[0]))
}

func TestGateway_EchoPolicy(t *testing.T) {
	t.Run("echo enabled", func(t *testing.T) {
		g, _ := newTestGateway(t, func(o *Options) { o.EchoToSender = true })
		sender, senderTr := admit(t, g, ada)
		_, otherTr := admit(t, g, bob)

		_, err := g.PostMessage(context.Background(), sender.ID, "hi")
		require.NoError(t, err)
		assert.Equal(t, 2, senderTr.count())
		assert.Equal(t, 2, otherTr.count())
	})

	t.Run("echo disabled", func(t *testing.T) {
		g, _ := newTestGateway(t, func(o *Options) { o.EchoToSender = false })
		sender, senderTr := admit(t, g, ada)
		_, otherTr := admit(t, g, bob)

		m, err := g.PostMessage(context.Background(), sender.ID, "hi")
		require.NoError(t, err)
		assert.Equal(t, 1, senderTr.count())
		assert.Equal(t, 2, otherTr.count())

		require.NoError(t, g.DeleteMessage(context.Background(), sender.ID, m.ID))
		assert.Equal(t, "delete", senderTr.last(t)["type"], "deletions always reach the sender")
	})
}

func TestGateway_Delete(t *testing.T) {
	t.Run("author deletes own message", func(t *testing.T) {
		g, _ := newTestGateway(t)
		author, authorTr := admit(t, g, ada)
		_, otherTr := admit(t, g, bob)

		m, err := g.PostMessage(context.Background(), author.ID, "oops")
		require.NoError(t, err)

		require.NoError(t, send(t, g, author, fmt.Sprintf(`{"type":"delete","messageId":%q}`, m.ID)))
		assert.Empty(t, g.History())
		for _, tr := range []*recordingTransport{authorTr, otherTr} {
			last := tr.last(t)
			assert.Equal(t, "delete", last["type"])
			assert.Equal(t, m.ID, last["messageId"])
		}
	})

	t.Run("another user cannot delete", func(t *testing.T) {
		g, _ := newTestGateway(t)
		author, _ := admit(t, g, ada)
		other, otherTr := admit(t, g, bob)

		m, err := g.PostMessage(context.Background(), author.ID, "mine")
		require.NoError(t, err)

		err = g.DeleteMessage(context.Background(), other.ID, m.ID)
		assert.ErrorIs(t, err, ErrNotAuthor)
		assert.Len(t, g.History(), 1)

		err = send(t, g, other, fmt.Sprintf(`{"type":"delete","messageId":%q}`, m.ID))
		assert.ErrorIs(t, err, ErrNotAuthor)
		assert.Equal(t, "only the author can delete this message", otherTr.last(t)["message"])
	})

	t.Run("same user on another connection can delete", func(t *testing.T) {
		g, _ := newTestGateway(t)
		first, _ := admit(t, g, ada)
		second, _ := admit(t, g, ada)

		m, err := g.PostMessage(context.Background(), first.ID, "hi")
		require.NoError(t, err)
		assert.NoError(t, g.DeleteMessage(context.Background(), second.ID, m.ID))
	})

	t.Run("guest cannot delete even its own post", func(t *testing.T) {
		g, _ := newTestGateway(t)
		guest, guestTr := admit(t, g, identity.Guest())
		_, otherTr := admit(t, g, ada)

		m, err := g.PostMessage(context.Background(), guest.ID, "guest post")
		require.NoError(t, err)
		before := otherTr.count()

		err = send(t, g, guest, fmt.Sprintf(`{"type":"delete","messageId":%q}`, m.ID))
		assert.ErrorIs(t, err, ErrGuestCannotDelete)
		assert.Len(t, g.History(), 1)
		assert.Equal(t, "guests cannot delete messages", guestTr.last(t)["message"])
		assert.Equal(t, before, otherTr.count(), "no broadcast")
	})

	t.Run("unknown id", func(t *testing.T) {
		g, _ := newTestGateway(t)
		c, tr := admit(t, g, ada)
		_, err := g.PostMessage(context.Background(), c.ID, "keep")
		require.NoError(t, err)
		before := g.History()

		err = send(t, g, c, `{"type":"delete","messageId":"does-not-exist"}`)
		assert.ErrorIs(t, err, ErrMessageNotFound)
		assert.Equal(t, before, g.History())
		assert.Equal(t, "message not found", tr.last(t)["message"])
	})

	t.Run("guest gets the same reply for known and unknown ids", func(t *testing.T) {
		g, _ := newTestGateway(t)
		author, _ := admit(t, g, ada)
		guest, guestTr := admit(t, g, identity.Guest())

		m, err := g.PostMessage(context.Background(), author.ID, "exists")
		require.NoError(t, err)

		for _, id := range []string{m.ID, "does-not-exist"} {
			err := send(t, g, guest, fmt.Sprintf(`{"type":"delete","messageId":%q}`, id))
			assert.ErrorIs(t, err, ErrGuestCannotDelete, id)
			assert.Equal(t, "guests cannot delete messages", guestTr.last(t)["message"])
		}
		assert.Len(t, g.History(), 1)
	})

	t.Run("missing id", func(t *testing.T) {
		g, _ := newTestGateway(t)
		c, tr := admit(t, g, ada)

		for _, payload := range []string{`{"type":"delete"}`, `{"type":"delete","messageId":"  "}`} {
			err := send(t, g, c, payload)
			assert.ErrorIs(t, err, ErrMissingMessageID)
			assert.Equal(t, "messageId is required", tr.last(t)["message"])
		}
	})
}

func TestGateway_MalformedFramePolicy(t *testing.T) {
	t.Run("reply", func(t *testing.T) {
		g, _ := newTestGateway(t, func(o *Options) { o.MalformedFramePolicy = config.MalformedPolicyReply })
		c, tr := admit(t, g, identity.Guest())
		_, otherTr := admit(t, g, identity.Guest())

		err := send(t, g, c, `{not json`)
		assert.ErrorIs(t, err, ErrMalformedFrame)
		last := tr.last(t)
		assert.Equal(t, "error", last["type"])
		assert.Equal(t, "malformed frame", last["message"])
		assert.Equal(t, 1, otherTr.count())
		assert.True(t, tr.Open(), "connection stays open")
	})

	t.Run("drop", func(t *testing.T) {
		g, logs := newTestGateway(t, func(o *Options) { o.MalformedFramePolicy = config.MalformedPolicyDrop })
		c, tr := admit(t, g, identity.Guest())

		err := send(t, g, c, `{not json`)
		assert.ErrorIs(t, err, ErrMalformedFrame)
		assert.Equal(t, 1, tr.count(), "no reply under the drop policy")
		assert.True(t, logs.ContainsMessage("malformed frame dropped"))
		assert.Empty(t, g.History())
	})
}

func TestGateway_UnknownFrameType(t *testing.T) {
	for _, policy := range []string{config.MalformedPolicyReply, config.MalformedPolicyDrop} {
		t.Run(policy, func(t *testing.T) {
			g, _ := newTestGateway(t, func(o *Options) { o.MalformedFramePolicy = policy })
			c, tr := admit(t, g, identity.Guest())

			err := send(t, g, c, `{"type":"typing"}`)
			assert.ErrorIs(t, err, ErrUnknownFrameType)
			assert.Equal(t, `unknown frame type "typing"`, tr.last(t)["message"])
		})
	}
}

func TestGateway_FrameRateLimit(t *testing.T) {
	g, _ := newTestGateway(t, func(o *Options) {
		o.FrameRate = 0.001
		o.FrameBurst = 2
	})
	c, tr := admit(t, g, identity.Guest())

	require.NoError(t, send(t, g, c, `{"type":"message","text":"1"}`))
	require.NoError(t, send(t, g, c, `{"type":"message","text":"2"}`))
	err := send(t, g, c, `{"type":"message","text":"3"}`)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, "rate limit exceeded", tr.last(t)["message"])
	assert.Len(t, g.History(), 2)
}

func TestGateway_DefaultOptionsDoNotLimitValidPosts(t *testing.T) {
	g := NewGateway(DefaultOptions())
	c, tr := admit(t, g, identity.Guest())

	for i := 0; i < 15; i++ {
		require.NoError(t, send(t, g, c, fmt.Sprintf(`{"type":"message","text":"post %d"}`, i)))
	}

	assert.Len(t, g.History(), 15)
	for _, frame := range tr.decoded(t) {
		assert.NotEqual(t, FrameError, frame["type"], "unexpected error frame: %v", frame["message"])
	}
}

func TestGateway_SlowConnectionDoesNotBlockOthers(t *testing.T) {
	g, logs := newTestGateway(t)
	sender, _ := admit(t, g, ada)
	_, slowTr := admit(t, g, bob)
	_, fastTr := admit(t, g, identity.Guest())

	slowTr.setFull(true)
	_, err := g.PostMessage(context.Background(), sender.ID, "hi")
	require.NoError(t, err)

	assert.Equal(t, 1, slowTr.count())
	assert.Equal(t, 2, fastTr.count())
	testutil.AssertLogAttr(t, logs, "dropped", int64(1))
}

func TestGateway_AdmitFailures(t *testing.T) {
	t.Run("closed transport", func(t *testing.T) {
		g, _ := newTestGateway(t)
		_, err := g.Admit(context.Background(), identity.Guest(), &recordingTransport{closed: true})
		assert.ErrorIs(t, err, ErrTransportClosed)
		assert.Equal(t, 0, g.Stats().Connections)
	})

	t.Run("history cannot be queued", func(t *testing.T) {
		g, _ := newTestGateway(t)
		_, err := g.Admit(context.Background(), identity.Guest(), &recordingTransport{full: true})
		assert.ErrorIs(t, err, ErrHistoryUndeliverable)
		assert.Equal(t, 0, g.Stats().Connections)
	})
}

func TestGateway_RemoveAndStats(t *testing.T) {
	g, _ := newTestGateway(t, func(o *Options) { o.HistoryCapacity = 10 })
	c1, _ := admit(t, g, ada)
	c2, tr2 := admit(t, g, bob)

	_, err := g.PostMessage(context.Background(), c1.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, Stats{Connections: 2, HistorySize: 1, HistoryCapacity: 10}, g.Stats())

	g.Remove(context.Background(), c2.ID)
	g.Remove(context.Background(), c2.ID)
	assert.Equal(t, 1, g.Stats().Connections)

	before := tr2.count()
	_, err = g.PostMessage(context.Background(), c1.ID, "again")
	require.NoError(t, err)
	assert.Equal(t, before, tr2.count(), "removed connections receive nothing")

	err = g.HandleFrame(context.Background(), c2.ID, []byte(`{"type":"message","text":"x"}`))
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestGateway_Shutdown(t *testing.T) {
	g, _ := newTestGateway(t)
	_, tr1 := admit(t, g, ada)
	_, tr2 := admit(t, g, identity.Guest())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.Shutdown(ctx))

	assert.False(t, tr1.Open())
	assert.False(t, tr2.Open())

	_, err := g.Admit(context.Background(), identity.Guest(), &recordingTransport{})
	assert.ErrorIs(t, err, ErrGatewayClosed)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.ChatConfig{
		HistoryCapacity:      200,
		MaxMessageLength:     500,
		EchoToSender:         false,
		MalformedFramePolicy: config.MalformedPolicyDrop,
		FrameRate:            2,
		FrameBurst:           4,
	})
	assert.Equal(t, 200, opts.HistoryCapacity)
	assert.Equal(t, 500, opts.MaxMessageLength)
	assert.False(t, opts.EchoToSender)
	assert.Equal(t, config.MalformedPolicyDrop, opts.MalformedFramePolicy)

	d := DefaultOptions()
	assert.Equal(t, 100, d.HistoryCapacity)
	assert.Equal(t, 2000, d.MaxMessageLength)
	assert.True(t, d.EchoToSender)
	assert.Equal(t, config.MalformedPolicyReply, d.MalformedFramePolicy)
}
