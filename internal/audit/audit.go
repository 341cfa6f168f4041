package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	rmq "github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"go.uber.org/zap"

	"github.com/lzyats/im-sentinel/internal/metrics"
)

const (
	EventDeletion = "deletion.captured"
	EventViewOnce = "viewonce.captured"
)

var ErrClosed = errors.New("audit: sink closed")

// Event is the audit envelope published for every capture. Consumers key
// on Event; add fields, never rename them.
type Event struct {
	Event    string            `json:"event"`
	RecordID int64             `json:"record_id,omitempty"`
	TS       int64             `json:"ts"` // unix seconds
	Chat     string            `json:"chat"`
	MsgID    string            `json:"msg_id,omitempty"`
	Author   string            `json:"author,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// Sink publishes audit events. Publish must not block on the broker.
type Sink interface {
	Publish(ctx context.Context, evt *Event) error
	Close() error
}

type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }
func (Nop) Close() error                          { return nil }

type Settings struct {
	NameServer string
	Topic      string
	Tag        string // prefix for the per-event tag
	Group      string
	AccessKey  string
	SecretKey  string
	Log        *zap.Logger
}

func (s Settings) validate() error {
	switch {
	case s.NameServer == "":
		return errors.New("audit: name-server required")
	case s.Group == "":
		return errors.New("audit: producer group required")
	case s.Topic == "":
		return errors.New("audit: topic required")
	}
	return nil
}

// tagFor maps an event name to its broker tag, so consumers can subscribe to
// "deletion" or "viewonce" alone: "deletion.captured" -> "<prefix>_deletion".
func (s Settings) tagFor(event string) string {
	kind, _, _ := strings.Cut(event, ".")
	if kind == "" {
		kind = "other"
	}
	if s.Tag == "" {
		return kind
	}
	return s.Tag + "_" + kind
}

// message builds the broker message. Keys carry the message id and record
// id so a capture can be looked up from the console.
func (s Settings) message(evt *Event, now time.Time) (*primitive.Message, string, error) {
	if evt == nil {
		return nil, "", errors.New("audit: nil event")
	}
	if evt.TS == 0 {
		evt.TS = now.Unix()
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return nil, "", err
	}
	tag := s.tagFor(evt.Event)
	m := primitive.NewMessage(s.Topic, b).WithTag(tag)

	var keys []string
	if evt.MsgID != "" {
		keys = append(keys, evt.MsgID)
	}
	if evt.RecordID != 0 {
		keys = append(keys, strconv.FormatInt(evt.RecordID, 10))
	}
	if len(keys) > 0 {
		m.WithKeys(keys)
	}
	if evt.Chat != "" {
		m.WithProperty("chat", evt.Chat)
	}
	return m, tag, nil
}

// RocketMQ sends asynchronously; results are logged and counted from the
// callback. Close waits for outstanding sends before shutting down.
type RocketMQ struct {
	set Settings
	log *zap.Logger
	p   rmq.Producer

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func NewRocketMQ(set Settings) (*RocketMQ, error) {
	if err := set.validate(); err != nil {
		return nil, err
	}
	log := set.Log
	if log == nil {
		log = zap.NewNop()
	}

	opts := []producer.Option{
		producer.WithNameServer(strings.Split(set.NameServer, ";")),
		producer.WithGroupName(set.Group),
		producer.WithRetry(2),
		producer.WithSendMsgTimeout(3 * time.Second),
	}
	if set.AccessKey != "" || set.SecretKey != "" {
		opts = append(opts, producer.WithCredentials(primitive.Credentials{
			AccessKey: set.AccessKey,
			SecretKey: set.SecretKey,
		}))
	}
	prd, err := rmq.NewProducer(opts...)
	if err != nil {
		return nil, err
	}
	if err := prd.Start(); err != nil {
		return nil, err
	}
	log.Info("audit producer started", zap.String("topic", set.Topic), zap.String("group", set.Group))
	return &RocketMQ{set: set, log: log, p: prd}, nil
}

func (r *RocketMQ) Publish(ctx context.Context, evt *Event) error {
	m, tag, err := r.set.message(evt, time.Now())
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.inflight.Add(1)
	r.mu.Unlock()

	err = r.p.SendAsync(context.WithoutCancel(ctx), func(_ context.Context, res *primitive.SendResult, err error) {
		defer r.inflight.Done()
		r.observe(evt, tag, res, err)
	}, m)
	if err != nil {
		r.inflight.Done()
		metrics.AuditPublished.WithLabelValues(tag, "error").Inc()
		return err
	}
	return nil
}

func (r *RocketMQ) observe(evt *Event, tag string, res *primitive.SendResult, err error) {
	if err == nil && res != nil && res.Status != primitive.SendOK {
		err = errors.New("audit: broker status " + strconv.Itoa(int(res.Status)))
	}
	if err != nil {
		metrics.AuditPublished.WithLabelValues(tag, "error").Inc()
		r.log.Warn("audit publish failed",
			zap.String("event", evt.Event), zap.String("chat", evt.Chat), zap.Error(err))
		return
	}
	metrics.AuditPublished.WithLabelValues(tag, "ok").Inc()
	r.log.Debug("audit published", zap.String("event", evt.Event), zap.String("msg_id", res.MsgID))
}

func (r *RocketMQ) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.inflight.Wait()
	return r.p.Shutdown()
}
