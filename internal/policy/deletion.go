package policy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lzyats/im-sentinel/internal/audit"
	"github.com/lzyats/im-sentinel/internal/dispatch"
	"github.com/lzyats/im-sentinel/internal/metrics"
	"github.com/lzyats/im-sentinel/internal/store/storeiface"
	"github.com/lzyats/im-sentinel/pkg/protocol"
)

const DeletedNotice = "message deleted (captured)"

// IDSource hands out record ids (sonyflake in production).
type IDSource interface {
	NextID() (uint64, error)
}

// Deletion appends every revoke to the deletion log, then tells the owner.
// The record is always written first; the notice is best-effort.
type Deletion struct {
	logStore storeiface.DeletionLog
	fwd      *Forwarder
	ids      IDSource
	audit    audit.Sink
	log      *zap.Logger
	now      func() time.Time
}

func NewDeletion(l storeiface.DeletionLog, fwd *Forwarder, ids IDSource, sink audit.Sink, log *zap.Logger) *Deletion {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Deletion{logStore: l, fwd: fwd, ids: ids, audit: sink, log: log, now: time.Now}
}

func (d *Deletion) Name() string { return "deletion" }

func (d *Deletion) Handle(ctx context.Context, env *dispatch.Env) dispatch.Result {
	del := env.Event.Deletion
	if del == nil {
		return dispatch.Skip()
	}
	now := d.now().UTC()
	id, err := d.ids.NextID()
	if err != nil {
		id = uint64(now.UnixNano())
	}
	rec := storeiface.DeletedRecord{
		ID:      int64(id),
		Key:     del.Target,
		Notice:  DeletedNotice,
		Content: del.Recovered,
		Time:    now,
	}
	if err := d.logStore.Append(ctx, rec); err != nil {
		return dispatch.Failed(err)
	}
	metrics.DeletionsLogged.Inc()
	d.log.Info("deletion logged", zap.Int64("id", rec.ID), zap.String("chat", del.Target.Chat), zap.String("msg_id", del.Target.ID))

	if err := d.audit.Publish(ctx, &audit.Event{
		Event:    audit.EventDeletion,
		RecordID: rec.ID,
		TS:       now.Unix(),
		Chat:     del.Target.Chat,
		MsgID:    del.Target.ID,
		Author:   del.Target.Author(),
	}); err != nil {
		d.log.Debug("audit publish failed", zap.Error(err))
	}

	chat := del.Target.Chat
	if chat == "" {
		chat = "unknown"
	}
	notice := fmt.Sprintf("🛑 Deleted message from %s:\n%s", chat, del.Recovered)
	if err := d.fwd.Send(ctx, env.Session, protocol.Text(notice)); err != nil {
		return dispatch.Failed(fmt.Errorf("deletion notice: %w", err))
	}
	return dispatch.Next()
}
