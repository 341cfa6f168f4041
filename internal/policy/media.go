package policy

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lzyats/im-sentinel/internal/audit"
	"github.com/lzyats/im-sentinel/internal/dispatch"
	"github.com/lzyats/im-sentinel/internal/media"
	"github.com/lzyats/im-sentinel/internal/metrics"
	"github.com/lzyats/im-sentinel/pkg/event"
	"github.com/lzyats/im-sentinel/pkg/protocol"
)

// MediaCapture saves view-once media and forwards it to the owner.
// Best-effort, never retried.
type MediaCapture struct {
	vault *media.Vault
	fwd   *Forwarder
	audit audit.Sink
	log   *zap.Logger
}

func NewMediaCapture(v *media.Vault, fwd *Forwarder, sink audit.Sink, log *zap.Logger) *MediaCapture {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &MediaCapture{vault: v, fwd: fwd, audit: sink, log: log}
}

func (m *MediaCapture) Name() string { return "media" }

func (m *MediaCapture) Handle(ctx context.Context, env *dispatch.Env) dispatch.Result {
	if !env.Event.ViewOnce() {
		return dispatch.Skip()
	}
	desc := env.Event.Content.Media

	data, err := env.Session.DownloadMedia(ctx, env.Event.Key)
	if err != nil {
		return dispatch.Failed(fmt.Errorf("view-once download: %w", err))
	}
	path, err := m.vault.Save(media.Ext(desc), data)
	if err != nil {
		return dispatch.Failed(fmt.Errorf("view-once save: %w", err))
	}
	metrics.MediaCaptured.WithLabelValues(string(desc.Kind)).Inc()
	m.log.Info("saved view-once media", zap.String("path", path), zap.String("chat", env.Sender), zap.Int("bytes", len(data)))

	if err := m.audit.Publish(ctx, &audit.Event{
		Event:  audit.EventViewOnce,
		Chat:   env.Sender,
		MsgID:  env.Event.Key.ID,
		Author: env.Event.Key.Author(),
		Meta:   map[string]string{"path": path, "kind": string(desc.Kind)},
	}); err != nil {
		m.log.Debug("audit publish failed", zap.Error(err))
	}

	notice := fmt.Sprintf("👁️‍🗨️ View-Once media received from %s", env.Sender)
	if err := m.fwd.Send(ctx, env.Session, protocol.Text(notice)); err != nil {
		return dispatch.Failed(fmt.Errorf("view-once notice: %w", err))
	}
	kind := desc.Kind
	if kind != event.MediaImage && kind != event.MediaVideo {
		kind = event.MediaDocument
	}
	if err := m.fwd.Send(ctx, env.Session, protocol.Outgoing{Media: &protocol.OutgoingMedia{
		Kind:     kind,
		MimeType: desc.MimeType,
		FileName: filepath.Base(path),
		Data:     data,
	}}); err != nil {
		return dispatch.Failed(fmt.Errorf("view-once forward: %w", err))
	}
	return dispatch.Next()
}
