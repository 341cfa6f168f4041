package statuspage

import (
	"encoding/base64"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/lzyats/im-sentinel/internal/supervisor"
)

const Liveness = "WhatsApp Bot running. Visit /qr"

// Source is the session view the pages render.
type Source interface {
	Status() supervisor.Status
}

var page = template.Must(template.New("qr").Parse(`<html><body style="background:#0f1724;color:#e2e8f0;font-family:Inter,system-ui,Arial,Helvetica,sans-serif;display:flex;align-items:center;justify-content:center;height:100vh;flex-direction:column;">
{{- if .QR}}
<h2 style="margin-bottom:12px">Scan QR to login WhatsApp Bot</h2><img src="{{.QR}}" style="width:320px;height:320px;border-radius:12px;border:6px solid #0b1220;box-shadow:0 6px 24px rgba(2,6,23,0.6)"/><p style="margin-top:12px">Auto-refreshing...</p>
{{- else}}
<h2>Waiting for QR...</h2><p>Keep this page open, it auto-refreshes.</p>
{{- end}}
<script>setTimeout(() => location.reload(), 2500)</script></body></html>
`))

type health struct {
	State      string    `json:"state"`
	Since      time.Time `json:"since"`
	LastReason string    `json:"last_reason,omitempty"`
	Connects   uint64    `json:"connects"`
	Pairing    bool      `json:"pairing"`
}

// New returns the HTTP surface: liveness, QR page, health and metrics.
func New(src Source, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(Liveness))
	})

	mux.HandleFunc("GET /qr", func(w http.ResponseWriter, r *http.Request) {
		var data struct{ QR template.URL }
		if code := src.Status().PairingCode; code != "" {
			png, err := qrcode.Encode(code, qrcode.Medium, 320)
			if err != nil {
				log.Error("qr encode failed", zap.Error(err))
				http.Error(w, "qr encode failed", http.StatusInternalServerError)
				return
			}
			data.QR = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := page.Execute(w, data); err != nil {
			log.Warn("qr page render failed", zap.Error(err))
		}
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		st := src.Status()
		h := health{
			State:      string(st.State),
			Since:      st.Since.UTC(),
			LastReason: string(st.LastReason),
			Connects:   st.Connects,
			Pairing:    st.PairingCode != "",
		}
		code := http.StatusOK
		if st.State == supervisor.StateTerminated {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(h)
	})

	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}
