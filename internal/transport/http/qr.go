package httptransport

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 320

// QR renders the session's join link as a PNG QR code, the
// pass-a-link half of "pass a link" multiplayer.
func (h *Handlers) QR() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "session_id")
		sess, err := h.svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		base := strings.TrimSuffix(h.cfg.PublicBaseURL, "/")
		if base == "" {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
				scheme = proto
			}
			base = scheme + "://" + r.Host
		}
		url := base + "/play/" + string(sess.Kind) + "/" + sess.ID

		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			writeHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}
