/*Package statushttp exposes a minimal, read-only JSON monitor over the DAQ
Controller: current FSM state, buffer fill percentage, decoder-error
count, and enabled ROC/TBM counts. It is deliberately NOT the test GUI
spec.md §1 puts out of scope -- no histogramming, no control routes, just
the handful of read-only views a remote dashboard needs.

Route registration follows generichttp's small-handler-per-field style
(one http.HandlerFunc per concern, JSON in/out), rebuilt on
github.com/go-chi/chi since this module's HTTP surface is a single flat
router rather than generichttp's per-device RouteTable/goji.Mux wiring.
*/
package statushttp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/psi46/pxarcore/pxarapi"
)

// statusPayload is the JSON shape of GET /status.
type statusPayload struct {
	State          string `json:"state"`
	PerFull        int    `json:"per_full"`
	DecoderErrors  uint32 `json:"decoder_errors"`
	EnabledRocs    int    `json:"enabled_rocs"`
	EnabledTbms    int    `json:"enabled_tbms"`
	Initialized    bool   `json:"initialized"`
	Programmed     bool   `json:"programmed"`
}

// NewRouter builds a chi.Router exposing read-only status routes over a.
func NewRouter(a *pxarapi.API) http.Handler {
	r := chi.NewRouter()
	r.Get("/status", status(a))
	r.Get("/masked-count", maskedCount(a))
	return r
}

func status(a *pxarapi.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, perFull, err := a.Daq.Status()
		if err != nil {
			perFull = 0
		}
		payload := statusPayload{
			State:         a.Daq.State().String(),
			PerFull:       perFull,
			DecoderErrors: a.Daq.DecoderErrors(),
			EnabledRocs:   len(a.D.EnabledRocIndices()),
			EnabledTbms:   len(a.D.EnabledTbms()),
			Initialized:   a.D.Initialized,
			Programmed:    a.D.Programmed,
		}
		writeJSON(w, payload)
	}
}

type maskedCountPayload struct {
	Masked int `json:"masked"`
}

func maskedCount(a *pxarapi.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, maskedCountPayload{Masked: a.D.MaskedPixelCount()})
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
