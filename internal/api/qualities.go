package api

import (
	"net/http"

	"github.com/seantiz/anvil/internal/model"
)

// qualityInfo describes one quality preset and its expected generation time.
type qualityInfo struct {
	Name      string  `json:"name"`
	EstimateS float64 `json:"estimate_s"`
	Default   bool    `json:"default,omitempty"`
}

func (s *Server) handleListQualities(w http.ResponseWriter, r *http.Request) {
	out := make([]qualityInfo, 0, len(model.Qualities))
	for _, q := range model.Qualities {
		out = append(out, qualityInfo{
			Name:      q,
			EstimateS: model.QualityEstimate(q).Seconds(),
			Default:   q == model.DefaultQuality,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}
