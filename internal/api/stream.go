package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
)

// handleStream upgrades to a websocket and relays one JSON frame per
// completed kernel step for as long as the run stays in-flight,
// playing the same live-progress role the teacher's market status feed
// plays for exchange connectivity, but over a run's own step clock.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	ch := run.Subscribe()
	defer run.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "run finished")
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.log.Error().Err(err).Msg("failed to marshal step event")
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}
