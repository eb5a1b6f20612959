package api

import "amaksub.vtu/internal/logging"

func (s *Server) logEvent(event string, fields map[string]any) {
    logging.Event(s.logger, event, fields)
}
