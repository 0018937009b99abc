package http

// registerV1Routes sets up the v1 API.
// Groups: /api/v1/core, /api/v1/realtime
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware())
	if s.cfg.BearerToken != "" {
		v1.Use(bearerAuthMiddleware(s.cfg.BearerToken))
	}

	// Core endpoints - unit catalog and generation history
	core := v1.Group("/core")
	{
		core.GET("/units", s.handleV1ListUnits)
		core.GET("/units/:code", s.handleV1GetUnit)
		core.GET("/units/:code/generation", s.handleV1UnitGeneration)
	}

	// Realtime endpoints - latest data
	realtime := v1.Group("/realtime")
	{
		realtime.GET("/now", s.handleV1RealtimeNow)
	}
}
