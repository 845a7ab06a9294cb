package httpserver

import "net/http"

// Routes groups handlers.
type Routes struct {
	SessionStart   http.HandlerFunc
	SessionPause   http.HandlerFunc
	SessionResume  http.HandlerFunc
	SessionStop    http.HandlerFunc
	ActiveSessions http.HandlerFunc
	Events         http.HandlerFunc
	AdminLogin     http.HandlerFunc
	QueueStatus    http.HandlerFunc
	RetryDead      http.HandlerFunc
	Health         http.HandlerFunc
	Metrics        http.Handler
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.SessionStart != nil {
		mux.Handle("/sessions/start", method(http.MethodPost, routes.SessionStart))
	}
	if routes.SessionPause != nil {
		mux.Handle("/sessions/pause", method(http.MethodPost, routes.SessionPause))
	}
	if routes.SessionResume != nil {
		mux.Handle("/sessions/resume", method(http.MethodPost, routes.SessionResume))
	}
	if routes.SessionStop != nil {
		mux.Handle("/sessions/stop", method(http.MethodPost, routes.SessionStop))
	}
	if routes.ActiveSessions != nil {
		mux.Handle("/sessions/active", method(http.MethodGet, routes.ActiveSessions))
	}
	if routes.Events != nil {
		mux.Handle("/ws/events", method(http.MethodGet, routes.Events))
	}
	if routes.AdminLogin != nil {
		mux.Handle("/admin/login", method(http.MethodPost, routes.AdminLogin))
	}
	if routes.QueueStatus != nil {
		mux.Handle("/admin/queue/status", method(http.MethodGet, routes.QueueStatus))
	}
	if routes.RetryDead != nil {
		mux.Handle("/admin/queue/retry-dead", method(http.MethodPost, routes.RetryDead))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", routes.Metrics)
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
