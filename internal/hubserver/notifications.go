// notifications.go exposes the Hub's secondary, rule-based notification
// channel (spec.md's operator console is the synchronous approval
// path; this is the async ops-alert path for events like mission
// failures) grounded on the teacher's notification_settings CRUD API
// shape (internal/notify/store.go, providers.go) and its event-bus
// Dispatcher.
package hubserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"intercom/internal/apperror"
	"intercom/internal/notify"
)

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, notify.GetProviderDefs())
}

func (s *Server) handleListNotificationServices(w http.ResponseWriter, r *http.Request) {
	services, err := notify.ListServices(s.reg.DB())
	if err != nil {
		jsonError(w, apperror.Internal(err))
		return
	}
	for i := range services {
		services[i].ConfigJSON = maskConfig(services[i])
	}
	jsonResponse(w, map[string]interface{}{"services": services})
}

type createNotificationServiceRequest struct {
	Name        string            `json:"name"`
	ServiceType string            `json:"service_type"`
	Fields      map[string]string `json:"fields"`
	Enabled     bool              `json:"enabled"`
	OnCritical  bool              `json:"notify_on_critical"`
	OnWarning   bool              `json:"notify_on_warning"`
	OnHealthy   bool              `json:"notify_on_healthy"`
}

func (s *Server) handleCreateNotificationService(w http.ResponseWriter, r *http.Request) {
	var req createNotificationServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, apperror.BadEnvelope(err))
		return
	}
	if err := notify.ValidateFields(req.ServiceType, req.Fields); err != nil {
		jsonError(w, apperror.BadEnvelope(err))
		return
	}
	shoutrrrURL, err := notify.BuildShoutrrrURL(req.ServiceType, req.Fields)
	if err != nil {
		jsonError(w, apperror.BadEnvelope(err))
		return
	}
	configJSON, _ := json.Marshal(storedServiceConfig{ShoutrrrURL: shoutrrrURL, Fields: req.Fields})

	svc := &notify.NotificationService{
		Name:             req.Name,
		ServiceType:      req.ServiceType,
		ConfigJSON:       string(configJSON),
		Enabled:          req.Enabled,
		NotifyOnCritical: req.OnCritical,
		NotifyOnWarning:  req.OnWarning,
		NotifyOnHealthy:  req.OnHealthy,
	}
	id, err := notify.CreateService(s.reg.DB(), svc)
	if err != nil {
		jsonError(w, apperror.Internal(err))
		return
	}
	jsonResponse(w, map[string]interface{}{"id": id})
}

func (s *Server) handleDeleteNotificationService(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, apperror.BadEnvelope(err))
		return
	}
	if err := notify.DeleteService(s.reg.DB(), id); err != nil {
		jsonError(w, apperror.Internal(err))
		return
	}
	jsonResponse(w, map[string]interface{}{"ok": true})
}

func (s *Server) handleNotificationHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	history, err := notify.RecentHistory(s.reg.DB(), limit)
	if err != nil {
		jsonError(w, apperror.Internal(err))
		return
	}
	jsonResponse(w, map[string]interface{}{"history": history})
}

// storedServiceConfig is the JSON shape kept in NotificationService.ConfigJSON:
// the assembled Shoutrrr URL plus the raw field values it was built
// from, so the fields can be re-masked (never the URL, which may embed
// a bot token directly) whenever the service list is read back.
type storedServiceConfig struct {
	ShoutrrrURL string            `json:"shoutrrr_url"`
	Fields      map[string]string `json:"fields"`
}

// maskConfig redacts password-type fields (bot tokens, SMTP passwords)
// before a service's configuration is ever sent back over the API, and
// drops the assembled Shoutrrr URL entirely since it may embed a
// secret directly (e.g. a Telegram bot token in the path).
func maskConfig(svc notify.NotificationService) string {
	var cfg storedServiceConfig
	if err := json.Unmarshal([]byte(svc.ConfigJSON), &cfg); err != nil {
		return "{}"
	}
	out, _ := json.Marshal(map[string]interface{}{
		"fields": notify.MaskSecrets(svc.ServiceType, cfg.Fields),
	})
	return string(out)
}
