package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cexll/chatstream-go/pkg/api"
	"github.com/cexll/chatstream-go/pkg/event"
	"github.com/cexll/chatstream-go/pkg/model"
	"github.com/cexll/chatstream-go/pkg/model/demo"
	"github.com/cexll/chatstream-go/pkg/provider"
	"github.com/cexll/chatstream-go/pkg/workspace"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	var apiErr *model.APIError
	switch {
	case errors.Is(err, workspace.ErrChatNotFound), errors.Is(err, workspace.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, workspace.ErrPresetTemplate):
		return http.StatusForbidden
	case errors.Is(err, api.ErrTurnInFlight):
		return http.StatusConflict
	case errors.Is(err, api.ErrEmptyPrompt), errors.Is(err, api.ErrNothingToRetry),
		errors.Is(err, workspace.ErrEmptyName), errors.Is(err, errBadRequest),
		errors.Is(err, provider.ErrNoProvider), errors.Is(err, provider.ErrNoModel),
		errors.Is(err, provider.ErrNoAPIKey):
		return http.StatusBadRequest
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	case errors.Is(err, api.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

var errBadRequest = errors.New("bad request")

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON payload: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Providers().List())
}

// providerView is the provider selection without secrets.
type providerView struct {
	ProviderID  string              `json:"providerId"`
	Model       *model.ChatModel    `json:"model,omitempty"`
	HasAPIKey   bool                `json:"hasApiKey"`
	SavedKeys   map[string][]string `json:"savedKeys"`
	Problem     string              `json:"problem,omitempty"`
	PromptInfo  string              `json:"promptInfo,omitempty"`
	RequiresKey bool                `json:"requiresApiKey"`
}

func (s *Server) providerView() providerView {
	st := s.rt.Workspace().ProviderState()
	p := s.rt.Providers().Lookup(st.ProviderID)
	v := providerView{
		ProviderID:  st.ProviderID,
		Model:       st.Model,
		HasAPIKey:   strings.TrimSpace(st.APIKey) != "",
		SavedKeys:   map[string][]string{},
		RequiresKey: p.RequiresAPIKey,
	}
	for _, id := range st.ProviderIDs() {
		for _, k := range st.Keys(id) {
			v.SavedKeys[id] = append(v.SavedKeys[id], k.Name)
		}
	}
	if err := s.rt.Providers().Problem(st); err != nil {
		v.Problem = err.Error()
	}
	if p.ID == provider.DemoID {
		v.PromptInfo = demo.PromptInfo
	}
	return v
}

func (s *Server) handleGetProvider(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.providerView())
}

func (s *Server) handlePutProvider(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProviderID string  `json:"providerId"`
		Model      *string `json:"model"`
		APIKey     *string `json:"apiKey"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if body.ProviderID != "" {
		if _, ok := s.rt.Providers().Get(body.ProviderID); !ok {
			s.fail(w, r, fmt.Errorf("%w: unknown provider %q", errBadRequest, body.ProviderID))
			return
		}
	}
	_, err := s.rt.Workspace().UpdateProvider(func(st provider.State) provider.State {
		if body.ProviderID != "" {
			st = st.WithProvider(body.ProviderID)
		}
		if body.Model != nil {
			st = st.WithModel(model.ChatModel{ID: *body.Model, Object: "model"})
		}
		if body.APIKey != nil {
			st = st.WithAPIKey(*body.APIKey)
		}
		return st
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.providerView())
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.rt.Models(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

type toolView struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Native      string `json:"native,omitempty"`
	Enabled     bool   `json:"enabled"`
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	enabled := map[string]bool{}
	for _, name := range s.rt.Workspace().EnabledTools() {
		enabled[name] = true
	}
	var out []toolView
	for _, d := range s.rt.Tools().List() {
		out = append(out, toolView{
			Name:        d.Name,
			Title:       d.DisplayTitle(),
			Description: d.Description,
			Native:      d.Native,
			Enabled:     enabled[d.Name],
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type enabledTools struct {
	Tools []string `json:"tools"`
}

func (s *Server) handleGetEnabled(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, enabledTools{Tools: s.rt.Workspace().EnabledTools()})
}

func (s *Server) handlePutEnabled(w http.ResponseWriter, r *http.Request) {
	var body enabledTools
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	for _, name := range body.Tools {
		if _, err := s.rt.Tools().Get(name); err != nil {
			s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	if err := s.rt.Workspace().SetEnabledTools(body.Tools); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleGetEnabled(w, r)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Workspace().Settings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	settings := s.rt.Workspace().Settings()
	if err := decode(w, r, &settings); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := settings.Validate(); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.rt.Workspace().SetSettings(settings); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// chatSummary omits messages from listings.
type chatSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Created    int64  `json:"created"`
	Updated    int64  `json:"updated"`
	TemplateID string `json:"templateId,omitempty"`
	Busy       bool   `json:"busy"`
}

func (s *Server) handleListChats(w http.ResponseWriter, _ *http.Request) {
	chats := s.rt.Workspace().Chats()
	out := make([]chatSummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatSummary{
			ID: c.ID, Title: c.Title, Created: c.Created, Updated: c.Updated,
			TemplateID: c.TemplateID, Busy: s.rt.Busy(c.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt     string `json:"prompt"`
		TemplateID string `json:"templateId"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.rt.Workspace().CreateChat(body.Prompt, body.TemplateID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	c, err := s.rt.Workspace().Chat(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.rt.Cancel(id)
	if err := s.rt.Workspace().DeleteChat(id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	turn, err := s.rt.Submit(r.Context(), api.SubmitRequest{ChatID: r.PathValue("id"), Prompt: body.Prompt})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.streamTurn(w, turn)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserMessageID string `json:"userMessageId"`
	}
	if r.ContentLength != 0 {
		if err := decode(w, r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	turn, err := s.rt.Regenerate(r.Context(), r.PathValue("id"), body.UserMessageID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.streamTurn(w, turn)
}

// streamTurn relays snapshots as SSE. The turn is drained even after the
// client goes away so its history is persisted.
func (s *Server) streamTurn(w http.ResponseWriter, turn *api.Turn) {
	sw, err := event.NewWriter(w)
	if err != nil {
		turn.Cancel()
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	var sendErr error
	for snap := range turn.Snapshots() {
		if sendErr != nil {
			continue
		}
		if sendErr = sw.Send(event.FromSnapshot(turn.ChatID, snap)); sendErr != nil {
			s.logger.Debug("turn client gone", "chat", turn.ChatID, "error", sendErr)
		}
	}
	_ = sw.Close()
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.rt.Cancel(r.PathValue("id")) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no turn in flight"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Workspace().Templates())
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body workspace.Template
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.rt.Workspace().CreateTemplate(body.Name, body.Description, body.System)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleEditTemplate(w http.ResponseWriter, r *http.Request) {
	var edit workspace.TemplateEdit
	if err := decode(w, r, &edit); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.rt.Workspace().EditTemplate(r.PathValue("id"), edit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.Workspace().DeleteTemplate(r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
