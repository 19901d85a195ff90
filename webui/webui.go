// Package webui exposes the gallery's JSON API.  Handlers are thin: decode,
// authenticate, call into dblayer, map the error taxonomy onto HTTP status
// codes.
package webui

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"promptgallery/dblayer"
	"promptgallery/dbtypes"
	"promptgallery/promptapi"

	"github.com/golang/glog"
	"google.golang.org/api/idtoken"
)

type WebUI struct {
	db *dblayer.DB

	// googleOAuthClientID is the audience expected in sign-in ID tokens.
	googleOAuthClientID string

	// admins may trigger administrative operations like tag rebuilds.
	admins map[string]bool
}

// New creates the API surface over db.  adminIDs lists the user IDs allowed
// to call administrative endpoints.
func New(db *dblayer.DB, googleOAuthClientID string, adminIDs []string) *WebUI {
	admins := map[string]bool{}
	for _, id := range adminIDs {
		if id != "" {
			admins[id] = true
		}
	}
	return &WebUI{
		db:                  db,
		googleOAuthClientID: googleOAuthClientID,
		admins:              admins,
	}
}

func (u *WebUI) Register(m *http.ServeMux) {
	m.HandleFunc("POST /api/session", u.sessionHandler)

	m.HandleFunc("GET /api/prompts", u.listPromptsHandler)
	m.HandleFunc("POST /api/prompts", u.createPromptHandler)
	m.HandleFunc("POST /api/prompts/sync", u.syncPromptsHandler)
	m.HandleFunc("GET /api/prompts/{id}", u.getPromptHandler)
	m.HandleFunc("PATCH /api/prompts/{id}", u.updatePromptHandler)
	m.HandleFunc("DELETE /api/prompts/{id}", u.deletePromptHandler)
	m.HandleFunc("POST /api/prompts/{id}/run", u.runPromptHandler)
	m.HandleFunc("POST /api/prompts/{id}/view", u.viewPromptHandler)
	m.HandleFunc("GET /api/prompts/{id}/executions", u.listExecutionsHandler)

	m.HandleFunc("DELETE /api/executions/{id}", u.deleteExecutionHandler)

	m.HandleFunc("POST /api/likes/toggle", u.toggleLikeHandler)
	m.HandleFunc("GET /api/likes", u.listLikesHandler)

	m.HandleFunc("GET /api/tags", u.getTagsHandler)
	m.HandleFunc("POST /api/tags/rebuild", u.rebuildTagsHandler)
}

// statusForError maps the data layer's error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	uerr := &promptapi.UpstreamError{}
	switch {
	case errors.Is(err, dblayer.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, dblayer.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, dblayer.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &uerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		glog.Errorf("Internal error serving %s %s: %v", r.Method, r.URL.Path, err)
		http.Error(w, "Internal Error", status)
		return
	}

	glog.Infof("Request %s %s failed: %v", r.Method, r.URL.Path, err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeCreateError reports a failed prompt create.  When the upstream create
// succeeded but the metadata write did not, CreatePrompt returns the upstream
// ID with the error; the response carries that ID so the client can reconcile
// through the sync endpoint instead of creating a duplicate template.
func writeCreateError(w http.ResponseWriter, r *http.Request, id string, err error) {
	if id == "" {
		writeError(w, r, err)
		return
	}

	glog.Errorf("Partial create of template %q serving %s %s: %v", id, r.Method, r.URL.Path, err)
	writeJSON(w, statusForError(err), map[string]string{
		"error": "template created upstream but its metadata record was not written",
		"id":    id,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// It's too late to write an error to the HTTP response.
		glog.Errorf("Error while writing response: %v", err)
	}
}

// userFromRequest validates the bearer ID token and returns the caller's
// stable user ID plus the profile claims the identity provider supplied.
func (u *WebUI) userFromRequest(r *http.Request) (string, *dbtypes.UserProfile, error) {
	authz := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok || token == "" {
		return "", nil, fmt.Errorf("missing bearer token")
	}

	payload, err := idtoken.Validate(r.Context(), token, u.googleOAuthClientID)
	if err != nil {
		return "", nil, fmt.Errorf("while validating ID token: %w", err)
	}

	profile := &dbtypes.UserProfile{ID: payload.Subject}
	if name, ok := payload.Claims["name"].(string); ok {
		profile.DisplayName = name
	}
	if picture, ok := payload.Claims["picture"].(string); ok {
		profile.AvatarURL = picture
	}
	if email, ok := payload.Claims["email"].(string); ok {
		profile.Email = email
	}

	return payload.Subject, profile, nil
}

// requireUser is userFromRequest with the 401 already written on failure.
func (u *WebUI) requireUser(w http.ResponseWriter, r *http.Request) (string, *dbtypes.UserProfile, bool) {
	userID, profile, err := u.userFromRequest(r)
	if err != nil {
		glog.Infof("Rejecting unauthenticated request %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "sign-in required"})
		return "", nil, false
	}
	return userID, profile, true
}

// sessionHandler upserts the caller's profile.  The frontend calls it once
// per sign-in.
func (u *WebUI) sessionHandler(w http.ResponseWriter, r *http.Request) {
	_, profile, ok := u.requireUser(w, r)
	if !ok {
		return
	}

	if err := u.db.UpsertProfile(r.Context(), profile); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// parseGalleryQuery maps URL query parameters onto a gallery page request.
func parseGalleryQuery(r *http.Request) (dblayer.GalleryQuery, error) {
	q := dblayer.GalleryQuery{
		Sort:   dblayer.PromptSort(r.URL.Query().Get("sort")),
		Author: r.URL.Query().Get("author"),
		Cursor: r.URL.Query().Get("cursor"),
	}

	if tags := r.URL.Query().Get("tags"); tags != "" {
		q.Tags = strings.Split(tags, ",")
	}

	if size := r.URL.Query().Get("pageSize"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n < 0 {
			return dblayer.GalleryQuery{}, fmt.Errorf("bad pageSize %q: %w", size, dblayer.ErrInvalidArgument)
		}
		q.PageSize = n
	}

	return q, nil
}

func (u *WebUI) listPromptsHandler(w http.ResponseWriter, r *http.Request) {
	q, err := parseGalleryQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := u.db.ListPrompts(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (u *WebUI) createPromptHandler(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := u.requireUser(w, r)
	if !ok {
		return
	}

	req := struct {
		DisplayName  string `json:"displayName"`
		TemplateBody string `json:"templateBody"`
		InputSchema  string `json:"inputSchema"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("bad request body: %w", dblayer.ErrInvalidArgument))
		return
	}

	id, err := u.db.CreatePrompt(r.Context(), req.DisplayName, req.TemplateBody, req.InputSchema, userID)
	if err != nil {
		writeCreateError(w, r, id, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (u *WebUI) getPromptHandler(w http.ResponseWriter, r *http.Request) {
	detail, err := u.db.GetPrompt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

func (u *WebUI) updatePromptHandler(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := u.requireUser(w, r)
	if !ok {
		return
	}

	req := struct {
		DisplayName  *string   `json:"displayName"`
		TemplateBody *string   `json:"templateBody"`
		InputSchema  *string   `json:"inputSchema"`
		Tags         *[]string `json:"tags"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("bad request body: %w", dblayer.ErrInvalidArgument))
		return
	}

	update := dblayer.PromptUpdate{
		DisplayName:  req.DisplayName,
		TemplateBody: req.TemplateBody,
		InputSchema:  req.InputSchema,
		Tags:         req.Tags,
	}
	if err := u.db.UpdatePrompt(r.Context(), r.PathValue("id"), userID, update); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (u *WebUI) deletePromptHandler(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := u.requireUser(w, r)
	if !ok {
		return
	}

	if err := u.db.DeletePrompt(r.Context(), r.PathValue("id"), userID); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (u *WebUI) runPromptHandler(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := u.requireUser(w, r)
	if !ok {
		return
	}

	req := struct {
		Variables map[string]any `json:"variables"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("bad request body: %w", dblayer.ErrInvalidArgument))
		return
	}

	exec, err := u.db.RunPrompt(r.Context(), r.PathValue("id"), userID, req.Variables)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// A nil execution means the run produced no extractable payload; the
	// client sees an empty success.
	writeJSON(w, http.StatusOK, map[string]any{"execution": exec})
}

func (u *WebUI) viewPromptHandler(w http.ResponseWriter, r *http.Request) {
	if err := u.db.IncrementPromptViews(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (u *WebUI) listExecutionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, r, fmt.Errorf("bad limit %q: %w", s, dblayer.ErrInvalidArgument))
			return
		}
		limit = n
	}

	views, err := u.db.ListExecutions(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"executions": views})
}

func (u *WebUI) deleteExecutionHandler(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := u.requireUser(w, r)
	if !ok {
		return
	}

	if err := u.db.DeleteExecution(r.Context(), r.PathValue("id"), userID); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (u *WebUI) toggleLikeHandler(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := u.requireUser(w, r)
	if !ok {
		return
	}

	req := struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("bad request body: %w", dblayer.ErrInvalidArgument))
		return
	}

	kind, err := dblayer.ParseLikeKind(req.Kind)
	if err != nil {
		writeError(w, r, err)
		return
	}

	nowLiked, err := u.db.ToggleLike(r.Context(), kind, req.ID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"liked": nowLiked})
}

func (u *WebUI) listLikesHandler(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := u.requireUser(w, r)
	if !ok {
		return
	}

	kind, err := dblayer.ParseLikeKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	ids, err := u.db.ListUserLikes(r.Context(), userID, kind)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

func (u *WebUI) getTagsHandler(w http.ResponseWriter, r *http.Request) {
	registry, err := u.db.GetTags(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, registry)
}

func (u *WebUI) rebuildTagsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := u.requireUser(w, r)
	if !ok {
		return
	}
	if !u.admins[userID] {
		writeError(w, r, fmt.Errorf("tag rebuild requires admin rights: %w", dblayer.ErrPermissionDenied))
		return
	}

	tagCount, taggedPrompts, err := u.db.RebuildTags(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"tags":         tagCount,
		"promptsCount": taggedPrompts,
	})
}

// syncPromptsHandler reconciles metadata records for a batch of template
// IDs.  Items succeed or fail independently; the response lists both.
func (u *WebUI) syncPromptsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := u.requireUser(w, r)
	if !ok {
		return
	}

	req := struct {
		IDs []string `json:"ids"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("bad request body: %w", dblayer.ErrInvalidArgument))
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, r, fmt.Errorf("no template IDs to sync: %w", dblayer.ErrInvalidArgument))
		return
	}

	type itemResult struct {
		ID    string `json:"id"`
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}

	results := u.db.SyncPrompts(r.Context(), req.IDs, userID)
	items := make([]itemResult, 0, len(results))
	for _, res := range results {
		item := itemResult{ID: res.PromptID, OK: res.Err == nil}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}
