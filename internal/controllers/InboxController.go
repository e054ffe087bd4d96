package controllers

import (
	"errors"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"

	"inboxd/internal/models"
	"inboxd/internal/providers"
	"inboxd/internal/services"
)

const maxRequestBodySize = 64 << 10

type InboxController struct {
	logger  providers.Logger
	service services.InboxServiceInterface
	cache   providers.CacheProviderInterface
}

func NewInboxController(logger providers.Logger, service services.InboxServiceInterface, cache providers.CacheProviderInterface) *InboxController {
	return &InboxController{
		logger:  logger,
		service: service,
		cache:   cache,
	}
}

type feedResponse struct {
	Version uint64             `json:"version"`
	Loading bool               `json:"loading"`
	Unread  int                `json:"unread"`
	Entries []models.FeedEntry `json:"entries"`
}

type unreadResponse struct {
	Version uint64 `json:"version"`
	Count   int    `json:"count"`
}

type refRequest struct {
	Ref  string   `json:"ref"`
	Refs []string `json:"refs"`
}

type actionResponse struct {
	OK      bool   `json:"ok"`
	Changed int    `json:"changed,omitempty"`
	Unread  int    `json:"unread"`
	Warning string `json:"warning,omitempty"`
}

type refreshResponse struct {
	Refreshed bool   `json:"refreshed"`
	Error     string `json:"error,omitempty"`
}

// serveFromCacheOrCompute answers from the response cache. Keys carry the
// feed version, and responses of older versions are retired on first sight
// of a newer one. compute returns the key matching what it rendered, which
// differs from cacheKey when a merge pass ran in between.
func (ic *InboxController) serveFromCacheOrCompute(w http.ResponseWriter, version uint64, cacheKey string, compute func() (string, any, error)) {
	ic.cache.Retire(version)
	if data, ok := ic.cache.Get(cacheKey); ok {
		writeRaw(w, http.StatusOK, data)
		return
	}

	renderedKey, result, err := compute()
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	gson, err := json.Marshal(result)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	ic.cache.Set(renderedKey, gson)
	writeRaw(w, http.StatusOK, gson)
}

func feedKey(version uint64, loading bool) string {
	return "feed:" + strconv.FormatUint(version, 10) + ":" + strconv.FormatBool(loading)
}

func unreadKey(version uint64) string {
	return "unread:" + strconv.FormatUint(version, 10)
}

func (ic *InboxController) Feed(w http.ResponseWriter, r *http.Request) {
	version := ic.service.Version()
	ic.serveFromCacheOrCompute(w, version, feedKey(version, ic.service.Loading()), func() (string, any, error) {
		snap := ic.service.Snapshot()
		return feedKey(snap.Version, snap.Loading), feedResponse{
			Version: snap.Version,
			Loading: snap.Loading,
			Unread:  models.UnreadCount(snap.Entries),
			Entries: snap.Entries,
		}, nil
	})
}

func (ic *InboxController) Unread(w http.ResponseWriter, r *http.Request) {
	version := ic.service.Version()
	ic.serveFromCacheOrCompute(w, version, unreadKey(version), func() (string, any, error) {
		snap := ic.service.Snapshot()
		return unreadKey(snap.Version), unreadResponse{Version: snap.Version, Count: models.UnreadCount(snap.Entries)}, nil
	})
}

func (ic *InboxController) Open(w http.ResponseWriter, r *http.Request) {
	req, ok := ic.decodeRef(w, r)
	if !ok {
		return
	}
	ic.respond(w, ic.service.Open(r.Context(), req.Ref), 0)
}

func (ic *InboxController) Seen(w http.ResponseWriter, r *http.Request) {
	req, ok := ic.decode(w, r)
	if !ok {
		return
	}
	refs := req.Refs
	if req.Ref != "" {
		refs = append(refs, req.Ref)
	}
	if len(refs) == 0 {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	ic.service.MarkSeen(refs...)
	ic.respond(w, nil, len(refs))
}

func (ic *InboxController) Read(w http.ResponseWriter, r *http.Request) {
	req, ok := ic.decodeRef(w, r)
	if !ok {
		return
	}
	ic.respond(w, ic.service.MarkRead(r.Context(), req.Ref), 0)
}

func (ic *InboxController) ReadAll(w http.ResponseWriter, r *http.Request) {
	n, err := ic.service.MarkAllRead(r.Context())
	ic.respond(w, err, n)
}

func (ic *InboxController) Delete(w http.ResponseWriter, r *http.Request) {
	req, ok := ic.decodeRef(w, r)
	if !ok {
		return
	}
	ic.respond(w, ic.service.Delete(r.Context(), req.Ref), 0)
}

func (ic *InboxController) Refresh(w http.ResponseWriter, r *http.Request) {
	ran, err := ic.service.Refresh(r.Context())
	resp := refreshResponse{Refreshed: ran}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (ic *InboxController) decode(w http.ResponseWriter, r *http.Request) (refRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req refRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (ic *InboxController) decodeRef(w http.ResponseWriter, r *http.Request) (refRequest, bool) {
	req, ok := ic.decode(w, r)
	if !ok {
		return req, false
	}
	if req.Ref == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// respond maps service errors: an unknown ref is 404, a failed remote delete
// is a successful local action carrying a warning.
func (ic *InboxController) respond(w http.ResponseWriter, err error, changed int) {
	resp := actionResponse{OK: true, Changed: changed}
	switch {
	case err == nil:
	case errors.Is(err, services.ErrUnknownEntry):
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	case errors.Is(err, services.ErrRemoteDelete):
		resp.Warning = err.Error()
	default:
		ic.logger.Errorf(providers.TypeAction, "Action failed: %s", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	resp.Unread = ic.service.UnreadCount()
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	gson, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, gson)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
