// Package anchorapi exposes an anchor.Store over HTTP so devices on
// different machines share one anchor cloud.
package anchorapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"colocation/cmd/internal/anchor"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Handler serves the anchor cloud routes.
type Handler struct {
	log   *slog.Logger
	cfg   Config
	store anchor.Store
}

// NewHandler constructs a Handler over store.
func NewHandler(log *slog.Logger, store anchor.Store, cfg Config) (*Handler, error) {
	if store == nil {
		return nil, errors.New("anchorapi: nil store")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, cfg: cfg.normalized(), store: store}, nil
}

// Register wires anchor routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("PUT /v1/anchors/{id}", h.handleSave)
	mux.HandleFunc("DELETE /v1/anchors/{id}", h.handleErase)
	mux.HandleFunc("POST /v1/groups/{group}/anchors", h.handleShare)
	mux.HandleFunc("GET /v1/groups/{group}/anchors", h.handleLoad)
}

// ---- handlers ----

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(strings.TrimSpace(r.PathValue("id")))
	if err != nil || id == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid_anchor_id", "anchor id must be a uuid")
		return
	}

	var req saveRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	a := anchor.StoredAnchor{ID: id, Pose: req.Pose.anchorPose()}
	if err := h.store.SaveAnchor(r.Context(), a); err != nil {
		h.writeStoreError(w, "anchorapi.save.fail", err)
		return
	}

	h.log.Debug("anchorapi.save", "anchor_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleErase(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(strings.TrimSpace(r.PathValue("id")))
	if err != nil || id == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid_anchor_id", "anchor id must be a uuid")
		return
	}

	if err := h.store.EraseAnchor(r.Context(), id); err != nil {
		h.writeStoreError(w, "anchorapi.erase.fail", err)
		return
	}

	h.log.Debug("anchorapi.erase", "anchor_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleShare(w http.ResponseWriter, r *http.Request) {
	group, err := anchor.ParseGroupID(r.PathValue("group"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_group", "group must be a uuid")
		return
	}

	var req shareRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if len(req.AnchorIDs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "anchor_ids is required")
		return
	}
	if len(req.AnchorIDs) > h.cfg.MaxShareBatch {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("at most %d anchor_ids per request", h.cfg.MaxShareBatch))
		return
	}

	ids := make([]uuid.UUID, 0, len(req.AnchorIDs))
	for _, raw := range req.AnchorIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil || id == uuid.Nil {
			writeError(w, http.StatusBadRequest, "invalid_anchor_id", "anchor ids must be uuids")
			return
		}
		ids = append(ids, id)
	}
	ids = lo.Uniq(ids)

	if err := h.store.ShareAnchors(r.Context(), group, ids); err != nil {
		h.writeStoreError(w, "anchorapi.share.fail", err)
		return
	}

	h.log.Info("anchorapi.share", "group", group.String(), "count", len(ids))
	writeJSON(w, http.StatusOK, shareResponse{Group: group.String(), Shared: len(ids)})
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	group, err := anchor.ParseGroupID(r.PathValue("group"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_group", "group must be a uuid")
		return
	}

	stored, err := h.store.LoadGroup(r.Context(), group)
	if err != nil {
		h.writeStoreError(w, "anchorapi.load.fail", err)
		return
	}

	writeJSON(w, http.StatusOK, groupResponse{
		Group:   group.String(),
		Anchors: lo.Map(stored, func(a anchor.StoredAnchor, _ int) anchorResponse { return toAnchorResponse(a) }),
	})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, anchor.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "anchor not found")
	case errors.Is(err, anchor.ErrInvalidGroupID):
		writeError(w, http.StatusBadRequest, "invalid_group", "invalid group identifier")
	case errors.Is(err, anchor.ErrInvalidPose):
		writeError(w, http.StatusBadRequest, "invalid_pose", "pose must be finite with a non-zero orientation")
	case errors.Is(err, anchor.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request")
	default:
		h.log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
