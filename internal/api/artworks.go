package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/promptpeek/internal/domain"
	"github.com/dunamismax/promptpeek/internal/id"
	"github.com/dunamismax/promptpeek/internal/pipeline"
	"github.com/dunamismax/promptpeek/internal/queue"
)

type artworkView struct {
	domain.Artwork
	domain.Reactions
}

func (s *Server) handleCreateArtwork(w http.ResponseWriter, r *http.Request) {
	userID := s.callerID(r)

	in, err := s.readUpload(w, r)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	meta, err := metaFromForm(in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := domain.CreateArtworkRequest{ArtworkMeta: meta, FileName: in.Name, MIMEType: in.MIMEType}
	req.Clean()
	if !strings.HasPrefix(req.MIMEType, "image/") {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported file type: %q", req.MIMEType))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	artworkID := id.New()
	sourceKey := pipeline.SourceObjectKey(artworkID)

	if err := s.storage.WriteObject(r.Context(), sourceKey, in.Data, req.MIMEType); err != nil {
		s.logger.Printf("store original failed artwork_id=%s err=%v", artworkID, err)
		writeError(w, http.StatusBadGateway, "failed to store upload")
		return
	}

	artwork := domain.Artwork{
		ID:        artworkID,
		UserID:    userID,
		Status:    domain.ArtworkStatusProcessing,
		SourceKey: sourceKey,
		MIMEType:  req.MIMEType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	req.Apply(&artwork)

	if err := s.artworks.Create(r.Context(), artwork); err != nil {
		s.logger.Printf("create artwork failed artwork_id=%s err=%v", artworkID, err)
		s.deleteObject(r, artworkID, sourceKey)
		writeError(w, http.StatusInternalServerError, "failed to create artwork")
		return
	}

	taskInfo, err := s.queueClient.EnqueueNormalizeArtwork(r.Context(), queue.NormalizeArtworkPayload{
		ArtworkID:   artworkID,
		UserID:      userID,
		SourceType:  pipeline.SourceTypeObjectStore,
		SourceKey:   sourceKey,
		MIMEType:    req.MIMEType,
		FileName:    req.FileName,
		WebhookURL:  s.webhookURL,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Printf("enqueue failed artwork_id=%s err=%v", artworkID, err)
		if _, delErr := s.artworks.Delete(r.Context(), artworkID, userID); delErr != nil {
			s.logger.Printf("rollback artwork failed artwork_id=%s err=%v", artworkID, delErr)
		}
		s.deleteObject(r, artworkID, sourceKey)
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue artwork")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	s.logger.Printf("artwork accepted artwork_id=%s user_id=%s mime=%s bytes=%d task_id=%s", artworkID, userID, req.MIMEType, len(in.Data), taskInfo.ID)
	artwork.Tags = append([]string{}, artwork.Tags...)
	writeJSON(w, http.StatusAccepted, artwork)
}

func metaFromForm(in upload) (domain.ArtworkMeta, error) {
	meta := domain.ArtworkMeta{
		Title:          in.value("title"),
		Description:    in.value("description"),
		Prompt:         in.value("prompt"),
		NegativePrompt: in.value("negative_prompt"),
		ModelName:      in.value("model_name"),
	}

	var err error
	if meta.Steps, err = optionalInt(in, "steps"); err != nil {
		return meta, err
	}
	if meta.Width, err = optionalInt(in, "width"); err != nil {
		return meta, err
	}
	if meta.Height, err = optionalInt(in, "height"); err != nil {
		return meta, err
	}
	if raw := in.value("seed"); raw != "" {
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return meta, fmt.Errorf("seed must be an integer")
		}
		meta.Seed = &seed
	}
	if raw := in.value("cfg_scale"); raw != "" {
		cfg, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return meta, fmt.Errorf("cfg_scale must be a number")
		}
		meta.CFGScale = &cfg
	}

	for _, value := range in.form["tags"] {
		meta.Tags = append(meta.Tags, strings.Split(value, ",")...)
	}
	return meta, nil
}

func optionalInt(in upload, key string) (*int, error) {
	raw := in.value(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", key)
	}
	return &v, nil
}

func (s *Server) handleListArtworks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	caller := s.callerID(r)
	filter := domain.ListFilter{
		UserID:      q.Get("user_id"),
		FavoritedBy: q.Get("favorited_by"),
		LikedBy:     q.Get("liked_by"),
		Tag:         q.Get("tag"),
		ModelName:   q.Get("model"),
		Limit:       limit,
		Offset:      offset,
	}.Normalize()
	// Owners see their own processing and failed uploads.
	filter.IncludeAll = caller != "" && filter.UserID == caller

	artworks, err := s.artworks.List(r.Context(), filter)
	if err != nil {
		s.logger.Printf("list artworks failed err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to list artworks")
		return
	}

	resp := map[string]any{
		"artworks": artworks,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	}
	if len(artworks) == filter.Limit {
		resp["next_offset"] = filter.Offset + filter.Limit
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) handleGetArtwork(w http.ResponseWriter, r *http.Request) {
	artworkID := r.PathValue("id")
	caller := s.callerID(r)

	artwork, ok := s.visibleArtwork(w, r, artworkID, caller)
	if !ok {
		return
	}

	view := artworkView{Artwork: artwork}
	if caller != "" {
		reactions, err := s.artworks.Reactions(r.Context(), artworkID, caller)
		if err != nil {
			s.writeStoreError(w, "load reactions", artworkID, err)
			return
		}
		view.Reactions = reactions
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleArtworkImage(w http.ResponseWriter, r *http.Request) {
	artworkID := r.PathValue("id")

	artwork, ok := s.visibleArtwork(w, r, artworkID, s.callerID(r))
	if !ok {
		return
	}
	if artwork.Status != domain.ArtworkStatusReady || artwork.ImageKey == "" {
		writeError(w, http.StatusConflict, "artwork image is not ready")
		return
	}

	link, err := s.storage.PresignedGetURL(r.Context(), artwork.ImageKey, s.imageURLExpiry)
	if err != nil {
		s.logger.Printf("presign image failed artwork_id=%s key=%s err=%v", artworkID, artwork.ImageKey, err)
		writeError(w, http.StatusBadGateway, "image link unavailable")
		return
	}
	w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(int(s.imageURLExpiry.Seconds()/2)))
	http.Redirect(w, r, link, http.StatusFound)
}

func (s *Server) visibleArtwork(w http.ResponseWriter, r *http.Request, artworkID, caller string) (domain.Artwork, bool) {
	artwork, ok, err := s.artworks.Get(r.Context(), artworkID)
	if err != nil {
		s.writeStoreError(w, "load artwork", artworkID, err)
		return domain.Artwork{}, false
	}
	if !ok || (artwork.Status != domain.ArtworkStatusReady && artwork.UserID != caller) {
		writeError(w, http.StatusNotFound, "artwork not found")
		return domain.Artwork{}, false
	}
	return artwork, true
}

// artworkPatch holds the fields of a PATCH body. Absent fields keep their
// stored value; an explicit null clears an optional one.
type artworkPatch struct {
	Title          *string   `json:"title"`
	Description    *string   `json:"description"`
	Prompt         *string   `json:"prompt"`
	NegativePrompt *string   `json:"negative_prompt"`
	ModelName      *string   `json:"model_name"`
	Steps          *int      `json:"steps"`
	CFGScale       *float64  `json:"cfg_scale"`
	Seed           *int64    `json:"seed"`
	Width          *int      `json:"width"`
	Height         *int      `json:"height"`
	Tags           *[]string `json:"tags"`

	present map[string]bool `json:"-"`
}

var patchFields = map[string]bool{
	"title": true, "description": true, "prompt": true, "negative_prompt": true,
	"model_name": true, "steps": true, "cfg_scale": true, "seed": true,
	"width": true, "height": true, "tags": true,
}

func decodePatch(r *http.Request) (artworkPatch, error) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		return artworkPatch{}, err
	}

	var patch artworkPatch
	patch.present = make(map[string]bool, len(raw))
	for key := range raw {
		if !patchFields[key] {
			return artworkPatch{}, fmt.Errorf("invalid JSON body: unknown field %q", key)
		}
		patch.present[key] = true
	}

	body, err := json.Marshal(raw)
	if err != nil {
		return artworkPatch{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := json.Unmarshal(body, &patch); err != nil {
		return artworkPatch{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	return patch, nil
}

func (p artworkPatch) apply(a domain.Artwork) domain.ArtworkMeta {
	meta := domain.ArtworkMeta{
		Title:          a.Title,
		Description:    a.Description,
		Prompt:         a.Prompt,
		NegativePrompt: a.NegativePrompt,
		ModelName:      a.ModelName,
		Steps:          a.Steps,
		CFGScale:       a.CFGScale,
		Seed:           a.Seed,
		Width:          a.Width,
		Height:         a.Height,
		Tags:           a.Tags,
	}
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&meta.Title, p.Title)
	setString(&meta.Description, p.Description)
	setString(&meta.Prompt, p.Prompt)
	setString(&meta.NegativePrompt, p.NegativePrompt)
	setString(&meta.ModelName, p.ModelName)
	if p.present["steps"] {
		meta.Steps = p.Steps
	}
	if p.present["cfg_scale"] {
		meta.CFGScale = p.CFGScale
	}
	if p.present["seed"] {
		meta.Seed = p.Seed
	}
	if p.present["width"] {
		meta.Width = p.Width
	}
	if p.present["height"] {
		meta.Height = p.Height
	}
	if p.Tags != nil {
		meta.Tags = *p.Tags
	} else if p.present["tags"] {
		meta.Tags = nil
	}
	return meta
}

func (s *Server) handleUpdateArtwork(w http.ResponseWriter, r *http.Request) {
	artworkID := r.PathValue("id")
	caller := s.callerID(r)

	patch, err := decodePatch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	current, ok, err := s.artworks.Get(r.Context(), artworkID)
	if err != nil {
		s.writeStoreError(w, "load artwork", artworkID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "artwork not found")
		return
	}
	if current.UserID != caller {
		writeError(w, http.StatusForbidden, "artwork belongs to another user")
		return
	}

	req := domain.UpdateArtworkRequest{ArtworkMeta: patch.apply(current)}
	req.Clean()
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.artworks.Update(r.Context(), artworkID, caller, req.ArtworkMeta)
	if err != nil {
		s.writeStoreError(w, "update artwork", artworkID, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteArtwork(w http.ResponseWriter, r *http.Request) {
	artworkID := r.PathValue("id")

	removed, err := s.artworks.Delete(r.Context(), artworkID, s.callerID(r))
	if err != nil {
		s.writeStoreError(w, "delete artwork", artworkID, err)
		return
	}

	for _, key := range []string{removed.ImageKey, removed.SourceKey} {
		if key != "" {
			s.deleteObject(r, artworkID, key)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteObject(r *http.Request, artworkID, key string) {
	if err := s.storage.DeleteObject(r.Context(), key); err != nil {
		s.logger.Printf("object delete failed artwork_id=%s key=%s err=%v", artworkID, key, err)
	}
}

type reaction string

const (
	reactionLike     reaction = "like"
	reactionFavorite reaction = "favorite"
)

func (s *Server) handleReaction(kind reaction, add bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		artworkID := r.PathValue("id")
		caller := s.callerID(r)

		if _, ok := s.visibleArtwork(w, r, artworkID, caller); !ok {
			return
		}

		var (
			count int
			err   error
		)
		switch {
		case kind == reactionLike && add:
			count, err = s.artworks.Like(r.Context(), artworkID, caller)
		case kind == reactionLike:
			count, err = s.artworks.Unlike(r.Context(), artworkID, caller)
		case add:
			count, err = s.artworks.Favorite(r.Context(), artworkID, caller)
		default:
			count, err = s.artworks.Unfavorite(r.Context(), artworkID, caller)
		}
		if err != nil {
			s.writeStoreError(w, string(kind)+" artwork", artworkID, err)
			return
		}

		resp := map[string]any{"artwork_id": artworkID}
		if kind == reactionLike {
			resp["liked"] = add
			resp["likes_count"] = count
		} else {
			resp["favorited"] = add
			resp["favorites_count"] = count
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.artworks.Tags(r.Context())
	if err != nil {
		s.logger.Printf("list tags failed err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to list tags")
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	stats, err := s.artworks.Stats(r.Context(), userID)
	if err != nil {
		s.logger.Printf("user stats failed user_id=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
