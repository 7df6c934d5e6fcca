package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/blackmichael/post-pipeline/internal/domain"
)

const (
	maxUploadBytes = 25 << 20
	maxJSONBytes   = 1 << 20
)

type postResponse struct {
	ID          int64     `json:"id"`
	AuthorID    int64     `json:"author_id"`
	Username    string    `json:"username"`
	Content     string    `json:"content"`
	Image       string    `json:"image,omitempty"`
	Video       string    `json:"video,omitempty"`
	SharesCount int64     `json:"shares_count"`
	Tags        string    `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
}

type commentResponse struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"post_id"`
	AuthorID  int64     `json:"author_id"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func toPostResponse(p *domain.Post) postResponse {
	resp := postResponse{
		ID:          p.ID,
		AuthorID:    p.AuthorID,
		Username:    p.AuthorName,
		Content:     p.Content,
		SharesCount: p.SharesCount,
		Tags:        p.Tags,
		CreatedAt:   p.CreatedAt,
	}
	if p.ImageRef != "" {
		resp.Image = "/media/" + p.ImageRef
	}
	if p.VideoRef != "" {
		resp.Video = "/media/" + p.VideoRef
	}
	return resp
}

func toCommentResponse(c *domain.Comment) commentResponse {
	return commentResponse{
		ID:        c.ID,
		PostID:    c.PostID,
		AuthorID:  c.AuthorID,
		Username:  c.AuthorName,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireAccount(w, r)
	if !ok {
		return
	}

	in := domain.NewPost{AuthorID: actor.ID, AuthorName: actor.Username}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid multipart form: "+err.Error())
			return
		}
		defer r.MultipartForm.RemoveAll()

		in.Content = r.FormValue("content")
		var err error
		if in.Image, err = formUpload(r, "image"); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
			return
		}
		if in.Video, err = formUpload(r, "video"); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
			return
		}
	} else {
		var body struct {
			Content string `json:"content"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		in.Content = body.Content
	}

	post, err := s.posts.CreatePost(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPostResponse(post))
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	post, err := s.posts.GetPost(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPostResponse(post))
}

func (s *Server) handleEditPost(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body struct {
		Content *string `json:"content"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Content == nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "content is required")
		return
	}

	post, err := s.posts.EditPost(r.Context(), actor, id, *body.Content)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPostResponse(post))
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.posts.DeletePost(r.Context(), actor, id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSharePost(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAccount(w, r); !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	count, err := s.posts.SharePost(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "shared",
		"shares_count": count,
	})
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	comments, err := s.posts.ListComments(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := make([]commentResponse, len(comments))
	for i := range comments {
		resp[i] = toCommentResponse(&comments[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": resp})
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	comment, err := s.posts.AddComment(r.Context(), domain.NewComment{
		AuthorID:   actor.ID,
		AuthorName: actor.Username,
		PostID:     id,
		Text:       body.Text,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCommentResponse(comment))
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.posts.DeleteComment(r.Context(), actor, id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.posts.Follow(r.Context(), actor, id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "following", "user_id": id})
}

// requireAccount reads the caller identity set by the fronting proxy.
func (s *Server) requireAccount(w http.ResponseWriter, r *http.Request) (domain.Account, bool) {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	username := strings.TrimSpace(r.Header.Get("X-Username"))
	if err != nil || id <= 0 || username == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "X-User-ID and X-Username headers are required")
		return domain.Account{}, false
	}
	return domain.Account{ID: id, Username: username}, true
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NotFound", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, domain.ErrUnsupportedMedia):
		writeError(w, http.StatusUnsupportedMediaType, "UnsupportedMedia", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "InternalError", "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid id")
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid JSON body")
		return false
	}
	return true
}

func formUpload(r *http.Request, field string) (*domain.Upload, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	return &domain.Upload{Filename: header.Filename, Data: data}, nil
}
