package api

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/spider-emissaries/internal/emissary"
	"github.com/JakeFAU/spider-emissaries/internal/markov"
	"github.com/JakeFAU/spider-emissaries/internal/names"
	"github.com/JakeFAU/spider-emissaries/internal/scraper"
	"github.com/JakeFAU/spider-emissaries/internal/textmodel"
)

const (
	msgMissingURL     = "Must specify URL to create model for"
	msgUnknownParent  = "Specified model does not exist"
	msgMissingLabel   = "Must specify a model label to retrieve text"
	msgUnknownLabel   = "No model with given label"
	msgNoText         = "No usable sentences found at URL"
	msgMissingName    = "Must specify a user name"
	msgUnknownUser    = "No user with given name"
	msgMissingProxy   = "Must specify URL to proxy"
	msgInternalError  = "internal server error"
	msgRetrieveFailed = "Failed to retrieve URL: "
	msgBlockedHost    = "URL host is not allowed"
)

type usersResponse struct {
	Users []emissary.User `json:"users"`
}

type chatResponse struct {
	Messages []emissary.ChatMessage `json:"messages"`
}

func (s *Server) getModel(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	label, created, err := s.models.GetOrCreate(r.Context(), q.Get("model_label"), q.Get("url"))
	var scrapeErr *textmodel.ScrapeError
	switch {
	case err == nil:
	case errors.Is(err, textmodel.ErrMissingURL):
		writeText(w, http.StatusBadRequest, msgMissingURL)
		return
	case errors.Is(err, textmodel.ErrParentNotFound):
		writeText(w, http.StatusBadRequest, msgUnknownParent)
		return
	case errors.Is(err, scraper.ErrBlockedHost):
		writeText(w, http.StatusForbidden, msgBlockedHost)
		return
	case errors.As(err, &scrapeErr):
		s.logger.Warn("model source fetch failed", zap.String("url", scrapeErr.URL), zap.Error(scrapeErr.Err))
		writeText(w, http.StatusInternalServerError, msgRetrieveFailed+scrapeErr.Err.Error())
		return
	case errors.Is(err, markov.ErrEmptyCorpus):
		writeText(w, http.StatusUnprocessableEntity, msgNoText)
		return
	default:
		s.internalError(w, r, "get or create model", err)
		return
	}
	s.logger.Debug("model resolved", zap.String("model_label", label), zap.Bool("created", created))
	writeText(w, http.StatusOK, label)
}

func (s *Server) getSentence(w http.ResponseWriter, r *http.Request) {
	sentence, err := s.models.GenerateSentence(r.Context(), r.URL.Query().Get("model_label"))
	switch {
	case err == nil:
		writeText(w, http.StatusOK, sentence)
	case errors.Is(err, textmodel.ErrMissingLabel):
		writeText(w, http.StatusBadRequest, msgMissingLabel)
	case errors.Is(err, emissary.ErrNotFound):
		writeText(w, http.StatusBadRequest, msgUnknownLabel)
	default:
		s.internalError(w, r, "generate sentence", err)
	}
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		users, err := s.store.ListUsers(r.Context())
		if err != nil {
			s.internalError(w, r, "list users", err)
			return
		}
		if users == nil {
			users = []emissary.User{}
		}
		writeJSON(w, http.StatusOK, usersResponse{Users: users})
		return
	}
	user, err := s.store.GetUser(r.Context(), name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, user)
	case errors.Is(err, emissary.ErrNotFound):
		writeText(w, http.StatusNotFound, msgUnknownUser)
	default:
		s.internalError(w, r, "get user", err)
	}
}

// postUser enrolls a new user or reassigns an existing user's model.
func (s *Server) postUser(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	if name == "" {
		writeText(w, http.StatusBadRequest, msgMissingName)
		return
	}
	var label *string
	if l := r.FormValue("model_label"); l != "" {
		label = &l
	}

	existing, err := s.store.GetUser(r.Context(), name)
	switch {
	case err == nil:
		if label == nil {
			writeJSON(w, http.StatusOK, existing)
			return
		}
		user, err := s.store.SetUserModel(r.Context(), name, *label)
		if errors.Is(err, emissary.ErrNotFound) {
			writeText(w, http.StatusBadRequest, msgUnknownParent)
			return
		}
		if err != nil {
			s.internalError(w, r, "reassign user model", err)
			return
		}
		writeJSON(w, http.StatusOK, user)
		return
	case !errors.Is(err, emissary.ErrNotFound):
		s.internalError(w, r, "get user", err)
		return
	}

	user, err := s.store.CreateUser(r.Context(), name, label)
	switch {
	case err == nil:
		s.logger.Info("user enrolled", zap.String("user", user.Name), zap.Int64("user_id", user.ID))
		writeJSON(w, http.StatusCreated, user)
	case errors.Is(err, emissary.ErrNotFound):
		writeText(w, http.StatusBadRequest, msgUnknownParent)
	case errors.Is(err, emissary.ErrUserExists):
		writeText(w, http.StatusConflict, "User already exists")
	default:
		s.internalError(w, r, "create user", err)
	}
}

func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after int64
	if raw := q.Get("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			writeText(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = v
	}
	limit := s.cfg.Chat.DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeText(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}
	if s.cfg.Chat.MaxLimit > 0 && (limit <= 0 || limit > s.cfg.Chat.MaxLimit) {
		limit = s.cfg.Chat.MaxLimit
	}

	msgs, err := s.store.ListChat(r.Context(), after, limit)
	if err != nil {
		s.internalError(w, r, "list chat", err)
		return
	}
	if msgs == nil {
		msgs = []emissary.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, chatResponse{Messages: msgs})
}

func (s *Server) getProxy(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeText(w, http.StatusBadRequest, msgMissingProxy)
		return
	}
	resp, err := s.proxy.Fetch(r.Context(), url)
	if errors.Is(err, scraper.ErrBlockedHost) {
		writeText(w, http.StatusForbidden, msgBlockedHost)
		return
	}
	if err != nil {
		s.logger.Warn("proxy fetch failed", zap.String("url", url), zap.Error(err))
		writeText(w, http.StatusInternalServerError, msgRetrieveFailed+err.Error())
		return
	}
	if resp.StatusCode >= http.StatusBadRequest {
		writeText(w, http.StatusInternalServerError,
			msgRetrieveFailed+url+" returned status "+strconv.Itoa(resp.StatusCode))
		return
	}
	contentType := resp.ContentType()
	if contentType == "" {
		contentType = http.DetectContentType(resp.Body)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.Body); err != nil {
		s.logger.Warn("proxy write failed", zap.Error(err))
	}
}

func (s *Server) getName(w http.ResponseWriter, r *http.Request) {
	name, err := s.names.Unused(r.Context(), s.store)
	switch {
	case err == nil:
		writeText(w, http.StatusOK, name)
	case errors.Is(err, names.ErrExhausted):
		writeText(w, http.StatusServiceUnavailable, "No unused name available")
	default:
		s.internalError(w, r, "generate name", err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error(op+" failed",
		zap.String("request_id", requestID(r.Context())),
		zap.Error(err),
	)
	writeText(w, http.StatusInternalServerError, msgInternalError)
}
