package teamboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/teamboard/relay/auth"
	"github.com/teamboard/relay/router"
	"github.com/teamboard/relay/store"
)

type UserHandler struct {
	userStore    store.UserStore
	tokenOptions auth.TokenOptions
}

func NewUserHandler(userStore store.UserStore, tokenOptions auth.TokenOptions) *UserHandler {
	return &UserHandler{userStore: userStore, tokenOptions: tokenOptions}
}

type SignupPayload struct {
	UserName string `json:"userName" validate:"required,min=3,max=32"`
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

type SessionResponse struct {
	Token    string    `json:"token"`
	Exp      time.Time `json:"exp"`
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
}

func (h *UserHandler) SignupHandler(w http.ResponseWriter, r *http.Request) error {
	var payload SignupPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid payload")
	}
	r.Body.Close()

	if err := validate.Struct(payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, FormatValidationErrors(err))
	}

	user, err := h.userStore.CreateUser(r.Context(), payload.UserName, payload.Name, payload.Password)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			return router.NewJsonError(http.StatusConflict, err.Error())
		}
		return err
	}

	return h.writeSession(w, user, http.StatusCreated)
}

type SigninPayload struct {
	UserName string `json:"userName" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *UserHandler) SigninHandler(w http.ResponseWriter, r *http.Request) error {
	var payload SigninPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid payload")
	}
	r.Body.Close()

	if err := validate.Struct(payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, FormatValidationErrors(err))
	}

	user, ok, err := h.userStore.ComparePassword(r.Context(), payload.UserName, payload.Password)
	if err != nil {
		return err
	}
	if user == nil || !ok {
		return router.NewJsonError(http.StatusUnauthorized, auth.ErrBadCredentials.Error())
	}

	return h.writeSession(w, *user, http.StatusOK)
}

func (h *UserHandler) writeSession(w http.ResponseWriter, user store.User, code int) error {
	token, exp, err := auth.CreateToken(user.ID, user.UserName, h.tokenOptions)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(SessionResponse{
		Token:    token,
		Exp:      exp,
		UserID:   user.ID,
		UserName: user.UserName,
	})
}

func (h *UserHandler) MeHandler(w http.ResponseWriter, r *http.Request) error {
	session := auth.SessionFromRequest(r)
	user, err := h.userStore.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		return router.NewJsonError(http.StatusNotFound, store.ErrNotFound.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(user)
}
