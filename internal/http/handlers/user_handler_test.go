package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/exdrums/hbg-sub001/internal/domain"
	"github.com/exdrums/hbg-sub001/internal/services"
)

func TestGetMe_PassesSubjectAndName(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var gotSub, gotName string
	h := newTestHandlers(nil, nil, stubUserSvc{
		ensure: func(_ context.Context, sub, name string) (*domain.User, error) {
			gotSub, gotName = sub, name
			return &domain.User{ID: "u-1", Subject: sub, DisplayName: "Ada"}, nil
		},
	})
	r := gin.New()
	r.GET("/me", h.GetMe)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-User-ID", "sub-42")
	req.Header.Set("X-User-Name", "Ada")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("me -> %d", w.Code)
	}
	if gotSub != "sub-42" || gotName != "Ada" {
		t.Fatalf("service args %q %q", gotSub, gotName)
	}
	var resp MeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.User == nil || resp.User.ID != "u-1" {
		t.Fatalf("bad body: %v %s", err, w.Body.String())
	}
}

func TestUpdatePreferences_ResolvesAccountFirst(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var gotID string
	var gotPrefs int64
	h := newTestHandlers(nil, nil, stubUserSvc{
		ensure: func(_ context.Context, sub, _ string) (*domain.User, error) {
			return &domain.User{ID: "internal-" + sub}, nil
		},
		updatePrefs: func(_ context.Context, id string, prefs int64) error {
			gotID, gotPrefs = id, prefs
			return nil
		},
	})
	r := gin.New()
	r.PUT("/me/preferences", h.UpdatePreferences)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/me/preferences", bytes.NewBufferString(`{"prefs":5}`))
	req.Header.Set("X-User-ID", "sub-1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("prefs -> %d", w.Code)
	}
	if gotID != "internal-sub-1" || gotPrefs != 5 {
		t.Fatalf("service args %q %d", gotID, gotPrefs)
	}
}

func TestUpdatePreferences_UnknownFlag(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := newTestHandlers(nil, nil, stubUserSvc{
		updatePrefs: func(context.Context, string, int64) error {
			return services.ErrInvalidPreferences
		},
	})
	r := gin.New()
	r.PUT("/me/preferences", h.UpdatePreferences)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/me/preferences", bytes.NewBufferString(`{"prefs":1099511627776}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown flag -> %d", w.Code)
	}
}

func TestUpdateProfile_Binding(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var gotName, gotAvatar string
	h := newTestHandlers(nil, nil, stubUserSvc{
		updateProf: func(_ context.Context, _, name, avatar string) error {
			gotName, gotAvatar = name, avatar
			return nil
		},
	})
	r := gin.New()
	r.PUT("/me/profile", h.UpdateProfile)

	// Missing display_name fails binding -> 400
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/me/profile", bytes.NewBufferString(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing name -> %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/me/profile",
		bytes.NewBufferString(`{"display_name":"Grace","avatar_url":"https://img/1.png"}`)))
	if w.Code != http.StatusNoContent {
		t.Fatalf("profile -> %d", w.Code)
	}
	if gotName != "Grace" || gotAvatar != "https://img/1.png" {
		t.Fatalf("service args %q %q", gotName, gotAvatar)
	}
}
