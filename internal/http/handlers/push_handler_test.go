package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mkaroulis/go-push-backend/internal/services"
)

func TestSend_BindingErrors(t *testing.T) {
	h := New(stubAuthSvc{}, stubTokenSvc{}, stubDispatchSvc{
		dispatch: func(context.Context, services.Target, services.Notification) (*services.DispatchResult, error) {
			t.Fatalf("service must not run on binding error")
			return nil, nil
		},
	})
	r := newTestRouter(h)

	for _, body := range []string{
		`{}`,
		`{"user_id":"u1"}`,
		`{"user_id":"u1","title":"hi"}`,
		`{"title":"hi","body":"there"}`,
	} {
		w := doJSON(r, http.MethodPost, "/api/v1/notifications/send", body, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestSend_TargetsSingleUser(t *testing.T) {
	var gotTarget services.Target
	var gotNotif services.Notification
	h := New(stubAuthSvc{}, stubTokenSvc{}, stubDispatchSvc{
		dispatch: func(_ context.Context, target services.Target, n services.Notification) (*services.DispatchResult, error) {
			gotTarget, gotNotif = target, n
			return &services.DispatchResult{Success: true, SentCount: 2, TotalTargeted: 2}, nil
		},
	})
	r := newTestRouter(h)

	w := doJSON(r, http.MethodPost, "/api/v1/notifications/send",
		`{"user_id":"u1","title":" Hello ","body":"World","data":{"k":"v"},"badge":3}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotTarget.Kind() != "user" {
		t.Fatalf("expected user target, got %q", gotTarget.Kind())
	}
	if gotNotif.Title != "Hello" {
		t.Fatalf("title should be trimmed, got %q", gotNotif.Title)
	}
	if gotNotif.Badge == nil || *gotNotif.Badge != 3 {
		t.Fatalf("badge not forwarded: %+v", gotNotif.Badge)
	}

	var res services.DispatchResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !res.Success || res.SentCount != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSendMultiple_RequiresNonEmptyUserIDs(t *testing.T) {
	h := New(stubAuthSvc{}, stubTokenSvc{}, stubDispatchSvc{})
	r := newTestRouter(h)

	w := doJSON(r, http.MethodPost, "/api/v1/notifications/send-multiple",
		`{"user_ids":[],"title":"a","body":"b"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty user_ids, got %d", w.Code)
	}
}

func TestSendAll_BroadcastTarget(t *testing.T) {
	var gotTarget services.Target
	h := New(stubAuthSvc{}, stubTokenSvc{}, stubDispatchSvc{
		dispatch: func(_ context.Context, target services.Target, _ services.Notification) (*services.DispatchResult, error) {
			gotTarget = target
			return &services.DispatchResult{Success: true}, nil
		},
	})
	r := newTestRouter(h)

	w := doJSON(r, http.MethodPost, "/api/v1/notifications/send-all",
		`{"title":"a","body":"b"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotTarget.Kind() != "all" {
		t.Fatalf("expected broadcast target, got %q", gotTarget.Kind())
	}
}

func TestSendByDevice_ErrorMappings(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"empty", services.ErrEmptyNotification, http.StatusBadRequest, ErrCodeBadRequest},
		{"device", services.ErrInvalidDeviceType, http.StatusBadRequest, ErrCodeBadRequest},
		{"gateway", services.ErrGatewayUnavailable, http.StatusBadGateway, ErrCodeGatewayUnavailable},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError, ErrCodeSendFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := New(stubAuthSvc{}, stubTokenSvc{}, stubDispatchSvc{
				dispatch: func(context.Context, services.Target, services.Notification) (*services.DispatchResult, error) {
					return nil, tc.err
				},
			})
			r := newTestRouter(h)

			w := doJSON(r, http.MethodPost, "/api/v1/notifications/send-by-device",
				`{"device_type":"web","title":"a","body":"b"}`, nil)
			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, w.Code)
			}
			var er ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
				t.Fatalf("json: %v", err)
			}
			if er.Code != tc.wantCode {
				t.Fatalf("expected code %q, got %q", tc.wantCode, er.Code)
			}
		})
	}
}

func TestDispatchScope_FromRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var gotScope string
	r := gin.New()
	r.POST("/api/v1/notifications/send-by-device", func(c *gin.Context) {
		gotScope = dispatchScope(c)
		c.Status(http.StatusOK)
	})

	doJSON(r, http.MethodPost, "/api/v1/notifications/send-by-device", `{}`, nil)
	if gotScope != "send-by-device" {
		t.Fatalf("scope mismatch: %q", gotScope)
	}
}

func TestSend_NoActiveTokensEnvelope(t *testing.T) {
	h := New(stubAuthSvc{}, stubTokenSvc{}, stubDispatchSvc{
		dispatch: func(context.Context, services.Target, services.Notification) (*services.DispatchResult, error) {
			return &services.DispatchResult{Success: false, Reason: services.ReasonNoActiveTokens}, nil
		},
	})
	r := newTestRouter(h)

	w := doJSON(r, http.MethodPost, "/api/v1/notifications/send",
		`{"user_id":"ghost","title":"a","body":"b"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("empty target set is not an HTTP error, got %d", w.Code)
	}

	var res services.DispatchResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("json: %v", err)
	}
	if res.Success || res.Reason != services.ReasonNoActiveTokens {
		t.Fatalf("unexpected envelope: %+v", res)
	}
}
