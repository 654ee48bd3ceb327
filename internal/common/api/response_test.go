package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type createReq struct {
	BookingIDs  []string `json:"bookingIds" validate:"required,min=1,dive,required"`
	TotalAmount float64  `json:"totalAmount" validate:"gt=0"`
}

func TestDecodeAndValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bookingIds":["bk_1"],"totalAmount":10}`))
		var req createReq
		if err := DecodeAndValidate(r, &req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(req.BookingIDs) != 1 || req.TotalAmount != 10 {
			t.Errorf("decoded %+v", req)
		}
	})

	t.Run("validation details", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bookingIds":[],"totalAmount":0}`))
		var req createReq
		err := DecodeAndValidate(r, &req)
		if err == nil {
			t.Fatal("expected validation error")
		}

		w := httptest.NewRecorder()
		ValidationError(w, err)
		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", w.Code)
		}

		var body Response[any]
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body.Error == nil || body.Error.Code != ErrCodeValidation {
			t.Fatalf("unexpected error body: %+v", body.Error)
		}
		if body.Error.Details["BookingIDs"] == "" || body.Error.Details["TotalAmount"] == "" {
			t.Errorf("missing field details: %v", body.Error.Details)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		var req createReq
		if err := DecodeAndValidate(r, &req); err == nil {
			t.Fatal("expected decode error")
		}
	})
}

func TestGetPaginationParams(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", 50, 0},
		{"limit=10&offset=20", 10, 20},
		{"limit=1000", 50, 0},
		{"limit=abc&offset=-1", 50, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			p := GetPaginationParams(r, 50, 100)
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got %+v, want limit=%d offset=%d", p, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		code   string
	}{
		{"conflict", func(w http.ResponseWriter) { Conflict(w, "x") }, http.StatusConflict, ErrCodeConflict},
		{"invalid transition", func(w http.ResponseWriter) { InvalidTransition(w, "x") }, http.StatusConflict, ErrCodeInvalidTransition},
		{"forbidden", func(w http.ResponseWriter) { Forbidden(w, "x") }, http.StatusForbidden, ErrCodeForbidden},
		{"bad gateway", func(w http.ResponseWriter) { BadGateway(w, "x") }, http.StatusBadGateway, ErrCodeBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			var body Response[any]
			_ = json.NewDecoder(w.Body).Decode(&body)
			if body.Error == nil || body.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %s", body.Error, tt.code)
			}
		})
	}
}

func TestWritePage(t *testing.T) {
	w := httptest.NewRecorder()
	WritePage(w, []string{"a", "b"}, PaginationParams{Limit: 2, Offset: 4})

	var body Page[string]
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Data) != 2 || body.Limit != 2 || body.Offset != 4 || !body.HasMore {
		t.Errorf("page = %+v", body)
	}

	w = httptest.NewRecorder()
	WritePage[string](w, nil, PaginationParams{Limit: 10})
	if !strings.Contains(w.Body.String(), `"data":[]`) || !strings.Contains(w.Body.String(), `"has_more":false`) {
		t.Errorf("empty page = %s", w.Body.String())
	}
}
