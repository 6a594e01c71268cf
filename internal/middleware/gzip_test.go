package middleware

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

const cartJSON = `{"order_id":101,"status":"DRAFT","items":[{"id":1,"name":"Hades","unit_price":"20"}],"preview_total":"20"}`

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func gunzip(t *testing.T, b []byte) string {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	return string(out)
}

// cartRouter повторяет то, что хост отдаёт через GzipMiddleware: JSON корзины и эхо тела добавления.
func cartRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(GzipMiddleware)
	r.Get("/api/cart", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", strconv.Itoa(len(cartJSON)))
		_, _ = io.WriteString(w, cartJSON)
	})
	r.Post("/api/cart/items", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ItemID int64 `json:"item_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int64{"added": req.ItemID})
	})
	r.Get("/api/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": connected\n\n")
	})
	return r
}

func TestGzipMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		target       string
		body         []byte
		headers      map[string]string
		wantStatus   int
		wantEncoding string
		wantBody     string
	}{
		{
			name:         "cart compressed for gzip client",
			method:       http.MethodGet,
			target:       "/api/cart",
			headers:      map[string]string{"Accept-Encoding": "gzip, deflate"},
			wantStatus:   http.StatusOK,
			wantEncoding: "gzip",
			wantBody:     cartJSON,
		},
		{
			name:       "cart plain without accept-encoding",
			method:     http.MethodGet,
			target:     "/api/cart",
			wantStatus: http.StatusOK,
			wantBody:   cartJSON,
		},
		{
			name:       "gzip request body",
			method:     http.MethodPost,
			target:     "/api/cart/items",
			body:       gzipBytes(t, `{"item_id":7}`),
			headers:    map[string]string{"Content-Encoding": "gzip", "Content-Type": "application/json"},
			wantStatus: http.StatusOK,
			wantBody:   `{"added":7}`,
		},
		{
			name:         "gzip request and response",
			method:       http.MethodPost,
			target:       "/api/cart/items",
			body:         gzipBytes(t, `{"item_id":3}`),
			headers:      map[string]string{"Content-Encoding": "gzip", "Accept-Encoding": "gzip"},
			wantStatus:   http.StatusOK,
			wantEncoding: "gzip",
			wantBody:     `{"added":3}`,
		},
		{
			name:       "broken gzip body",
			method:     http.MethodPost,
			target:     "/api/cart/items",
			body:       []byte(`{"item_id":7}`),
			headers:    map[string]string{"Content-Encoding": "gzip"},
			wantStatus: http.StatusBadRequest,
			wantBody:   "Bad Request",
		},
		{
			name:       "event stream left uncompressed",
			method:     http.MethodGet,
			target:     "/api/events",
			headers:    map[string]string{"Accept-Encoding": "gzip", "Accept": "text/event-stream"},
			wantStatus: http.StatusOK,
			wantBody:   ": connected",
		},
	}

	router := cartRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, bytes.NewReader(tt.body))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			res := rec.Result()
			defer res.Body.Close()

			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
			if got := res.Header.Get("Content-Encoding"); got != tt.wantEncoding {
				t.Fatalf("Content-Encoding = %q, want %q", got, tt.wantEncoding)
			}

			raw, err := io.ReadAll(res.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			body := string(raw)
			if tt.wantEncoding == "gzip" {
				if res.Header.Get("Content-Length") != "" {
					t.Errorf("Content-Length kept on compressed response: %q", res.Header.Get("Content-Length"))
				}
				if !strings.Contains(res.Header.Get("Vary"), "Accept-Encoding") {
					t.Errorf("Vary = %q, want Accept-Encoding", res.Header.Get("Vary"))
				}
				body = gunzip(t, raw)
			}
			if !strings.Contains(body, tt.wantBody) {
				t.Errorf("body = %q, want to contain %q", body, tt.wantBody)
			}
		})
	}
}

func TestGzipMiddleware_FlushesStream(t *testing.T) {
	release := make(chan struct{})
	handler := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		rc := http.NewResponseController(w)
		_, _ = io.WriteString(w, "event: CART_CHANGED\ndata: {}\n\n")
		if err := rc.Flush(); err != nil {
			t.Errorf("flush: %v", err)
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	srv := httptest.NewServer(handler)
	defer srv.Close()
	defer close(release)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept-Encoding", "gzip")
	client := &http.Client{Transport: &http.Transport{DisableCompression: true}, Timeout: 5 * time.Second}

	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer res.Body.Close()

	if got := res.Header.Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}

	zr, err := gzip.NewReader(res.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	line, err := bufio.NewReader(zr).ReadString('\n')
	if err != nil {
		t.Fatalf("read flushed frame: %v", err)
	}
	if line != "event: CART_CHANGED\n" {
		t.Errorf("first line = %q", line)
	}
}

func TestGzipMiddleware_FlushBeforeWrite(t *testing.T) {
	handler := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = http.NewResponseController(w).Flush()
		_, _ = io.WriteString(w, "late body")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}
	if got := gunzip(t, rec.Body.Bytes()); got != "late body" {
		t.Errorf("body = %q, want %q", got, "late body")
	}
}
