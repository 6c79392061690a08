package hailuo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"storytomedia/internal/provider"
	"storytomedia/internal/story"
)

func newTestGenerator(srv *httptest.Server) *VideoGenerator {
	g := NewVideoGenerator("hl-key")
	g.BaseURL = srv.URL
	g.HTTPClient = srv.Client()
	g.PollInterval = time.Millisecond
	g.PollAttempts = 5
	return g
}

func frames() provider.VideoRequest {
	return provider.VideoRequest{
		Start:  &story.Asset{Data: []byte("first"), Mime: "image/png"},
		End:    &story.Asset{Data: []byte("last"), Mime: "image/png"},
		Prompt: "transition",
	}
}

func TestGenerateVideo(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v1/video_generation", func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		json.NewDecoder(r.Body).Decode(&req)
		// 海螺只收首帧，以data URL提交
		if !strings.HasPrefix(req.FirstFrameImage, "data:image/png;base64,") {
			t.Errorf("first frame = %q", req.FirstFrameImage)
		}
		fmt.Fprint(w, `{"task_id":"task-1"}`)
	})
	mux.HandleFunc("/v1/query/video_generation", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("task_id") != "task-1" {
			t.Errorf("task_id = %q", r.URL.Query().Get("task_id"))
		}
		if polls.Add(1) < 2 {
			fmt.Fprint(w, `{"status":"Processing"}`)
			return
		}
		fmt.Fprint(w, `{"status":"Success","file_id":"file-9"}`)
	})
	mux.HandleFunc("/v1/files/retrieve", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("file_id") != "file-9" {
			t.Errorf("file_id = %q", r.URL.Query().Get("file_id"))
		}
		fmt.Fprintf(w, `{"file":{"download_url":%q}}`, srv.URL+"/dl/out.mp4")
	})
	mux.HandleFunc("/dl/out.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("mp4-bytes"))
	})

	asset, err := newTestGenerator(srv).GenerateVideo(context.Background(), frames())
	if err != nil {
		t.Fatalf("GenerateVideo: %v", err)
	}
	if string(asset.Data) != "mp4-bytes" || asset.Mime != "video/mp4" {
		t.Errorf("asset = %q %s", asset.Data, asset.Mime)
	}
}

func TestGenerateVideoTaskFailed(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/v1/video_generation", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"task_id":"task-1"}`)
	})
	mux.HandleFunc("/v1/query/video_generation", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"Fail","base_resp":{"status_msg":"moderation"}}`)
	})

	_, err := newTestGenerator(srv).GenerateVideo(context.Background(), frames())
	if err == nil || !strings.Contains(err.Error(), "moderation") {
		t.Fatalf("err = %v, want task failure message", err)
	}
}

func TestGenerateVideoPollCap(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/v1/video_generation", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"task_id":"task-1"}`)
	})
	mux.HandleFunc("/v1/query/video_generation", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"Queueing"}`)
	})

	_, err := newTestGenerator(srv).GenerateVideo(context.Background(), frames())
	if !provider.IsTimeout(err) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
}
