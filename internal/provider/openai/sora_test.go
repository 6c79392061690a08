package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"storytomedia/internal/provider"
	"storytomedia/internal/story"
)

func newTestVideoGenerator(srv *httptest.Server) *VideoGenerator {
	g := NewVideoGenerator("sk-key")
	g.BaseURL = srv.URL
	g.HTTPClient = srv.Client()
	g.PollInterval = time.Millisecond
	g.PollAttempts = 5
	return g
}

func videoRequest() provider.VideoRequest {
	return provider.VideoRequest{
		Start:  &story.Asset{Data: []byte("start-frame"), Mime: "image/png"},
		End:    &story.Asset{Data: []byte("end-frame"), Mime: "image/png"},
		Prompt: "transition",
	}
}

func TestSoraGenerateVideo(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != soraModel {
			t.Errorf("model = %q", got)
		}
		if got := r.FormValue("prompt"); got != "transition" {
			t.Errorf("prompt = %q", got)
		}
		f, _, err := r.FormFile("input_reference")
		if err != nil {
			t.Fatalf("input_reference missing: %v", err)
		}
		data, _ := io.ReadAll(f)
		f.Close()
		if !bytes.Equal(data, []byte("start-frame")) {
			t.Error("start frame not uploaded as reference")
		}
		fmt.Fprint(w, `{"id":"vid-1","status":"queued"}`)
	})
	mux.HandleFunc("/videos/vid-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 2 {
			fmt.Fprint(w, `{"id":"vid-1","status":"in_progress"}`)
			return
		}
		fmt.Fprint(w, `{"id":"vid-1","status":"completed"}`)
	})
	mux.HandleFunc("/videos/vid-1/content", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("mp4-bytes"))
	})

	asset, err := newTestVideoGenerator(srv).GenerateVideo(context.Background(), videoRequest())
	if err != nil {
		t.Fatalf("GenerateVideo: %v", err)
	}
	if string(asset.Data) != "mp4-bytes" || asset.Mime != "video/mp4" {
		t.Errorf("asset = %q %s", asset.Data, asset.Mime)
	}
}

func TestSoraJobFailed(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"vid-1","status":"queued"}`)
	})
	mux.HandleFunc("/videos/vid-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"vid-1","status":"failed","error":{"message":"flagged"}}`)
	})

	_, err := newTestVideoGenerator(srv).GenerateVideo(context.Background(), videoRequest())
	if err == nil || provider.IsTimeout(err) {
		t.Fatalf("err = %v, want permanent job failure", err)
	}
}

func TestSoraPollCap(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"vid-1","status":"queued"}`)
	})
	mux.HandleFunc("/videos/vid-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"vid-1","status":"in_progress"}`)
	})

	_, err := newTestVideoGenerator(srv).GenerateVideo(context.Background(), videoRequest())
	if !provider.IsTimeout(err) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
}
