package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestReadLighthouse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ipfs/QmMeta", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"org_id":"snet"}`))
	})
	mux.HandleFunc("/ipfs/QmSlow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	gateway := srv.URL + "/ipfs/"

	tests := []struct {
		name    string
		cid     string
		timeout time.Duration
		want    string
		wantErr bool
	}{
		{name: "found", cid: "QmMeta", timeout: time.Second, want: `{"org_id":"snet"}`},
		{name: "no timeout", cid: "QmMeta", want: `{"org_id":"snet"}`},
		{name: "missing", cid: "QmNothing", timeout: time.Second, wantErr: true},
		{name: "slow gateway", cid: "QmSlow", timeout: 50 * time.Millisecond, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadLighthouse(context.Background(), gateway, tt.cid, tt.timeout)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadLighthouse: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestReadLighthouseCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ReadLighthouse(ctx, srv.URL+"/", "QmMeta", 0); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
