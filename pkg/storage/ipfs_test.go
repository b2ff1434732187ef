package storage

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"testing"

	"github.com/ipfs/go-cid"
)

// entry is one tar member; only regular files carry a body.
type entry struct {
	name string
	typ  byte
	body string
}

func bundle(t *testing.T, gz bool, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		h := &tar.Header{Name: e.name, Typeflag: e.typ, Mode: 0o644, Size: int64(len(e.body))}
		if e.typ != tar.TypeReg {
			h.Size = 0
		}
		if err := tw.WriteHeader(h); err != nil {
			t.Fatalf("header %s: %v", e.name, err)
		}
		if e.typ == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("body %s: %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if !gz {
		return buf.Bytes()
	}
	var out bytes.Buffer
	zw := gzip.NewWriter(&out)
	if _, err := zw.Write(buf.Bytes()); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return out.Bytes()
}

const calculatorProto = `syntax = "proto3"; package example_service; message Numbers { float a = 1; float b = 2; }`

func TestParseProtoFiles(t *testing.T) {
	tests := []struct {
		name    string
		archive func(t *testing.T) []byte
		want    map[string]string
		wantErr bool
	}{
		{
			name: "tar",
			archive: func(t *testing.T) []byte {
				return bundle(t, false,
					entry{name: "proto/", typ: tar.TypeDir},
					entry{name: "proto/example_service.proto", typ: tar.TypeReg, body: calculatorProto},
					entry{name: "README.md", typ: tar.TypeReg, body: "usage"},
				)
			},
			want: map[string]string{"proto/example_service.proto": calculatorProto},
		},
		{
			name: "tar.gz",
			archive: func(t *testing.T) []byte {
				return bundle(t, true, entry{name: "example_service.proto", typ: tar.TypeReg, body: calculatorProto})
			},
			want: map[string]string{"example_service.proto": calculatorProto},
		},
		{
			name: "symlink",
			archive: func(t *testing.T) []byte {
				return bundle(t, false, entry{name: "link.proto", typ: tar.TypeSymlink})
			},
			wantErr: true,
		},
		{
			name:    "corrupt gzip",
			archive: func(*testing.T) []byte { return []byte{0x1F, 0x8B, 0x00, 0x01} },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProtoFiles(tt.archive(t))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseProtoFiles: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d files, want %d: %v", len(got), len(tt.want), got)
			}
			for name, body := range tt.want {
				if got[name] != body {
					t.Fatalf("%s = %q", name, got[name])
				}
			}
		})
	}
}

func TestVerifyCID(t *testing.T) {
	meta := []byte(`{"version":1,"display_name":"Calculator"}`)
	raw, err := cid.Prefix{Version: 1, Codec: cid.Raw, MhType: 0x12, MhLength: -1}.Sum(meta)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if err := verifyCID(raw, meta); err != nil {
		t.Fatalf("matching content: %v", err)
	}
	if err := verifyCID(raw, []byte(`{"version":2}`)); err == nil {
		t.Fatal("expected mismatch error")
	}

	// DAG-encoded files are chunked; their bytes do not hash to the CID.
	dag, err := cid.Prefix{Version: 1, Codec: cid.DagProtobuf, MhType: 0x12, MhLength: -1}.Sum([]byte("node"))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if err := verifyCID(dag, meta); err != nil {
		t.Fatalf("dag-pb content: %v", err)
	}
}

func TestIPFSFetcherRequiresClient(t *testing.T) {
	if _, err := (&ipfsFetcher{}).Fetch(context.Background(), "ipfs://QmHash"); err == nil {
		t.Fatal("expected error without api client")
	}
}
