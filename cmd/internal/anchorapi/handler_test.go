package anchorapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"colocation/cmd/internal/anchor"

	"github.com/google/uuid"
)

func newTestServer(t *testing.T) (*httptest.Server, *anchor.InMemoryStore) {
	t.Helper()

	store := anchor.NewInMemoryStore()
	h, err := NewHandler(nil, store, DefaultConfig())
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func TestHandler_RejectsBadRequests(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	group := anchor.NewGroupID().String()
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "bad anchor id", method: http.MethodPut, path: "/v1/anchors/nope", body: `{}`, status: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPut, path: "/v1/anchors/" + uuid.NewString(), body: `{"extra":1}`, status: http.StatusBadRequest},
		{name: "zero orientation", method: http.MethodPut, path: "/v1/anchors/" + uuid.NewString(), body: `{"pose":{}}`, status: http.StatusBadRequest},
		{name: "bad group", method: http.MethodGet, path: "/v1/groups/not-a-uuid/anchors", status: http.StatusBadRequest},
		{name: "nil group", method: http.MethodGet, path: "/v1/groups/" + uuid.Nil.String() + "/anchors", status: http.StatusBadRequest},
		{name: "empty share", method: http.MethodPost, path: "/v1/groups/" + group + "/anchors", body: `{"anchor_ids":[]}`, status: http.StatusBadRequest},
		{name: "share unsaved", method: http.MethodPost, path: "/v1/groups/" + group + "/anchors", body: `{"anchor_ids":["` + uuid.NewString() + `"]}`, status: http.StatusNotFound},
		{name: "erase missing", method: http.MethodDelete, path: "/v1/anchors/" + uuid.NewString(), status: http.StatusNotFound},
		{name: "trailing data", method: http.MethodPost, path: "/v1/groups/" + group + "/anchors", body: `{"anchor_ids":["` + uuid.NewString() + `"]} {}`, status: http.StatusBadRequest},
		{name: "oversized body", method: http.MethodPost, path: "/v1/groups/" + group + "/anchors", body: `{"anchor_ids":["` + strings.Repeat("a", 70<<10) + `"]}`, status: http.StatusRequestEntityTooLarge},
		{name: "wrong method", method: http.MethodPatch, path: "/v1/anchors/" + uuid.NewString(), status: http.StatusMethodNotAllowed},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req, err := http.NewRequest(tc.method, srv.URL+tc.path, strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("new request: %v", err)
			}
			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatalf("do: %v", err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("%s %s status=%d want=%d", tc.method, tc.path, resp.StatusCode, tc.status)
			}
		})
	}
}

func TestClient_RoundTrip(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	c, err := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	a := anchor.StoredAnchor{ID: uuid.New(), Pose: anchor.Pose{Position: anchor.Vec3{X: 1, Y: 1.5, Z: -2}, Orientation: anchor.IdentityQuat()}}
	b := anchor.StoredAnchor{ID: uuid.New(), Pose: anchor.IdentityPose()}
	for _, x := range []anchor.StoredAnchor{a, b} {
		if err := c.SaveAnchor(ctx, x); err != nil {
			t.Fatalf("SaveAnchor: %v", err)
		}
	}

	group := anchor.NewGroupID()
	if err := c.ShareAnchors(ctx, group, []uuid.UUID{a.ID, b.ID, a.ID}); err != nil {
		t.Fatalf("ShareAnchors: %v", err)
	}

	got, err := c.LoadGroup(ctx, group)
	if err != nil {
		t.Fatalf("LoadGroup: %v", err)
	}
	if len(got) != 2 || got[0].ID != a.ID || got[1].ID != b.ID {
		t.Fatalf("LoadGroup=%+v want [a b]", got)
	}
	if !got[0].Pose.ApproxEqual(a.Pose, 1e-12) {
		t.Fatalf("pose=%+v want=%+v", got[0].Pose, a.Pose)
	}

	if err := c.EraseAnchor(ctx, a.ID); err != nil {
		t.Fatalf("EraseAnchor: %v", err)
	}
	if err := c.EraseAnchor(ctx, a.ID); !errors.Is(err, anchor.ErrNotFound) {
		t.Fatalf("EraseAnchor twice err=%v want=ErrNotFound", err)
	}
	if err := c.ShareAnchors(ctx, group, []uuid.UUID{uuid.New()}); !errors.Is(err, anchor.ErrNotFound) {
		t.Fatalf("ShareAnchors unsaved err=%v want=ErrNotFound", err)
	}
}

func TestClient_BacksRuntime(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	hostStore, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	peerStore, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	host, err := anchor.NewRuntime(nil, hostStore, anchor.RuntimeConfig{})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	peer, err := anchor.NewRuntime(nil, peerStore, anchor.RuntimeConfig{})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	ctx := context.Background()
	h, err := host.Create(ctx, anchor.IdentityPose())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	group := anchor.NewGroupID()
	if err := host.Share(ctx, []anchor.Handle{h}, group); err != nil {
		t.Fatalf("Share: %v", err)
	}

	loaded, err := peer.LoadGroup(ctx, group)
	if err != nil {
		t.Fatalf("LoadGroup: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != h.ID() {
		t.Fatalf("LoadGroup=%+v want [%s]", loaded, h.ID())
	}
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "ftp://x", "://bad"} {
		if _, err := NewClient(in); err == nil {
			t.Fatalf("NewClient(%q) expected error", in)
		}
	}
}
