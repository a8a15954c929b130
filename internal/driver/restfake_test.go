package driver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeRESTServer is an in-process REST++ stand-in holding one graph.
type fakeRESTServer struct {
	*httptest.Server

	mu       sync.Mutex
	vertices map[int64]restVertex
	edges    map[restEdge]struct{}

	requests atomic.Int64
	failNext atomic.Int64 // respond 503 to this many upcoming requests
}

func newFakeRESTServer(t *testing.T) *fakeRESTServer {
	t.Helper()
	f := &fakeRESTServer{
		vertices: make(map[int64]restVertex),
		edges:    make(map[restEdge]struct{}),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeRESTServer) reply(w http.ResponseWriter, results ...any) {
	if results == nil {
		results = []any{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"error": false, "message": "", "results": results})
}

func (f *fakeRESTServer) fail(w http.ResponseWriter, msg string) {
	_ = json.NewEncoder(w).Encode(map[string]any{"error": true, "message": msg})
}

func (f *fakeRESTServer) serve(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	if f.failNext.Load() > 0 {
		f.failNext.Add(-1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodGet && parts[0] == "echo":
		f.reply(w)
	case r.Method == http.MethodGet && parts[0] == "query" && len(parts) == 3:
		f.query(w, parts[2], r)
	case r.Method == http.MethodPost && parts[0] == "graph":
		f.upsert(w, r)
	case r.Method == http.MethodDelete && parts[0] == "graph" && len(parts) >= 4 && parts[2] == "vertices":
		if len(parts) == 4 {
			f.vertices = make(map[int64]restVertex)
			f.edges = make(map[restEdge]struct{})
			f.reply(w)
			return
		}
		id, _ := strconv.ParseInt(parts[4], 10, 64)
		delete(f.vertices, id)
		for e := range f.edges {
			if e.Src == id || e.Dst == id {
				delete(f.edges, e)
			}
		}
		f.reply(w)
	case r.Method == http.MethodDelete && parts[0] == "graph" && len(parts) == 8 && parts[2] == "edges":
		src, _ := strconv.ParseInt(parts[4], 10, 64)
		dst, _ := strconv.ParseInt(parts[7], 10, 64)
		delete(f.edges, restEdge{Src: src, Dst: dst, Label: parts[5]})
		f.reply(w)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeRESTServer) upsert(w http.ResponseWriter, r *http.Request) {
	var body restUpsert
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		f.fail(w, err.Error())
		return
	}
	for id, attrs := range body.Vertices[RESTVertexType] {
		n, _ := strconv.ParseInt(id, 10, 64)
		f.vertices[n] = restVertex{
			ID:       n,
			Label:    attrs["label"].Value,
			FullName: attrs["full_name"].Value,
			Props:    attrs["props"].Value,
		}
	}
	for src, byLabel := range body.Edges[RESTVertexType] {
		s, _ := strconv.ParseInt(src, 10, 64)
		for label, byType := range byLabel {
			for dst := range byType[RESTVertexType] {
				d, _ := strconv.ParseInt(dst, 10, 64)
				if _, ok := f.vertices[s]; !ok {
					f.fail(w, "missing source vertex")
					return
				}
				if _, ok := f.vertices[d]; !ok {
					f.fail(w, "missing target vertex")
					return
				}
				f.edges[restEdge{Src: s, Dst: d, Label: label}] = struct{}{}
			}
		}
	}
	f.reply(w, map[string]int{"accepted_vertices": len(body.Vertices[RESTVertexType])})
}

func (f *fakeRESTServer) query(w http.ResponseWriter, name string, r *http.Request) {
	q := r.URL.Query()
	ids := func() []int64 {
		var out []int64
		for _, s := range q["id"] {
			n, _ := strconv.ParseInt(s, 10, 64)
			out = append(out, n)
		}
		return out
	}
	switch name {
	case "hasVertex":
		_, ok := f.vertices[ids()[0]]
		f.reply(w, map[string]bool{"exists": ok})
	case "hasEdge":
		src, _ := strconv.ParseInt(q.Get("src"), 10, 64)
		dst, _ := strconv.ParseInt(q.Get("dst"), 10, 64)
		_, ok := f.edges[restEdge{Src: src, Dst: dst, Label: q.Get("label")}]
		f.reply(w, map[string]bool{"exists": ok})
	case "vertices":
		var out []any
		for _, id := range ids() {
			if v, ok := f.vertices[id]; ok {
				out = append(out, v)
			}
		}
		f.reply(w, out...)
	case "findVertices":
		var out []any
		for _, v := range f.sortedVertices() {
			if v.Label == q.Get("label") && (q.Get("full_name") == "" || v.FullName == q.Get("full_name")) {
				out = append(out, v)
			}
		}
		f.reply(w, out...)
	case "edges":
		want := make(map[int64]bool)
		for _, id := range ids() {
			want[id] = true
		}
		labels := q["label"]
		dir := q.Get("dir")
		var out []any
		for e := range f.edges {
			if len(labels) > 0 && !containsString(labels, e.Label) {
				continue
			}
			if (dir != "in" && want[e.Src]) || (dir != "out" && want[e.Dst]) {
				out = append(out, e)
			}
		}
		f.reply(w, out...)
	case "maxId":
		var maxID int64
		for id := range f.vertices {
			maxID = max(maxID, id)
		}
		f.reply(w, map[string]int64{"max": maxID})
	case "wholeGraph":
		var es []restEdge
		for e := range f.edges {
			es = append(es, e)
		}
		f.reply(w, map[string]any{"vertices": f.sortedVertices(), "edges": es})
	default:
		f.fail(w, "unknown query "+name)
	}
}

func (f *fakeRESTServer) sortedVertices() []restVertex {
	out := make([]restVertex, 0, len(f.vertices))
	for _, v := range f.vertices {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
