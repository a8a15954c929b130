package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Compile-time assertion: *RESTBackend satisfies Backend.
var _ Backend = (*RESTBackend)(nil)

// RESTVertexType is the single vertex type the REST backend writes. The CPG
// label, FULL_NAME and the tagged property blob are attributes.
const RESTVertexType = "CPG_VERT"

// restQueryBatch bounds the identifiers sent in one GET request.
const restQueryBatch = 200

// RESTOptions configures a RESTBackend.
type RESTOptions struct {
	BaseURL  string
	Graph    string
	Username string
	Password string

	MaxAttempts       int           // default 5
	RetryDelay        time.Duration // default 500ms
	Timeout           time.Duration // per request, default 30s
	RequestsPerSecond float64       // 0 disables rate limiting

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// RESTBackend talks to a REST++-style graph server over HTTP/JSON. Every
// request is retried on transport errors and non-200 responses, and passes
// through a circuit breaker so a dead server fails fast.
type RESTBackend struct {
	opts    RESTOptions
	base    *url.URL
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewRESTBackend validates opts and returns an unopened backend.
func NewRESTBackend(opts RESTOptions) (*RESTBackend, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("rest: invalid base url %q", opts.BaseURL)
	}
	if opts.Graph == "" {
		return nil, errors.New("rest: graph name is required")
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("rest")

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	r := &RESTBackend{opts: opts, base: base, client: client, log: log}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rest:" + opts.Graph,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip only after several full retry cycles failed back to back.
			return counts.ConsecutiveFailures >= uint32(3*opts.MaxAttempts)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	if opts.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(1, int(opts.RequestsPerSecond)))
	}
	return r, nil
}

// NewRESTDriver composes a REST backend with a restartable counter.
func NewRESTDriver(opts RESTOptions, coreOpts ...Option) (*Core, error) {
	b, err := NewRESTBackend(opts)
	if err != nil {
		return nil, err
	}
	coreOpts = append([]Option{WithIDStrategy(NewCounterIDs()), WithLogger(opts.Logger)}, coreOpts...)
	return NewCore("rest", b, coreOpts...), nil
}

// ---------- Wire types ----------

// restEnvelope wraps every REST++ response body.
type restEnvelope struct {
	Error   bool              `json:"error"`
	Message string            `json:"message"`
	Results []json.RawMessage `json:"results"`
}

// restVertex is a vertex as returned by the read queries.
type restVertex struct {
	ID       int64  `json:"id"`
	Label    string `json:"label"`
	FullName string `json:"full_name"`
	Props    string `json:"props"`
}

type restEdge struct {
	Src   int64  `json:"src"`
	Dst   int64  `json:"dst"`
	Label string `json:"label"`
}

type restAttr struct {
	Value string `json:"value"`
}

// restUpsert is the POST /graph/{graph} body.
type restUpsert struct {
	Vertices map[string]map[string]map[string]restAttr                       `json:"vertices,omitempty"`
	Edges    map[string]map[string]map[string]map[string]map[string]struct{} `json:"edges,omitempty"`
}

func (rv restVertex) vertex() (*graph.Vertex, error) {
	props, err := graph.UnmarshalProps([]byte(rv.Props))
	if err != nil {
		return nil, fmt.Errorf("rest: vertex %d: %w", rv.ID, err)
	}
	return &graph.Vertex{ID: rv.ID, Label: graph.VertexLabel(rv.Label), Props: props}, nil
}

func vertexAttrs(v *graph.Vertex) (map[string]restAttr, error) {
	blob, err := graph.MarshalProps(v.Props)
	if err != nil {
		return nil, err
	}
	return map[string]restAttr{
		"label":     {Value: string(v.Label)},
		"full_name": {Value: v.FullName()},
		"props":     {Value: string(blob)},
	}, nil
}

// ---------- Transport ----------

// errRetryable marks a failed attempt that may succeed when repeated.
var errRetryable = errors.New("retryable")

// do sends one logical request, retrying up to MaxAttempts. It returns the
// envelope's results.
func (r *RESTBackend) do(ctx context.Context, method, path string, query url.Values, body any) ([]json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("rest: encode %s %s: %w", method, path, err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rest: rate limit: %w", err)
			}
		}
		out, err := r.breaker.Execute(func() (any, error) {
			return r.attempt(ctx, method, path, query, payload)
		})
		if err == nil {
			return out.([]json.RawMessage), nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("rest: %s %s: %w: %w", method, path, graph.ErrBackendUnavailable, err)
		}
		if !errors.Is(err, errRetryable) {
			return nil, err
		}
		lastErr = err
		r.log.Debug("request failed, retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == r.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.opts.RetryDelay):
		}
	}
	return nil, fmt.Errorf("rest: %s %s: %d attempts: %w: %w",
		method, path, r.opts.MaxAttempts, graph.ErrBackendUnavailable, lastErr)
}

func (r *RESTBackend) attempt(ctx context.Context, method, path string, query url.Values, payload []byte) ([]json.RawMessage, error) {
	u := *r.base
	u.Path = r.base.Path + path
	u.RawQuery = query.Encode()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.opts.Username != "" {
		req.SetBasicAuth(r.opts.Username, r.opts.Password)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errRetryable, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", errRetryable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", errRetryable, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var env restEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("rest: decode envelope: %w", err)
	}
	if env.Error {
		return nil, fmt.Errorf("rest: %s: %w", env.Message, graph.ErrTransactionFailure)
	}
	return env.Results, nil
}

func (r *RESTBackend) query(ctx context.Context, name string, params url.Values) ([]json.RawMessage, error) {
	return r.do(ctx, http.MethodGet, "/query/"+r.opts.Graph+"/"+name, params, nil)
}

// graphPath joins segments under /graph/{graph}. URL.String escapes them.
func (r *RESTBackend) graphPath(parts ...string) string {
	return strings.Join(append([]string{"/graph", r.opts.Graph}, parts...), "/")
}

func decodeFirst(results []json.RawMessage, dst any) error {
	if len(results) == 0 {
		return fmt.Errorf("rest: empty results: %w", graph.ErrTransactionFailure)
	}
	if err := json.Unmarshal(results[0], dst); err != nil {
		return fmt.Errorf("rest: decode result: %w", err)
	}
	return nil
}

func decodeAll[T any](results []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(results))
	for _, raw := range results {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("rest: decode result: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}

func idParams(ids []int64) url.Values {
	q := url.Values{}
	for _, id := range ids {
		q.Add("id", strconv.FormatInt(id, 10))
	}
	return q
}

// ---------- Backend ----------

// Open checks that the server answers.
func (r *RESTBackend) Open(ctx context.Context) error {
	_, err := r.do(ctx, http.MethodGet, "/echo", nil, nil)
	return err
}

// Close releases idle connections.
func (r *RESTBackend) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *RESTBackend) HasVertex(ctx context.Context, id int64) (bool, error) {
	res, err := r.query(ctx, "hasVertex", idParams([]int64{id}))
	if err != nil {
		return false, err
	}
	var out struct {
		Exists bool `json:"exists"`
	}
	err = decodeFirst(res, &out)
	return out.Exists, err
}

func (r *RESTBackend) HasEdge(ctx context.Context, e graph.Edge) (bool, error) {
	res, err := r.query(ctx, "hasEdge", url.Values{
		"src":   {strconv.FormatInt(e.Src, 10)},
		"dst":   {strconv.FormatInt(e.Dst, 10)},
		"label": {string(e.Label)},
	})
	if err != nil {
		return false, err
	}
	var out struct {
		Exists bool `json:"exists"`
	}
	err = decodeFirst(res, &out)
	return out.Exists, err
}

// CreateVertices upserts vs in one POST. Identifiers must be preassigned.
func (r *RESTBackend) CreateVertices(ctx context.Context, vs []*graph.Vertex) error {
	body := restUpsert{Vertices: map[string]map[string]map[string]restAttr{RESTVertexType: {}}}
	for _, v := range vs {
		if v.ID == 0 {
			return fmt.Errorf("rest: vertex %s has no identifier: %w", v.Label, graph.ErrTransactionFailure)
		}
		attrs, err := vertexAttrs(v)
		if err != nil {
			return fmt.Errorf("rest: encode vertex %d: %w", v.ID, err)
		}
		body.Vertices[RESTVertexType][strconv.FormatInt(v.ID, 10)] = attrs
	}
	_, err := r.do(ctx, http.MethodPost, r.graphPath(), nil, body)
	return err
}

// CreateEdges upserts es in one POST.
func (r *RESTBackend) CreateEdges(ctx context.Context, es []graph.Edge) error {
	edges := map[string]map[string]map[string]map[string]map[string]struct{}{RESTVertexType: {}}
	for _, e := range es {
		src := strconv.FormatInt(e.Src, 10)
		bySrc := edges[RESTVertexType][src]
		if bySrc == nil {
			bySrc = map[string]map[string]map[string]struct{}{}
			edges[RESTVertexType][src] = bySrc
		}
		byLabel := bySrc[string(e.Label)]
		if byLabel == nil {
			byLabel = map[string]map[string]struct{}{RESTVertexType: {}}
			bySrc[string(e.Label)] = byLabel
		}
		byLabel[RESTVertexType][strconv.FormatInt(e.Dst, 10)] = struct{}{}
	}
	_, err := r.do(ctx, http.MethodPost, r.graphPath(), nil, restUpsert{Edges: edges})
	return err
}

func (r *RESTBackend) DropVertex(ctx context.Context, id int64) error {
	_, err := r.do(ctx, http.MethodDelete, r.graphPath("vertices", RESTVertexType, strconv.FormatInt(id, 10)), nil, nil)
	return err
}

func (r *RESTBackend) DropEdge(ctx context.Context, e graph.Edge) error {
	_, err := r.do(ctx, http.MethodDelete, r.graphPath("edges",
		RESTVertexType, strconv.FormatInt(e.Src, 10), string(e.Label),
		RESTVertexType, strconv.FormatInt(e.Dst, 10)), nil, nil)
	return err
}

// SetProperty reads the vertex, patches the blob and upserts it back.
func (r *RESTBackend) SetProperty(ctx context.Context, id int64, key string, value graph.PropValue) error {
	vs, err := r.Vertices(ctx, []int64{id})
	if err != nil || len(vs) == 0 {
		return err
	}
	v := vs[0]
	if value.IsNone() {
		delete(v.Props, key)
	} else {
		v.Props[key] = value
	}
	return r.CreateVertices(ctx, []*graph.Vertex{v})
}

func (r *RESTBackend) readVertices(ctx context.Context, name string, params url.Values) ([]*graph.Vertex, error) {
	res, err := r.query(ctx, name, params)
	if err != nil {
		return nil, err
	}
	rows, err := decodeAll[restVertex](res)
	if err != nil {
		return nil, err
	}
	out := make([]*graph.Vertex, 0, len(rows))
	for _, row := range rows {
		v, err := row.vertex()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *RESTBackend) Vertices(ctx context.Context, ids []int64) ([]*graph.Vertex, error) {
	var out []*graph.Vertex
	for _, part := range chunk(ids, restQueryBatch) {
		vs, err := r.readVertices(ctx, "vertices", idParams(part))
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return out, nil
}

func (r *RESTBackend) FindVertices(ctx context.Context, label graph.VertexLabel, fullName string) ([]*graph.Vertex, error) {
	q := url.Values{"label": {string(label)}}
	if fullName != "" {
		q.Set("full_name", fullName)
	}
	return r.readVertices(ctx, "findVertices", q)
}

func (r *RESTBackend) Edges(ctx context.Context, ids []int64, dir graph.Direction, labels ...graph.EdgeLabel) ([]graph.Edge, error) {
	seen := make(map[graph.Edge]struct{})
	var out []graph.Edge
	for _, part := range chunk(ids, restQueryBatch) {
		q := idParams(part)
		q.Set("dir", string(dir))
		for _, l := range labels {
			q.Add("label", string(l))
		}
		res, err := r.query(ctx, "edges", q)
		if err != nil {
			return nil, err
		}
		rows, err := decodeAll[restEdge](res)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			e := graph.Edge{Src: row.Src, Dst: row.Dst, Label: graph.EdgeLabel(row.Label)}
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *RESTBackend) Scan(ctx context.Context) (*graph.Subgraph, error) {
	res, err := r.query(ctx, "wholeGraph", nil)
	if err != nil {
		return nil, err
	}
	var whole struct {
		Vertices []restVertex `json:"vertices"`
		Edges    []restEdge   `json:"edges"`
	}
	if err := decodeFirst(res, &whole); err != nil {
		return nil, err
	}
	g := graph.NewSubgraph()
	for _, row := range whole.Vertices {
		v, err := row.vertex()
		if err != nil {
			return nil, err
		}
		g.AddVertex(v)
	}
	for _, row := range whole.Edges {
		g.AddEdge(graph.Edge{Src: row.Src, Dst: row.Dst, Label: graph.EdgeLabel(row.Label)})
	}
	g.SortEdges()
	return g, nil
}

func (r *RESTBackend) MaxVertexID(ctx context.Context) (int64, error) {
	res, err := r.query(ctx, "maxId", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		Max int64 `json:"max"`
	}
	err = decodeFirst(res, &out)
	return out.Max, err
}

// Truncate deletes every vertex of the CPG type; edges go with them.
func (r *RESTBackend) Truncate(ctx context.Context) error {
	_, err := r.do(ctx, http.MethodDelete, r.graphPath("vertices", RESTVertexType), nil, nil)
	return err
}
