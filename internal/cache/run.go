package cache

// Run bundles the caches of one pipeline run.
type Run struct {
	Identity   *Identity
	FileHashes *FileHashes
	CallEdges  *CallEdges
	Driver     *DriverCache
}

// NewRun builds the caches for a run reading through src.
func NewRun(src VertexGetter, driverCacheSize int64) (*Run, error) {
	dc, err := NewDriverCache(src, driverCacheSize)
	if err != nil {
		return nil, err
	}
	return &Run{
		Identity:   NewIdentity(),
		FileHashes: NewFileHashes(),
		CallEdges:  NewCallEdges(),
		Driver:     dc,
	}, nil
}

// Clear empties every cache. It is called at the end of a run and on early
// termination.
func (r *Run) Clear() {
	r.Identity.Clear()
	r.FileHashes.Clear()
	r.CallEdges.Clear()
	r.Driver.Clear()
}

// Close clears the caches and releases the driver cache.
func (r *Run) Close() {
	r.Clear()
	r.Driver.Close()
}
