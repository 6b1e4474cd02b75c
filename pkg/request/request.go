package request

// Request is the parsed form of an inbound invocation. A transport builds
// the raw Args, the dispatch path calls Parse exactly once, and only a nil
// return lets the invocation reach unit logic. Parse failures carry the
// validation code and surface as client errors.
type Request interface {
	Parse(args Args) error
}

// Basic is the default Request. It validates the argument value contract,
// retains the arguments for typed access, and carries the request id and
// the trailing path segments the resolver did not consume (element ids in
// REST-style paths).
type Basic struct {
	// ID is the transport-assigned request identifier.
	ID string

	// Segments holds the path segments following the owning unit's path.
	Segments []string

	args Args
}

// NewBasic creates a Basic request with the given id and trailing segments.
func NewBasic(id string, segments []string) *Basic {
	return &Basic{ID: id, Segments: segments}
}

// Parse validates and retains the raw arguments.
func (r *Basic) Parse(args Args) error {
	if err := args.Validate(); err != nil {
		return err
	}
	r.args = args
	return nil
}

// Args returns the parsed arguments.
func (r *Basic) Args() Args {
	if r.args == nil {
		return Args{}
	}
	return r.args
}
