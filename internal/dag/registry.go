package dag

import "sync"

type definition struct {
	name        string
	description string
	mode        Mode
	work        Work
	children    []Handle
}

// Registry collects task declarations before the graph is frozen.
//
// Declaration errors (empty or duplicate names, nil work) are accumulated and
// reported by Build, so a whole task file can be declared without checking
// every call.
type Registry struct {
	mu    sync.Mutex
	defs  map[string]*definition
	order []string
	errs  []error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*definition)}
}

// Register declares a leaf task running work.
func (r *Registry) Register(name string, work Work) Handle {
	if work == nil {
		r.fail(invalidf("task %q has nil work", name))
	}
	return r.add(&definition{name: name, mode: ModeTask, work: work})
}

// Series declares a composite that runs children strictly in order and stops
// at the first failure.
func (r *Registry) Series(name string, children ...Handle) Handle {
	return r.add(&definition{name: name, mode: ModeSeries, children: append([]Handle(nil), children...)})
}

// Parallel declares a composite that starts all children at once and fails,
// after every child has settled, if any of them failed.
func (r *Registry) Parallel(name string, children ...Handle) Handle {
	return r.add(&definition{name: name, mode: ModeParallel, children: append([]Handle(nil), children...)})
}

// Describe attaches a human-readable description to a declared task.
func (r *Registry) Describe(h Handle, description string) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.defs[h.name]; ok {
		d.description = description
	}
	return h
}

// Ref returns a handle to a task that may be declared later. Build rejects the
// graph if the name is never registered.
func (r *Registry) Ref(name string) Handle {
	return Handle{name: name}
}

// Names returns the declared task names in declaration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) add(d *definition) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.name == "" {
		r.errs = append(r.errs, invalidf("task name is required"))
		return Handle{}
	}
	if _, exists := r.defs[d.name]; exists {
		r.errs = append(r.errs, duplicatef("task %q is already registered", d.name))
		return Handle{name: d.name}
	}
	r.defs[d.name] = d
	r.order = append(r.order, d.name)
	return Handle{name: d.name}
}

func (r *Registry) fail(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

// Build validates every declaration and returns the immutable TaskGraph.
//
// The first declaration error wins; otherwise graph-level validation runs
// (unknown references, self references, cycles).
func (r *Registry) Build() (*TaskGraph, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.errs) > 0 {
		return nil, r.errs[0]
	}

	nodes := make([]*TaskNode, 0, len(r.order))
	for _, name := range r.order {
		d := r.defs[name]
		children := make([]string, 0, len(d.children))
		for _, c := range d.children {
			if c.name == "" {
				return nil, unknownf("task %q references an empty handle", d.name)
			}
			children = append(children, c.name)
		}
		nodes = append(nodes, &TaskNode{
			Name:        d.name,
			Description: d.description,
			Mode:        d.mode,
			Work:        d.work,
			Children:    children,
		})
	}
	return NewTaskGraph(nodes)
}
