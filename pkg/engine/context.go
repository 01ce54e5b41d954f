package engine

// Binding is one (name, value) pair of a context snapshot, in insertion
// order.
type Binding struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Context is the per-run variable scope. Seeded from the matcher and
// upstream parameters, extended only by QUERY step commits. Owned by
// exactly one run; never shared, never locked.
type Context struct {
	keys []string
	vals map[string]any
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{vals: make(map[string]any)}
}

// SeedContext creates a context from ordered bindings. Later bindings
// overwrite earlier ones, keeping the original insertion position.
func SeedContext(bindings []Binding) *Context {
	c := NewContext()
	for _, b := range bindings {
		c.Set(b.Name, b.Value)
	}
	return c
}

// Set writes a value, preserving the key's original insertion position on
// overwrite.
func (c *Context) Set(name string, v any) {
	if _, ok := c.vals[name]; !ok {
		c.keys = append(c.keys, name)
	}
	c.vals[name] = v
}

// Get looks a value up by exact name.
func (c *Context) Get(name string) (any, bool) {
	v, ok := c.vals[name]
	return v, ok
}

// Len returns the number of bindings.
func (c *Context) Len() int { return len(c.keys) }

// Snapshot returns the bindings in insertion order.
func (c *Context) Snapshot() []Binding {
	out := make([]Binding, len(c.keys))
	for i, k := range c.keys {
		out[i] = Binding{Name: k, Value: c.vals[k]}
	}
	return out
}
