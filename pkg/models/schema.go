package models

// Schema is the structured project description extracted from a prompt.
// A vague prompt yields an empty but well-formed schema, never an error.
type Schema struct {
	Entities    []Entity   `json:"entities"`
	Endpoints   []Endpoint `json:"endpoints,omitempty"`
	Constraints []string   `json:"constraints,omitempty"`
}

// Entity is one domain object (User, Post, ...) with its fields and
// relations to other entities.
type Entity struct {
	Name      string     `json:"name"`
	Fields    []Field    `json:"fields,omitempty"`
	Relations []Relation `json:"relations,omitempty"`
}

// Field is a typed attribute of an entity.
type Field struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

// Relation links two entities (one_to_many, many_to_many, ...).
type Relation struct {
	Target string `json:"target"`
	Kind   string `json:"kind"`
}

// Endpoint is an HTTP route the generated project should expose.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Entity      string `json:"entity,omitempty"`
	Description string `json:"description,omitempty"`
}

// EntityNames returns the entity names in declaration order.
func (s Schema) EntityNames() []string {
	names := make([]string, 0, len(s.Entities))
	for _, e := range s.Entities {
		names = append(names, e.Name)
	}
	return names
}

// IsEmpty reports whether the schema carries no entities.
func (s Schema) IsEmpty() bool {
	return len(s.Entities) == 0
}
