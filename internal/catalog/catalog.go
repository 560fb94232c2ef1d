// Package catalog loads the application types offered to applicants and the
// Discord wiring for each of them.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Grisenxx/divisionwebsite/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed application_types.yml
var defaultCatalog []byte

// MaxFieldLength bounds every submitted field value, in characters.
const MaxFieldLength = 2000

// Field types understood by the form.
const (
	FieldText     = "text"
	FieldTextarea = "textarea"
	FieldNumber   = "number"
	FieldSelect   = "select"
)

// Field is one form input.
type Field struct {
	ID          string   `yaml:"id" json:"id"`
	Label       string   `yaml:"label" json:"label"`
	Type        string   `yaml:"type" json:"type"`
	Placeholder string   `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	Required    bool     `yaml:"required" json:"required"`
	Options     []string `yaml:"options,omitempty" json:"options,omitempty"`
	Min         *int     `yaml:"min,omitempty" json:"min,omitempty"`
	Rows        int      `yaml:"rows,omitempty" json:"rows,omitempty"`
}

// Type is one application type and its Discord wiring.
type Type struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	Fields      []Field `yaml:"fields" json:"fields"`

	ReviewerRoles   []string `yaml:"reviewerRoles" json:"-"`
	GrantRole       string   `yaml:"grantRole" json:"-"`
	Announce        bool     `yaml:"announce" json:"-"`
	PrivateChannel  bool     `yaml:"privateChannel" json:"-"`
	ChannelCategory string   `yaml:"channelCategory" json:"-"`
	ResponsibleRole string   `yaml:"responsibleRole" json:"-"`
	LogWebhook      string   `yaml:"logWebhook" json:"-"`
}

// Field returns the field definition for id.
func (t *Type) Field(id string) (Field, bool) {
	for _, f := range t.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// Order returns fields rearranged into form order.
func (t *Type) Order(fields models.Fields) models.Fields {
	out := make(models.Fields, 0, len(fields))
	for _, def := range t.Fields {
		if v, ok := fields.Get(def.ID); ok {
			out = append(out, models.Field{Key: def.ID, Value: v})
		}
	}
	return out
}

// Validate checks fields against the form definition. The returned error is a
// validation AppError describing the first problem.
func (t *Type) Validate(fields models.Fields) error {
	if len(fields) == 0 {
		return invalid("Ansøgningen skal indeholde mindst ét felt")
	}
	for _, f := range fields {
		def, ok := t.Field(f.Key)
		if !ok {
			return invalid("Ukendt felt: %s", f.Key)
		}
		if utf8.RuneCountInString(f.Value) > MaxFieldLength {
			return invalid("%s må højst være %d tegn", def.Label, MaxFieldLength)
		}
		value := strings.TrimSpace(f.Value)
		if value == "" {
			if def.Required {
				return invalid("%s skal udfyldes", def.Label)
			}
			continue
		}
		switch def.Type {
		case FieldNumber:
			n, err := strconv.Atoi(value)
			if err != nil {
				return invalid("%s skal være et tal", def.Label)
			}
			if def.Min != nil && n < *def.Min {
				return invalid("%s skal være mindst %d", def.Label, *def.Min)
			}
		case FieldSelect:
			if !contains(def.Options, value) {
				return invalid("Ugyldig værdi for %s", def.Label)
			}
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return models.NewValidationError(fmt.Sprintf(format, args...))
}

// Catalog is the set of configured application types.
type Catalog struct {
	DefaultReviewerRole string `yaml:"defaultReviewerRole"`
	Types               []Type `yaml:"types"`

	byID map[string]*Type
}

// Default loads the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads the catalog at path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse expands environment references in data and decodes it.
func Parse(data []byte) (*Catalog, error) {
	expanded := os.Expand(string(data), expandEnv)

	var c Catalog
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c.byID = make(map[string]*Type, len(c.Types))
	for i := range c.Types {
		t := &c.Types[i]
		if t.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate application type %q", t.ID)
		}
		t.ReviewerRoles = compact(t.ReviewerRoles)
		c.byID[t.ID] = t
	}
	return &c, nil
}

// Get returns the type with id.
func (c *Catalog) Get(id string) (*Type, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// IDs returns the configured type ids in catalog order.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.Types))
	for _, t := range c.Types {
		out = append(out, t.ID)
	}
	return out
}

// ReviewerMap returns type id to reviewer roles, for the permission policy.
func (c *Catalog) ReviewerMap() map[string][]string {
	out := make(map[string][]string, len(c.Types))
	for _, t := range c.Types {
		out[t.ID] = t.ReviewerRoles
	}
	return out
}

// expandEnv resolves NAME and NAME:-default.
func expandEnv(ref string) string {
	name, def, hasDefault := strings.Cut(ref, ":-")
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	if hasDefault {
		return def
	}
	return ""
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
