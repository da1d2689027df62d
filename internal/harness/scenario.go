package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario is one replication scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Sites are initialized in order before the first step.
	Sites []Site `yaml:"sites"`

	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Site is one device or server with its own data directory.
type Site struct {
	Name string `yaml:"name"`

	// Remote names the site this one replicates with. Empty makes every
	// database on the site local-only.
	Remote string `yaml:"remote,omitempty"`

	Databases []string `yaml:"databases"`
}

// Step is one operation against a site's database.
type Step struct {
	Op   string `yaml:"op"`
	Site string `yaml:"site,omitempty"`
	DB   string `yaml:"db"`
	ID   string `yaml:"id,omitempty"`

	// Rev is a literal revision id or "$name" for a captured one.
	Rev string `yaml:"rev,omitempty"`

	Body map[string]any `yaml:"body,omitempty"`

	// Key and Value are used by the key-value operations.
	Key   string `yaml:"key,omitempty"`
	Value string `yaml:"value,omitempty"`

	// Selector and Fields are used by find.
	Selector map[string]any `yaml:"selector,omitempty"`
	Fields   []string       `yaml:"fields,omitempty"`

	// Indexes is used by index.
	Indexes map[string][]string `yaml:"indexes,omitempty"`

	// As captures the resulting revision under a name.
	As string `yaml:"as,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect checks a step's outcome. Unset fields are not checked.
type Expect struct {
	// Error is the expected error kind, e.g. CONFLICT. Empty expects
	// success.
	Error string `yaml:"error,omitempty"`

	Generation int64 `yaml:"generation,omitempty"`

	// Body is a subset match against the resulting document body.
	Body map[string]any `yaml:"body,omitempty"`

	Value *string  `yaml:"value,omitempty"`
	IDs   []string `yaml:"ids,omitempty"`

	// Documents is the number of revisions a push or pull transferred.
	Documents *int `yaml:"documents,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	Type string `yaml:"type"`
	Site string `yaml:"site,omitempty"`
	DB   string `yaml:"db"`
	ID   string `yaml:"id,omitempty"`

	// Body is used by document (subset match).
	Body map[string]any `yaml:"body,omitempty"`

	// Count is used by conflicts.
	Count int `yaml:"count,omitempty"`

	// Sites is used by converged. Empty means every site.
	Sites []string `yaml:"sites,omitempty"`

	// Keys is used by keys.
	Keys []string `yaml:"keys,omitempty"`
}

// Step operations.
const (
	OpCreate       = "create"
	OpRetrieve     = "retrieve"
	OpFindOrCreate = "find_or_create"
	OpUpdate       = "update"
	OpDelete       = "delete"
	OpFind         = "find"
	OpIndex        = "index"
	OpCompact      = "compact"
	OpPush         = "push"
	OpPull         = "pull"
	OpSync         = "sync"
	OpSetItem      = "set_item"
	OpGetItem      = "get_item"
	OpRemoveItem   = "remove_item"
	OpKeys         = "keys"
	OpClear        = "clear"
)

// Assertion types.
const (
	AssertDocument  = "document"
	AssertMissing   = "missing"
	AssertConflicts = "conflicts"
	AssertConverged = "converged"
	AssertKeys      = "keys"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is invalid.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses a scenario from YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and that
// steps only refer to declared sites and databases.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Sites) == 0 {
		return fmt.Errorf("sites list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	dbs := make(map[string][]string, len(s.Sites))
	for i, site := range s.Sites {
		if site.Name == "" {
			return fmt.Errorf("sites[%d]: name is required", i)
		}
		if _, dup := dbs[site.Name]; dup {
			return fmt.Errorf("sites[%d]: duplicate site %q", i, site.Name)
		}
		if len(site.Databases) == 0 {
			return fmt.Errorf("sites[%d]: databases list is required", i)
		}
		dbs[site.Name] = site.Databases
	}
	for i, site := range s.Sites {
		if site.Remote == "" {
			continue
		}
		if site.Remote == site.Name {
			return fmt.Errorf("sites[%d]: site cannot replicate with itself", i)
		}
		if _, ok := dbs[site.Remote]; !ok {
			return fmt.Errorf("sites[%d]: unknown remote site %q", i, site.Remote)
		}
	}

	known := func(site, db string) error {
		if site == "" {
			site = s.Sites[0].Name
		}
		names, ok := dbs[site]
		if !ok {
			return fmt.Errorf("unknown site %q", site)
		}
		if !slices.Contains(names, db) {
			return fmt.Errorf("unknown database %q on site %q", db, site)
		}
		return nil
	}

	for i, step := range s.Steps {
		if step.DB == "" {
			return fmt.Errorf("steps[%d]: db is required", i)
		}
		if err := known(step.Site, step.DB); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if a.DB == "" {
			return fmt.Errorf("assertions[%d]: db is required", i)
		}
		sites := a.Sites
		if a.Type != AssertConverged {
			sites = []string{a.Site}
		}
		for _, site := range sites {
			if err := known(site, a.DB); err != nil {
				return fmt.Errorf("assertions[%d]: %w", i, err)
			}
		}
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch step.Op {
	case OpCreate, OpRetrieve, OpFindOrCreate, OpDelete:
		// Generated ids would make traces unstable.
		if step.ID == "" {
			return fmt.Errorf("id is required for %s", step.Op)
		}
	case OpUpdate:
		if step.ID == "" || step.Rev == "" {
			return fmt.Errorf("id and rev are required for update")
		}
	case OpIndex:
		if len(step.Indexes) == 0 {
			return fmt.Errorf("indexes are required for index")
		}
	case OpSetItem, OpGetItem, OpRemoveItem:
		if step.Key == "" {
			return fmt.Errorf("key is required for %s", step.Op)
		}
	case OpFind, OpCompact, OpPush, OpPull, OpSync, OpKeys, OpClear:
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertDocument:
		if a.ID == "" || len(a.Body) == 0 {
			return fmt.Errorf("id and body are required for document")
		}
	case AssertMissing, AssertConverged:
		if a.ID == "" {
			return fmt.Errorf("id is required for %s", a.Type)
		}
	case AssertConflicts:
		if a.ID == "" {
			return fmt.Errorf("id is required for conflicts")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for conflicts")
		}
	case AssertKeys:
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
