package sagaflow

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rjosef/sagaflow/pkg/api"
)

// routeFile is the on-disk shape of a route table:
//
//	routes:
//	  - name: accepted-claims
//	    match:
//	      sources: [fraud-service]
//	      types: [Claim.Accepted]
//	      where:
//	        claim.status: accepted
//	    targets:
//	      - queue: notifications
//	      - workflow: claim-processing
//	      - log: true
type routeFile struct {
	Routes []routeSpec `yaml:"routes"`
}

type routeSpec struct {
	Name  string `yaml:"name"`
	Match struct {
		Sources []string       `yaml:"sources"`
		Types   []string       `yaml:"types"`
		Where   map[string]any `yaml:"where"`
	} `yaml:"match"`
	Targets []targetSpec `yaml:"targets"`
}

// targetSpec is one target entry; exactly one field may be set.
type targetSpec struct {
	Queue    string `yaml:"queue"`
	Workflow string `yaml:"workflow"`
	Log      bool   `yaml:"log"`
}

func (t targetSpec) target() (api.Target, error) {
	set := 0
	if t.Queue != "" {
		set++
	}
	if t.Workflow != "" {
		set++
	}
	if t.Log {
		set++
	}
	if set != 1 {
		return api.Target{}, fmt.Errorf("target must set exactly one of queue, workflow, log")
	}
	switch {
	case t.Queue != "":
		return api.QueueTarget(t.Queue), nil
	case t.Workflow != "":
		return api.WorkflowTarget(t.Workflow), nil
	default:
		return api.LogTarget(), nil
	}
}

// LoadRoutes parses a YAML route table. Each route is validated; the
// table as a whole is not checked for duplicates, that happens at
// registration.
func LoadRoutes(r io.Reader) ([]Route, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var file routeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse route table: %w", err)
	}

	routes := make([]Route, 0, len(file.Routes))
	for i, spec := range file.Routes {
		route := api.Route{Name: spec.Name}
		route.Match.Sources = spec.Match.Sources
		route.Match.Types = spec.Match.Types
		route.Match.Where = spec.Match.Where
		for _, ts := range spec.Targets {
			target, err := ts.target()
			if err != nil {
				return nil, fmt.Errorf("route %d (%s): %w", i, spec.Name, err)
			}
			route.Targets = append(route.Targets, target)
		}
		if err := route.Validate(); err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	return routes, nil
}

// LoadRoutesFile reads a YAML route table from the given path.
func LoadRoutesFile(path string) ([]Route, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadRoutes(f)
}

// RegisterRoutesFile loads a route table from disk and registers every
// route with the router. The table is fixed at deploy time; duplicate
// entries in the file surface as DuplicateRouteError.
func RegisterRoutesFile(r *Router, path string) error {
	routes, err := LoadRoutesFile(path)
	if err != nil {
		return err
	}
	for _, route := range routes {
		if err := r.RegisterRoute(route); err != nil {
			return err
		}
	}
	return nil
}
