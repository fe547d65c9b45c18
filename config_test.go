package sagaflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rjosef/sagaflow/pkg/api"
)

const routeTableYAML = `
routes:
  - name: submissions
    match:
      sources: [portal]
      types: [Customer.Submitted]
      where:
        customer.country: NO
    targets:
      - workflow: onboarding
      - log: true
  - name: accepted
    match:
      types: [Customer.Accepted]
    targets:
      - queue: notifications
`

func TestLoadRoutes(t *testing.T) {
	routes, err := LoadRoutes(strings.NewReader(routeTableYAML))
	if err != nil {
		t.Fatalf("LoadRoutes: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("routes = %d", len(routes))
	}

	sub := routes[0]
	if sub.Name != "submissions" {
		t.Fatalf("name = %q", sub.Name)
	}
	if len(sub.Match.Sources) != 1 || sub.Match.Sources[0] != "portal" {
		t.Fatalf("sources = %v", sub.Match.Sources)
	}
	if sub.Match.Where["customer.country"] != "NO" {
		t.Fatalf("where = %v", sub.Match.Where)
	}
	if len(sub.Targets) != 2 {
		t.Fatalf("targets = %v", sub.Targets)
	}
	if sub.Targets[0] != api.WorkflowTarget("onboarding") {
		t.Fatalf("target 0 = %+v", sub.Targets[0])
	}
	if sub.Targets[1] != api.LogTarget() {
		t.Fatalf("target 1 = %+v", sub.Targets[1])
	}

	if routes[1].Targets[0] != api.QueueTarget("notifications") {
		t.Fatalf("queue target = %+v", routes[1].Targets[0])
	}
}

func TestLoadRoutes_RejectsAmbiguousTarget(t *testing.T) {
	_, err := LoadRoutes(strings.NewReader(`
routes:
  - name: bad
    match:
      types: [T]
    targets:
      - queue: q
        workflow: wf
`))
	if err == nil || !strings.Contains(err.Error(), "exactly one") {
		t.Fatalf("err = %v", err)
	}

	_, err = LoadRoutes(strings.NewReader(`
routes:
  - name: bad
    match:
      types: [T]
    targets:
      - log: false
`))
	if err == nil {
		t.Fatal("empty target accepted")
	}
}

func TestLoadRoutes_RejectsInvalidRoute(t *testing.T) {
	// No event types: the route could never match.
	_, err := LoadRoutes(strings.NewReader(`
routes:
  - name: typeless
    match:
      sources: [portal]
    targets:
      - log: true
`))
	if err == nil {
		t.Fatal("typeless route accepted")
	}
}

func TestLoadRoutes_RejectsMalformedYAML(t *testing.T) {
	_, err := LoadRoutes(strings.NewReader("routes: ["))
	if err == nil || !strings.Contains(err.Error(), "parse route table") {
		t.Fatalf("err = %v", err)
	}
}

func TestRegisterRoutesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	if err := os.WriteFile(path, []byte(routeTableYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := NewRouter()
	if err := RegisterRoutesFile(r, path); err != nil {
		t.Fatalf("RegisterRoutesFile: %v", err)
	}
	if got := len(r.Routes()); got != 2 {
		t.Fatalf("registered routes = %d", got)
	}

	// The same file again collides on every route.
	if err := RegisterRoutesFile(r, path); err == nil {
		t.Fatal("duplicate table accepted")
	}

	if err := RegisterRoutesFile(r, filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
