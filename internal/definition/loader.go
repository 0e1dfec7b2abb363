// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Library is the parsed content of a definitions directory: services under
// services/, workflows under workflows/, any nesting below those.
type Library struct {
	Services  map[string]*ServiceSpec
	Workflows map[string]*WorkflowSpec
}

// LoadDir walks root with recursive globs and parses every YAML definition
// it finds. Files that fail to parse abort the load; a definitions tree is
// either fully usable or rejected.
func LoadDir(root string) (*Library, error) {
	lib := &Library{
		Services:  map[string]*ServiceSpec{},
		Workflows: map[string]*WorkflowSpec{},
	}

	fsys := os.DirFS(root)
	servicePaths, err := doublestar.Glob(fsys, "services/**/*.{yml,yaml}")
	if err != nil {
		return nil, fmt.Errorf("definition: glob services: %w", err)
	}
	workflowPaths, err := doublestar.Glob(fsys, "workflows/**/*.{yml,yaml}")
	if err != nil {
		return nil, fmt.Errorf("definition: glob workflows: %w", err)
	}
	sort.Strings(servicePaths)
	sort.Strings(workflowPaths)

	for _, p := range servicePaths {
		data, err := os.ReadFile(filepath.Join(root, p))
		if err != nil {
			return nil, fmt.Errorf("definition: read %s: %w", p, err)
		}
		spec, err := ParseService(data)
		if err != nil {
			return nil, fmt.Errorf("definition: %s: %w", p, err)
		}
		key := spec.ID
		if key == "" {
			key = spec.Name
		}
		if _, dup := lib.Services[key]; dup {
			return nil, fmt.Errorf("definition: duplicate service %q (%s)", key, p)
		}
		lib.Services[key] = spec
	}

	for _, p := range workflowPaths {
		data, err := os.ReadFile(filepath.Join(root, p))
		if err != nil {
			return nil, fmt.Errorf("definition: read %s: %w", p, err)
		}
		spec, err := ParseWorkflow(data)
		if err != nil {
			return nil, fmt.Errorf("definition: %s: %w", p, err)
		}
		if _, dup := lib.Workflows[spec.Name]; dup {
			return nil, fmt.Errorf("definition: duplicate workflow %q (%s)", spec.Name, p)
		}
		lib.Workflows[spec.Name] = spec
	}

	for name, wf := range lib.Workflows {
		for _, svc := range wf.Services {
			if _, ok := lib.Services[svc]; !ok {
				return nil, fmt.Errorf("definition: workflow %q references unknown service %q", name, svc)
			}
		}
	}
	return lib, nil
}

// ServiceNames returns the sorted service keys, for listings.
func (l *Library) ServiceNames() []string {
	names := make([]string, 0, len(l.Services))
	for name := range l.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a service by id or name, tolerating the common case of a
// caller passing the display name of a service whose key is its id.
func (l *Library) Lookup(ref string) (*ServiceSpec, bool) {
	if spec, ok := l.Services[ref]; ok {
		return spec, true
	}
	for _, spec := range l.Services {
		if strings.EqualFold(spec.Name, ref) {
			return spec, true
		}
	}
	return nil, false
}
