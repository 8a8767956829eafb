package pipeline

import (
	"fmt"
	"sort"
)

// Stages levels a definition's step DAG: stage N holds every step
// whose dependencies all live in earlier stages. Steps within a stage
// are independent of each other and run as one barrier group.
func Stages(def *Definition) ([][]*Step, error) {
	deps := make(map[string]map[string]struct{}, len(def.Steps))
	steps := make(map[string]*Step, len(def.Steps))
	for i := range def.Steps {
		s := &def.Steps[i]
		steps[s.Name] = s
		deps[s.Name] = make(map[string]struct{})
		for _, in := range s.Inputs {
			if in.From == "" {
				continue
			}
			dep, _, err := splitRef(in.From)
			if err != nil {
				return nil, fmt.Errorf("step %q: %w", s.Name, err)
			}
			deps[s.Name][dep] = struct{}{}
		}
	}

	var stages [][]*Step
	placed := make(map[string]bool, len(steps))
	for len(placed) < len(steps) {
		var stage []*Step
		for name, pending := range deps {
			if placed[name] {
				continue
			}
			ready := true
			for dep := range pending {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				stage = append(stage, steps[name])
			}
		}
		if len(stage) == 0 {
			var stuck []string
			for name := range steps {
				if !placed[name] {
					stuck = append(stuck, name)
				}
			}
			sort.Strings(stuck)
			return nil, fmt.Errorf("dependency cycle among steps %v", stuck)
		}
		sort.Slice(stage, func(i, j int) bool { return stage[i].Name < stage[j].Name })
		for _, s := range stage {
			placed[s.Name] = true
		}
		stages = append(stages, stage)
	}
	return stages, nil
}
