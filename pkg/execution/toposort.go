package execution

import (
	"sort"

	"github.com/formbot/formbot/pkg/models"
)

// OrderSteps resolves the execution order of a workflow's steps from their
// dependency graph. A step depending on a missing step or on itself is
// treated as a root. Roots run in step_order; a step runs only after the step
// it depends on. Steps stuck in a dependency cycle are appended at the end in
// step_order so a malformed graph degrades instead of wedging the run.
func OrderSteps(steps []*models.Step) []*models.Step {
	byOrder := make(map[int]*models.Step, len(steps))
	for _, step := range steps {
		byOrder[step.StepOrder] = step
	}

	children := make(map[int][]*models.Step)
	roots := make([]*models.Step, 0)

	for _, step := range steps {
		dep := step.DependsOnStepOrder
		if dep == nil || *dep == step.StepOrder || byOrder[*dep] == nil {
			roots = append(roots, step)

			continue
		}

		children[*dep] = append(children[*dep], step)
	}

	sortByOrder(roots)

	ordered := make([]*models.Step, 0, len(steps))
	visited := make(map[int]bool, len(steps))

	queue := roots
	for len(queue) > 0 {
		step := queue[0]
		queue = queue[1:]

		if visited[step.StepOrder] {
			continue
		}

		visited[step.StepOrder] = true
		ordered = append(ordered, step)

		next := children[step.StepOrder]
		sortByOrder(next)
		queue = append(queue, next...)
	}

	if len(ordered) < len(steps) {
		leftover := make([]*models.Step, 0)

		for _, step := range steps {
			if !visited[step.StepOrder] {
				leftover = append(leftover, step)
			}
		}

		sortByOrder(leftover)
		ordered = append(ordered, leftover...)
	}

	return ordered
}

func sortByOrder(steps []*models.Step) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
}
