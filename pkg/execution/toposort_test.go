package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbot/formbot/pkg/models"
)

func step(order int, dependsOn *int) *models.Step {
	return &models.Step{StepOrder: order, DependsOnStepOrder: dependsOn}
}

func orders(steps []*models.Step) []int {
	result := make([]int, len(steps))
	for i, s := range steps {
		result[i] = s.StepOrder
	}

	return result
}

func TestOrderSteps_RootsByStepOrder(t *testing.T) {
	ordered := OrderSteps([]*models.Step{step(3, nil), step(1, nil), step(2, nil)})

	assert.Equal(t, []int{1, 2, 3}, orders(ordered))
}

func TestOrderSteps_DependenciesBeforeDependents(t *testing.T) {
	two := 2
	three := 3

	// 1 depends on 3, 3 depends on 2; declaration order is adversarial
	ordered := OrderSteps([]*models.Step{step(1, &three), step(3, &two), step(2, nil)})

	assert.Equal(t, []int{2, 3, 1}, orders(ordered))
}

func TestOrderSteps_BranchingSiblingsByStepOrder(t *testing.T) {
	one := 1

	ordered := OrderSteps([]*models.Step{step(5, &one), step(2, &one), step(1, nil)})

	assert.Equal(t, []int{1, 2, 5}, orders(ordered))
}

func TestOrderSteps_SelfAndMissingDependenciesBecomeRoots(t *testing.T) {
	self := 2
	missing := 99

	ordered := OrderSteps([]*models.Step{step(2, &self), step(1, &missing)})

	require.Len(t, ordered, 2)
	assert.Equal(t, []int{1, 2}, orders(ordered))
}

func TestOrderSteps_CycleDegradesToStepOrder(t *testing.T) {
	one := 1
	two := 2

	ordered := OrderSteps([]*models.Step{step(1, &two), step(2, &one), step(3, nil)})

	require.Len(t, ordered, 3)
	// the acyclic step first, the cycle members appended in step order
	assert.Equal(t, []int{3, 1, 2}, orders(ordered))
}

func TestOrderSteps_Empty(t *testing.T) {
	assert.Empty(t, OrderSteps(nil))
}
