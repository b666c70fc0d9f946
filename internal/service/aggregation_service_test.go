package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoplanner/internal/model"
)

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.ParseInLocation("2006-01-02 15:04", value, time.UTC)
	require.NoError(t, err)
	return parsed
}

func TestGroupByDueBucket_ThreeWaySplit(t *testing.T) {
	reference := mustParse(t, "2024-06-15 12:00")
	due1 := mustParse(t, "2024-06-14 23:59")
	due2 := mustParse(t, "2024-06-15 08:00")
	due3 := mustParse(t, "2024-06-16 00:00")

	tasks := []model.Task{
		{ID: 1, Title: "yesterday", DueAt: &due1},
		{ID: 2, Title: "today", DueAt: &due2},
		{ID: 3, Title: "tomorrow", DueAt: &due3},
	}

	groups := GroupByDueBucket(tasks, reference)

	require.Len(t, groups, 3)
	assert.Equal(t, BucketPrevious, groups[0].Bucket)
	assert.Equal(t, uint(1), groups[0].Tasks[0].ID)
	assert.Equal(t, BucketToday, groups[1].Bucket)
	assert.Equal(t, uint(2), groups[1].Tasks[0].ID)
	assert.Equal(t, BucketFuture, groups[2].Bucket)
	assert.Equal(t, uint(3), groups[2].Tasks[0].ID)
}

func TestGroupByDueBucket_OmitsEmptyBuckets(t *testing.T) {
	reference := mustParse(t, "2024-06-15 12:00")
	due := mustParse(t, "2024-06-15 09:00")

	groups := GroupByDueBucket([]model.Task{{ID: 1, DueAt: &due}}, reference)

	require.Len(t, groups, 1)
	assert.Equal(t, BucketToday, groups[0].Bucket)
}

func TestGroupByDueBucket_PartitionIsComplete(t *testing.T) {
	reference := mustParse(t, "2024-06-15 00:00")

	var tasks []model.Task
	for i := 0; i < 50; i++ {
		due := reference.Add(time.Duration(i-25) * 13 * time.Hour)
		task := model.Task{ID: uint(i + 1), CreatedAt: reference}
		if i%3 != 0 { // every third task has no due date
			task.DueAt = &due
		}
		tasks = append(tasks, task)
	}

	groups := GroupByDueBucket(tasks, reference)

	seen := make(map[uint]int)
	for _, group := range groups {
		assert.NotEmpty(t, group.Tasks)
		for _, task := range group.Tasks {
			seen[task.ID]++
		}
	}
	require.Len(t, seen, len(tasks))
	for id, count := range seen {
		assert.Equalf(t, 1, count, "task %d appears %d times", id, count)
	}
}

func TestGroupByDueBucket_NoDueDateUsesCreation(t *testing.T) {
	reference := mustParse(t, "2024-06-15 12:00")

	tasks := []model.Task{
		{ID: 1, CreatedAt: mustParse(t, "2024-06-10 09:00")},
		{ID: 2, CreatedAt: mustParse(t, "2024-06-15 09:00")},
	}

	groups := GroupByDueBucket(tasks, reference)

	require.Len(t, groups, 2)
	assert.Equal(t, BucketPrevious, groups[0].Bucket)
	assert.Equal(t, BucketToday, groups[1].Bucket)
}

func TestGroupByDueBucket_PriorityOrdersWithinBucket(t *testing.T) {
	reference := mustParse(t, "2024-06-15 12:00")
	due := mustParse(t, "2024-06-15 09:00")

	tasks := []model.Task{
		{ID: 1, Priority: 0, DueAt: &due},
		{ID: 2, Priority: 2, DueAt: &due},
		{ID: 3, Priority: 2, DueAt: &due},
		{ID: 4, Priority: 1, DueAt: &due},
	}

	groups := GroupByDueBucket(tasks, reference)

	require.Len(t, groups, 1)
	got := make([]uint, 0, 4)
	for _, task := range groups[0].Tasks {
		got = append(got, task.ID)
	}
	// Higher priority first, ties keep input order.
	assert.Equal(t, []uint{2, 3, 4, 1}, got)
}

func TestComputeMonthlyCompletionRates_Bounds(t *testing.T) {
	month := mustParse(t, "2024-06-01 00:00")
	now := mustParse(t, "2024-06-15 10:00")

	due10 := mustParse(t, "2024-06-10 14:00")
	due20 := mustParse(t, "2024-06-20 14:00")
	tasks := []model.Task{
		{ID: 1, DueAt: &due10, Completed: true},
		{ID: 2, DueAt: &due10},
		{ID: 3, DueAt: &due20, Completed: true},
	}

	rates := ComputeMonthlyCompletionRates(month, tasks, now)

	require.Len(t, rates, 30)
	for day, rate := range rates {
		assert.GreaterOrEqualf(t, rate, 0.0, "day %s", day)
		assert.LessOrEqualf(t, rate, 1.0, "day %s", day)
	}
	assert.Equal(t, 0.5, rates[mustParse(t, "2024-06-10 00:00")])
	assert.Equal(t, 1.0, rates[mustParse(t, "2024-06-20 00:00")])
	assert.Equal(t, 0.0, rates[mustParse(t, "2024-06-05 00:00")])
}

func TestComputeMonthlyCompletionRates_NoDueDateCountsTowardToday(t *testing.T) {
	month := mustParse(t, "2024-06-01 00:00")
	now := mustParse(t, "2024-06-15 10:00")

	tasks := []model.Task{
		{ID: 1, Completed: true}, // no due date
		{ID: 2},                  // no due date
	}

	rates := ComputeMonthlyCompletionRates(month, tasks, now)

	assert.Equal(t, 0.5, rates[mustParse(t, "2024-06-15 00:00")])
	assert.Equal(t, 0.0, rates[mustParse(t, "2024-06-14 00:00")])
	assert.Equal(t, 0.0, rates[mustParse(t, "2024-06-16 00:00")])
}

func TestComputeMonthlyCompletionRates_OtherMonthExcluded(t *testing.T) {
	month := mustParse(t, "2024-06-01 00:00")
	now := mustParse(t, "2024-07-02 10:00") // wall clock outside displayed month

	due := mustParse(t, "2024-06-10 14:00")
	tasks := []model.Task{
		{ID: 1, DueAt: &due, Completed: true},
		{ID: 2}, // no due date, today is July → not counted anywhere in June
	}

	rates := ComputeMonthlyCompletionRates(month, tasks, now)

	assert.Equal(t, 1.0, rates[mustParse(t, "2024-06-10 00:00")])
	total := 0.0
	for _, rate := range rates {
		total += rate
	}
	assert.Equal(t, 1.0, total)
}
