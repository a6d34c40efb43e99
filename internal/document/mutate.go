package document

import (
	"fmt"
	"strconv"
	"strings"
)

// The helpers below mutate d in place; callers hand the result to the
// orchestrator, which owns persistence.

func (d *Document) day(date string) (DayRecord, error) {
	if !ValidDateKey(date) {
		return DayRecord{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	if d.DateEntries == nil {
		d.DateEntries = map[string]DayRecord{}
	}
	day := d.DateEntries[date]
	if day.Disciplines == nil {
		day.Disciplines = map[string]bool{}
	}
	if day.Tasks == nil {
		day.Tasks = []Task{}
	}
	return day, nil
}

func (d *Document) AddTask(date, name string, priority bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("task name is required")
	}
	day, err := d.day(date)
	if err != nil {
		return err
	}
	if priority && countPriority(day.Tasks) >= MaxPriorityTasks {
		return ErrPriorityLimit
	}
	day.Tasks = append(day.Tasks, Task{Name: name, Priority: priority})
	d.DateEntries[date] = day
	return nil
}

func (d *Document) SetTaskCompleted(date string, index int, completed bool) error {
	day, err := d.day(date)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(day.Tasks) {
		return fmt.Errorf("%w: %s #%d", ErrTaskNotFound, date, index)
	}
	day.Tasks[index].Completed = completed
	d.DateEntries[date] = day
	return nil
}

// SetTaskPriority enforces at most MaxPriorityTasks priority tasks per day.
func (d *Document) SetTaskPriority(date string, index int, priority bool) error {
	day, err := d.day(date)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(day.Tasks) {
		return fmt.Errorf("%w: %s #%d", ErrTaskNotFound, date, index)
	}
	if priority && !day.Tasks[index].Priority && countPriority(day.Tasks) >= MaxPriorityTasks {
		return ErrPriorityLimit
	}
	day.Tasks[index].Priority = priority
	d.DateEntries[date] = day
	return nil
}

func (d *Document) SetDiscipline(date string, index int, done bool) error {
	if index < 0 {
		return fmt.Errorf("discipline index must not be negative")
	}
	day, err := d.day(date)
	if err != nil {
		return err
	}
	day.Disciplines[strconv.Itoa(index)] = done
	d.DateEntries[date] = day
	return nil
}

// EnsureDefaultTab gives an initialized document its first tab.
func (d *Document) EnsureDefaultTab() {
	if len(d.Tabs) > 0 {
		return
	}
	d.Tabs = []Tab{{ID: DefaultTabID, Name: DefaultTabName}}
	if d.ListItems == nil {
		d.ListItems = map[string]ListContent{}
	}
	if _, ok := d.ListItems[DefaultTabID]; !ok {
		d.ListItems[DefaultTabID] = ItemsContent()
	}
}

func countPriority(tasks []Task) int {
	n := 0
	for _, task := range tasks {
		if task.Priority {
			n++
		}
	}
	return n
}
