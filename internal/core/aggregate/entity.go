package aggregate

import "time"

// DailyAggregate は社員 1 名・1 日分の労働分数の集計です。
type DailyAggregate struct {
	ID            string
	EmployeeID    int64
	WorkDate      time.Time
	MinutesWorked int64
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone は DailyAggregate のコピーを返します。
func (a *DailyAggregate) Clone() *DailyAggregate {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// DateOf は t をその地域時刻での暦日に切り詰め、UTC の 0 時として返します。
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
