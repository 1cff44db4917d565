package journal

import (
	"context"
	"fmt"
	"time"
)

var weekdays = [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Stats summarizes a user's journal. Days and times are UTC.
type Stats struct {
	TotalEntries     int64          `json:"total_entries"`
	StreakDays       int            `json:"streak_days"`
	EntriesByWeekday map[string]int `json:"entries_by_weekday"`
	AvgTimeOfDay     *string        `json:"avg_time_of_day"`
}

// Stats counts userID's entries per weekday, the average time of day they are
// recorded at, and the run of consecutive days with an entry ending today.
func (s *Store) Stats(ctx context.Context, userID uint64) (*Stats, error) {
	var stamps []time.Time
	if err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("user_id = ?", userID).
		Pluck("created_at", &stamps).Error; err != nil {
		return nil, err
	}

	st := &Stats{
		TotalEntries:     int64(len(stamps)),
		EntriesByWeekday: make(map[string]int, len(weekdays)),
	}
	for _, d := range weekdays {
		st.EntriesByWeekday[d] = 0
	}
	if len(stamps) == 0 {
		return st, nil
	}

	days := make(map[time.Time]struct{}, len(stamps))
	var secs int64
	for _, t := range stamps {
		t = t.UTC()
		// Monday first
		st.EntriesByWeekday[weekdays[(int(t.Weekday())+6)%7]]++
		secs += int64(t.Hour()*3600 + t.Minute()*60 + t.Second())
		days[startOfDay(t)] = struct{}{}
	}

	avg := secs / int64(len(stamps))
	hhmm := fmt.Sprintf("%02d:%02d", avg/3600, (avg%3600)/60)
	st.AvgTimeOfDay = &hhmm

	for day := startOfDay(s.now()); ; day = day.AddDate(0, 0, -1) {
		if _, ok := days[day]; !ok {
			break
		}
		st.StreakDays++
	}
	return st, nil
}
