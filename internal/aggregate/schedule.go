package aggregate

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/cropyard/internal/notify"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// StartScheduler runs the daily aggregation on the given cron spec, closing
// out the day that just ended on each fire. The returned cron is already
// started; stop it to shut down.
func StartScheduler(db *gorm.DB, spec string, notifier notify.Sender) (*cron.Cron, error) {
	if _, err := cronParser.Parse(spec); err != nil {
		return nil, fmt.Errorf("aggregate: parse cron spec %q: %w", spec, err)
	}

	c := cron.New(cron.WithParser(cronParser))
	_, err := c.AddFunc(spec, func() {
		// The job fires just after midnight for the previous day.
		yesterday := time.Now().AddDate(0, 0, -1)
		sum, err := Run(db, yesterday)
		if err != nil {
			log.Printf("aggregate: scheduled run: %v", err)
			return
		}
		log.Printf("aggregate: %s: %d task(s) closed, %d failed, %s total",
			sum.Date.Format("2006-01-02"), sum.TasksProcessed, sum.TasksFailed, sum.TotalQuantity)
		if notifier != nil && (sum.TasksProcessed > 0 || sum.TasksFailed > 0) {
			title := fmt.Sprintf("Harvest aggregation for %s", sum.Date.Format("2006-01-02"))
			body := fmt.Sprintf("%d task(s) closed out, %d failed, %s harvested.",
				sum.TasksProcessed, sum.TasksFailed, sum.TotalQuantity)
			if err := notifier.Send(title, body); err != nil {
				log.Printf("aggregate: notify: %v", err)
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate: schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
