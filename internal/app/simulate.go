package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fundrate-tracker/internal/alerting"
	"fundrate-tracker/internal/analytics"
	"fundrate-tracker/internal/storage"
)

// SimulateAlert renders a rate-change alert for from -> to and sends it via
// the configured channel. Without a channel the message is printed.
func (a *App) SimulateAlert(ctx context.Context, from, to decimal.Decimal) error {
	note := simulatedNotification(a.Config.Provider.Function, from, to, time.Now())
	if note.Change.IsZero() {
		return errors.New("from and to are equal; a zero change never alerts")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("no alert channel enabled; printing message only")
		fmt.Fprintln(a.Out, alerting.RenderMessage(note))
		return nil
	}
	return notifier.Notify(ctx, note)
}

func simulatedNotification(series string, from, to decimal.Decimal, now time.Time) alerting.Notification {
	change := to.Sub(from)
	return alerting.Notification{
		Date:          storage.TruncateDate(now),
		Series:        series,
		PreviousRate:  from,
		Rate:          to,
		Change:        change,
		Direction:     analytics.ClassifyChange(change),
		AdditionalMsg: "(simulated)",
	}
}
