package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/alecthomas/kingpin/v2"
	humanize "github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"www.velocidex.com/golang/dapreporter/datastore"
	"www.velocidex.com/golang/dapreporter/json"
	"www.velocidex.com/golang/dapreporter/utils"
)

var (
	status = app.Command("status", "Show the stored caps, reports and budgets.")

	status_json = status.Flag("json", "Emit JSON instead of tables.").Bool()
)

func formatReset(now time.Time, timestamp int64) string {
	reset := time.UnixMilli(timestamp)
	if !reset.After(now) {
		return "expired"
	}
	return humanize.RelTime(reset, now, "ago", "from now")
}

func statusRows(snapshot *datastore.Snapshot, now time.Time) []*ordereddict.Dict {
	var result []*ordereddict.Dict

	pending := make(map[string]*datastore.PendingReport)
	for _, report := range snapshot.Reports {
		pending[report.TaskId] = report
	}

	for _, freq_cap := range snapshot.Caps {
		row := ordereddict.NewDict().
			Set("Type", "cap").
			Set("TaskId", freq_cap.TaskId).
			Set("Active", freq_cap.Active(now)).
			Set("Reset", time.UnixMilli(freq_cap.NextResetTimestamp).UTC()).
			Set("Pending", "")

		report, pres := pending[freq_cap.TaskId]
		if pres {
			row.Update("Pending", report.Measurement)
			delete(pending, freq_cap.TaskId)
		}
		result = append(result, row)
	}

	for _, report := range snapshot.Reports {
		_, pres := pending[report.TaskId]
		if !pres {
			continue
		}
		result = append(result, ordereddict.NewDict().
			Set("Type", "cap").
			Set("TaskId", report.TaskId).
			Set("Active", false).
			Set("Reset", nil).
			Set("Pending", report.Measurement))
	}

	for _, budget := range snapshot.Budgets {
		result = append(result, ordereddict.NewDict().
			Set("Type", "budget").
			Set("TaskId", budget.TaskId).
			Set("Active", !budget.Expired(now)).
			Set("Reset", time.UnixMilli(budget.NextResetTimestamp).UTC()).
			Set("Pending", budget.ReportCount))
	}

	return result
}

func renderStatus(rows []*ordereddict.Dict, now time.Time) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Type", "Task", "Active", "Reset", "Pending/Used"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)

	for _, row := range rows {
		reset := ""
		value, _ := row.Get("Reset")
		ts, ok := value.(time.Time)
		if ok {
			reset = formatReset(now, ts.UnixMilli())
		}

		table.Append([]string{
			utils.GetString(row, "Type"),
			utils.Elide(utils.GetString(row, "TaskId"), 20),
			fmt.Sprintf("%v", utils.GetAny(row, "Active")),
			reset,
			fmt.Sprintf("%v", utils.GetAny(row, "Pending")),
		})
	}

	table.Render()
}

func doStatus() error {
	quietLogging()

	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return err
	}

	clock := utils.RealClock{}
	store, err := datastore.NewStore(config_obj, clock)
	if err != nil {
		return err
	}
	defer store.Close()

	snapshot, err := store.Snapshot(context.Background())
	if err != nil {
		return err
	}

	now := clock.Now()
	rows := statusRows(snapshot, now)

	if *status_json {
		serialized, err := json.MarshalIndent(rows)
		if err != nil {
			return err
		}
		fmt.Println(string(serialized))
		return nil
	}

	renderStatus(rows, now)
	return nil
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		if command == status.FullCommand() {
			kingpin.FatalIfError(doStatus(), "Status")
			return true
		}
		return false
	})
}
