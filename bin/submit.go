package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/olekukonko/tablewriter"
	"www.velocidex.com/golang/dapreporter/config"
	"www.velocidex.com/golang/dapreporter/services/reporting"
	"www.velocidex.com/golang/dapreporter/startup"
	"www.velocidex.com/golang/dapreporter/utils"
)

var (
	submit = app.Command("submit",
		"Send one report per task now, outside the normal schedule.")

	submit_timeout = submit.Flag("timeout",
		"Per report timeout (default from config).").Duration()

	cleanup = app.Command("cleanup",
		"Flush a final round of reports then delete all stored state.")
)

func renderResults(results []reporting.TaskResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Task", "Kind", "Result"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)

	for _, result := range results {
		kind := "measurement"
		if result.CoverTraffic {
			kind = "cover"
		}

		outcome := "sent"
		if result.Err != nil {
			outcome = fmt.Sprintf("%v: %v", reporting.ErrorClass(result.Err),
				utils.Elide(result.Err.Error(), 60))
		}
		table.Append([]string{utils.Elide(result.TaskId, 20), kind, outcome})
	}

	table.Render()
}

func doSubmit() error {
	quietLogging()

	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return err
	}

	ctx, cancel := install_sig_handler()
	defer cancel()

	sm, err := startup.StartClientServices(ctx, config_obj, utils.RealClock{})
	if err != nil {
		return err
	}
	defer sm.Close()

	renderResults(sm.Controller.Submit(ctx, *submit_timeout, "manual"))
	return nil
}

func doCleanup() error {
	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return err
	}

	ctx := context.Background()
	sm, err := startup.StartClientServices(ctx, config_obj, utils.RealClock{})
	if err != nil {
		return err
	}
	defer sm.Close()

	err = sm.Controller.Cleanup(ctx, config.GetShutdownTimeout(config_obj), "cleanup")
	if err != nil {
		return err
	}

	// Visit counts only live in a running client, only the budgets
	// are left to forget.
	return sm.Store.ClearBudgets(ctx)
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case submit.FullCommand():
			kingpin.FatalIfError(doSubmit(), "Submit")

		case cleanup.FullCommand():
			kingpin.FatalIfError(doCleanup(), "Cleanup")

		default:
			return false
		}
		return true
	})
}
