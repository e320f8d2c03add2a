package main

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
	"www.velocidex.com/golang/dapreporter/startup"
	"www.velocidex.com/golang/dapreporter/utils"
)

var (
	record = app.Command("record",
		"Record a measurement for the next submission.")

	record_task = record.Arg("task", "The task id.").Required().String()

	record_value = record.Arg("value",
		"The measurement: a number, or a comma separated vector.").
		Required().String()
)

func doRecord() error {
	quietLogging()

	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return err
	}

	measurement, err := parseMeasurement(*record_value)
	if err != nil {
		return err
	}

	ctx := context.Background()
	sm, err := startup.StartClientServices(ctx, config_obj, utils.RealClock{})
	if err != nil {
		return err
	}
	defer sm.Close()

	err = sm.Controller.RecordMeasurement(ctx, *record_task, measurement)
	if err != nil {
		return err
	}

	freq_cap, err := sm.Store.GetCap(ctx, *record_task)
	if err != nil {
		return err
	}

	if freq_cap != nil && freq_cap.Active(utils.RealClock{}.Now()) {
		fmt.Printf("Task %v is capped, measurement dropped\n", *record_task)
		return nil
	}

	fmt.Printf("Recorded %v for task %v\n", measurement, *record_task)
	return nil
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		if command == record.FullCommand() {
			kingpin.FatalIfError(doRecord(), "Record")
			return true
		}
		return false
	})
}
