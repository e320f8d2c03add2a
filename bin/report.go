package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-errors/errors"
	"www.velocidex.com/golang/dapreporter/config"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/dap"
)

var (
	report_command = app.Command("report", "Work with encoded reports.")

	report_encode = report_command.Command("encode",
		"Encode a measurement into a report without sending it.")

	report_encode_task = report_encode.Arg("task", "The task id.").
				Required().String()

	report_encode_value = report_encode.Arg("value",
		"The measurement: a number, or a comma separated vector.").
		Required().String()

	report_encode_output = report_encode.Flag("output",
		"Where to write the report.").Required().String()

	report_decode = report_command.Command("decode",
		"Decode a report, decrypting the shares if keys are given.")

	report_decode_task = report_decode.Arg("task", "The task id.").
				Required().String()

	report_decode_file = report_decode.Arg("file", "The encoded report.").
				Required().ExistingFile()

	report_decode_leader_key = report_decode.Flag("leader_key",
		"The leader's private key.").String()

	report_decode_helper_key = report_decode.Flag("helper_key",
		"The helper's private key.").String()
)

func getTask(config_obj *config_proto.Config, task_id string) (*dap.Task, error) {
	task_config := config.FindTask(config_obj, task_id)
	if task_config == nil {
		return nil, errors.New("Unknown task " + task_id)
	}
	return dap.NewTask(task_config)
}

func doReportEncode() error {
	quietLogging()

	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return err
	}

	task, err := getTask(config_obj, *report_encode_task)
	if err != nil {
		return err
	}

	measurement, err := parseMeasurement(*report_encode_value)
	if err != nil {
		return err
	}

	encoder, err := dap.NewEncoderFromConfig(config_obj)
	if err != nil {
		return err
	}

	serialized, err := encoder.EncodeReport(task, measurement)
	if err != nil {
		return err
	}

	return os.WriteFile(*report_encode_output, serialized, 0600)
}

// Decrypt both shares and recombine them into the measurement.
func openReport(config_obj *config_proto.Config, task *dap.Task,
	report *dap.Report) (dap.Measurement, error) {
	leader, err := dap.ParseHpkeConfig(config_obj.Client.LeaderHpkeConfig)
	if err != nil {
		return nil, err
	}

	helper, err := dap.ParseHpkeConfig(config_obj.Client.HelperHpkeConfig)
	if err != nil {
		return nil, err
	}

	leader_key, err := leader.ParsePrivateKey(*report_decode_leader_key)
	if err != nil {
		return nil, err
	}

	helper_key, err := helper.ParsePrivateKey(*report_decode_helper_key)
	if err != nil {
		return nil, err
	}

	leader_share, err := report.OpenShare(task, dap.ROLE_LEADER, leader, leader_key)
	if err != nil {
		return nil, err
	}

	helper_share, err := report.OpenShare(task, dap.ROLE_HELPER, helper, helper_key)
	if err != nil {
		return nil, err
	}

	return dap.Unshard(task, leader_share, helper_share)
}

func doReportDecode() error {
	quietLogging()

	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return err
	}

	task, err := getTask(config_obj, *report_decode_task)
	if err != nil {
		return err
	}

	serialized, err := os.ReadFile(*report_decode_file)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	report, err := dap.DecodeReport(serialized)
	if err != nil {
		return err
	}

	fmt.Printf("Report Id: %v\n", hex.EncodeToString(report.Metadata.ReportId[:]))
	fmt.Printf("Time: %v\n",
		time.Unix(int64(report.Metadata.Time), 0).UTC().Format(time.RFC3339))
	fmt.Printf("Leader share: config %v, %v bytes\n",
		report.LeaderShare.ConfigId, len(report.LeaderShare.Payload))
	fmt.Printf("Helper share: config %v, %v bytes\n",
		report.HelperShare.ConfigId, len(report.HelperShare.Payload))

	if *report_decode_leader_key == "" || *report_decode_helper_key == "" {
		return nil
	}

	measurement, err := openReport(config_obj, task, report)
	if err != nil {
		return err
	}

	fmt.Printf("Measurement: %v\n", measurement)
	return nil
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case report_encode.FullCommand():
			kingpin.FatalIfError(doReportEncode(), "Encode report")

		case report_decode.FullCommand():
			kingpin.FatalIfError(doReportDecode(), "Decode report")

		default:
			return false
		}
		return true
	})
}
