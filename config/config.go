package config

import (
	"os"
	"time"

	"github.com/Velocidex/yaml/v2"
	"github.com/go-errors/errors"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/constants"
)

// Fill in anything the file left out. Called by the loader before
// validation so the rest of the program never sees zero values.
func ApplyDefaults(config_obj *config_proto.Config) error {
	if config_obj.Client == nil {
		config_obj.Client = &config_proto.ClientConfig{}
	}

	client := config_obj.Client
	if client.SubmissionIntervalMinutes == 0 {
		client.SubmissionIntervalMinutes = constants.DEFAULT_SUBMISSION_INTERVAL
	}
	if client.CapWindowDays == 0 {
		client.CapWindowDays = constants.DEFAULT_CAP_WINDOW_DAYS
	}
	if client.TimeoutSeconds == 0 {
		client.TimeoutSeconds = uint64(constants.DEFAULT_TIMEOUT / time.Second)
	}
	if client.ShutdownTimeoutSeconds == 0 {
		client.ShutdownTimeoutSeconds = uint64(
			constants.DEFAULT_SHUTDOWN_TIMEOUT / time.Second)
	}
	if client.MaxConcurrency == 0 {
		client.MaxConcurrency = constants.DEFAULT_MAX_CONCURRENCY
	}

	if config_obj.Datastore == nil {
		config_obj.Datastore = &config_proto.DatastoreConfig{}
	}
	if config_obj.Datastore.Implementation == "" {
		config_obj.Datastore.Implementation = "leveldb"
	}

	if config_obj.VisitCounting == nil {
		config_obj.VisitCounting = &config_proto.VisitCountingConfig{}
	}

	visits := config_obj.VisitCounting
	if visits.BudgetWindowDays == 0 {
		visits.BudgetWindowDays = constants.DEFAULT_BUDGET_WINDOW_DAYS
	}
	if visits.MaxReports == 0 {
		visits.MaxReports = constants.MAX_REPORTS
	}
	if visits.MaxVisitCount == 0 {
		visits.MaxVisitCount = constants.MAX_VISIT_COUNT
	}

	if config_obj.Features == nil {
		config_obj.Features = &config_proto.FeaturesConfig{Enabled: true}
	}

	return nil
}

func GetTimeout(config_obj *config_proto.Config) time.Duration {
	if config_obj.Client == nil || config_obj.Client.TimeoutSeconds == 0 {
		return constants.DEFAULT_TIMEOUT
	}
	return time.Duration(config_obj.Client.TimeoutSeconds) * time.Second
}

func GetShutdownTimeout(config_obj *config_proto.Config) time.Duration {
	if config_obj.Client == nil || config_obj.Client.ShutdownTimeoutSeconds == 0 {
		return constants.DEFAULT_SHUTDOWN_TIMEOUT
	}
	return time.Duration(config_obj.Client.ShutdownTimeoutSeconds) * time.Second
}

func GetSubmissionInterval(config_obj *config_proto.Config) time.Duration {
	minutes := uint64(constants.DEFAULT_SUBMISSION_INTERVAL)
	if config_obj.Client != nil && config_obj.Client.SubmissionIntervalMinutes > 0 {
		minutes = config_obj.Client.SubmissionIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func GetCapWindow(config_obj *config_proto.Config) time.Duration {
	days := uint64(constants.DEFAULT_CAP_WINDOW_DAYS)
	if config_obj.Client != nil && config_obj.Client.CapWindowDays > 0 {
		days = config_obj.Client.CapWindowDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func GetBudgetWindow(config_obj *config_proto.Config) time.Duration {
	days := uint64(constants.DEFAULT_BUDGET_WINDOW_DAYS)
	if config_obj.VisitCounting != nil && config_obj.VisitCounting.BudgetWindowDays > 0 {
		days = config_obj.VisitCounting.BudgetWindowDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func GetMaxConcurrency(config_obj *config_proto.Config) int {
	if config_obj.Client == nil || config_obj.Client.MaxConcurrency == 0 {
		return constants.DEFAULT_MAX_CONCURRENCY
	}
	return int(config_obj.Client.MaxConcurrency)
}

func GetFlagPollInterval(config_obj *config_proto.Config) time.Duration {
	if config_obj.Features == nil || config_obj.Features.PollIntervalSeconds == 0 {
		return constants.DEFAULT_FLAG_POLL
	}
	return time.Duration(config_obj.Features.PollIntervalSeconds) * time.Second
}

func FindTask(config_obj *config_proto.Config, task_id string) *config_proto.Task {
	for _, task := range config_obj.Tasks {
		if task.Id == task_id {
			return task
		}
	}
	return nil
}

func Encode(config_obj *config_proto.Config) ([]byte, error) {
	res, err := yaml.Marshal(config_obj)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return res, nil
}

func WriteConfigToFile(filename string, config_obj *config_proto.Config) error {
	serialized, err := Encode(config_obj)
	if err != nil {
		return err
	}
	err = os.WriteFile(filename, serialized, 0600)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}
