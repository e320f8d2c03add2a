package config

import (
	"fmt"
	"net/url"

	"github.com/go-errors/errors"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/dap"
	"www.velocidex.com/golang/dapreporter/glob"
	"www.velocidex.com/golang/dapreporter/ohttp"
)

func ValidateDatastoreConfig(config_obj *config_proto.Config) error {
	switch config_obj.Datastore.Implementation {
	case "memory":
		return nil
	case "leveldb", "sqlite":
		if config_obj.Datastore.Location == "" {
			return errors.New("Datastore.location is required for " +
				config_obj.Datastore.Implementation)
		}
		return nil
	default:
		return fmt.Errorf("Unknown datastore implementation %v",
			config_obj.Datastore.Implementation)
	}
}

func ValidateClientConfig(config_obj *config_proto.Config) error {
	client := config_obj.Client

	for _, endpoint := range []string{client.LeaderEndpoint, client.HelperEndpoint} {
		if endpoint == "" {
			continue
		}
		_, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("Invalid endpoint %v: %w", endpoint, err)
		}
	}

	if client.LeaderHpkeConfig != "" {
		_, err := dap.ParseHpkeConfig(client.LeaderHpkeConfig)
		if err != nil {
			return fmt.Errorf("Client.leader_hpke_config: %w", err)
		}
	}

	if client.HelperHpkeConfig != "" {
		_, err := dap.ParseHpkeConfig(client.HelperHpkeConfig)
		if err != nil {
			return fmt.Errorf("Client.helper_hpke_config: %w", err)
		}
	}

	// The relay is all or nothing.
	if (client.OhttpRelay == "") != (client.OhttpConfig == "") {
		return errors.New(
			"Client.ohttp_relay and Client.ohttp_config must be set together")
	}

	if client.OhttpConfig != "" {
		_, err := ohttp.ParseKeyConfig(client.OhttpConfig)
		if err != nil {
			return fmt.Errorf("Client.ohttp_config: %w", err)
		}
	}

	return nil
}

func ValidateTasks(config_obj *config_proto.Config) error {
	seen := make(map[string]bool)

	for _, task := range config_obj.Tasks {
		_, err := dap.NewTask(task)
		if err != nil {
			return err
		}
		_, err = dap.DecodeTaskId(task.Id)
		if err != nil {
			return err
		}
		if seen[task.Id] {
			return fmt.Errorf("Duplicate task %v", task.Id)
		}
		seen[task.Id] = true
	}

	for _, task := range config_obj.VisitCounting.Tasks {
		dap_task, err := dap.NewTask(&task.Task)
		if err != nil {
			return err
		}
		_, err = dap.DecodeTaskId(task.Id)
		if err != nil {
			return err
		}

		if seen[task.Id] {
			return fmt.Errorf("Duplicate task %v", task.Id)
		}
		seen[task.Id] = true

		// Counters are per bucket so several buckets can be set in
		// one window. Only sumvec can carry that.
		if dap_task.Vdaf != dap.VDAF_SUMVEC {
			return fmt.Errorf("Visit task %v: visit counting needs the sumvec vdaf, not %v",
				task.Id, dap_task.Vdaf)
		}

		for _, pattern := range task.Patterns {
			if pattern.Bucket >= dap_task.Length {
				return fmt.Errorf("Visit task %v: bucket %v out of range (length %v)",
					task.Id, pattern.Bucket, dap_task.Length)
			}

			_, err := glob.CompileMatchPattern(pattern.Pattern)
			if err != nil {
				return fmt.Errorf("Visit task %v: %w", task.Id, err)
			}
		}
	}

	return nil
}
