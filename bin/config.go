package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"www.velocidex.com/golang/dapreporter/config"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/constants"
	"www.velocidex.com/golang/dapreporter/dap"
	"www.velocidex.com/golang/dapreporter/logging"
)

var (
	config_command = app.Command("config", "Manipulate the configuration.")

	config_show_command = config_command.Command(
		"show", "Show the current config.")

	config_generate_command = config_command.Command(
		"generate", "Generate a sample config with fresh aggregator keys.")

	config_generate_leader = config_generate_command.Flag(
		"leader", "The leader's DAP endpoint.").
		Default("https://leader.example.com/v1").String()

	config_generate_helper = config_generate_command.Flag(
		"helper", "The helper's DAP endpoint.").
		Default("https://helper.example.com/v1").String()

	config_generate_output = config_generate_command.Flag(
		"output", "Write the config here instead of stdout.").String()
)

func makeDefaultConfigLoader() *config.Loader {
	return new(config.Loader).
		WithVerbose(*verbose_flag).
		WithFileLoader(*config_path).
		WithEnvLiteralLoader(constants.DAP_CONFIG_LITERAL_ENV).
		WithEnvLoader(constants.DAP_CONFIG_ENV).
		WithConfigMutator("Ephemeral", func(config_obj *config_proto.Config) error {
			if *ephemeral_flag {
				config_obj.Datastore = &config_proto.DatastoreConfig{
					Implementation: "memory",
				}
			}
			return nil
		}).
		WithRequiredEndpoints()
}

func doShowConfig() error {
	config_obj, err := makeDefaultConfigLoader().LoadAndValidate()
	if err != nil {
		return err
	}

	res, err := config.Encode(config_obj)
	if err != nil {
		return err
	}
	fmt.Printf("%v", string(res))
	return nil
}

func doGenerateConfig() error {
	logger := logging.GetLogger(nil, &logging.ToolComponent)

	leader, leader_key, err := dap.GenerateHpkeConfig(1)
	if err != nil {
		return err
	}

	helper, helper_key, err := dap.GenerateHpkeConfig(2)
	if err != nil {
		return err
	}

	config_obj := &config_proto.Config{
		Client: &config_proto.ClientConfig{
			LeaderEndpoint:   *config_generate_leader,
			HelperEndpoint:   *config_generate_helper,
			LeaderHpkeConfig: leader.String(),
			HelperHpkeConfig: helper.String(),
		},
		Datastore: &config_proto.DatastoreConfig{
			Implementation: "leveldb",
			Location:       "/var/lib/dapreporter",
		},
	}

	err = config.ApplyDefaults(config_obj)
	if err != nil {
		return err
	}

	// Private keys belong to the aggregators, they never go into
	// the client config.
	fmt.Fprintf(os.Stderr, "Leader private key: %v\nHelper private key: %v\n",
		encodeKey(leader_key), encodeKey(helper_key))

	if *config_generate_output != "" {
		err = config.WriteConfigToFile(*config_generate_output, config_obj)
		if err != nil {
			return err
		}
		logger.Info("Wrote config to %v", *config_generate_output)
		return nil
	}

	res, err := config.Encode(config_obj)
	if err != nil {
		return err
	}
	fmt.Printf("%v", string(res))
	return nil
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case config_show_command.FullCommand():
			kingpin.FatalIfError(doShowConfig(), "Unable to show config")

		case config_generate_command.FullCommand():
			kingpin.FatalIfError(doGenerateConfig(), "Unable to generate config")

		default:
			return false
		}
		return true
	})
}
