package main

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"www.velocidex.com/golang/dapreporter/json"
	"www.velocidex.com/golang/dapreporter/logging"
	"www.velocidex.com/golang/dapreporter/services/experiments"
	"www.velocidex.com/golang/dapreporter/services/visits"
	"www.velocidex.com/golang/dapreporter/startup"
	"www.velocidex.com/golang/dapreporter/utils"
)

var (
	client = app.Command("client", "Run the reporting client.")

	client_visits = client.Flag("visits",
		"Read visit events (one JSON object per line) from this file. "+
			"Use - for stdin.").String()
)

func readVisits(ctx context.Context, reader io.Reader,
	output chan<- visits.VisitEvent) {
	defer close(output)

	logger := logging.GetLogger(nil, &logging.ClientComponent)
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event := visits.VisitEvent{}
		err := json.Unmarshal(line, &event)
		if err != nil {
			logger.Error("Invalid visit event %v: %v",
				utils.Elide(string(line), 80), err)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case output <- event:
		}
	}
}

func openVisits(filename string) (io.ReadCloser, error) {
	if filename == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(filename)
}

func doClient() error {
	config_obj, err := makeDefaultConfigLoader().
		WithRequiredLogging().LoadAndValidate()
	if err != nil {
		return err
	}

	ctx, cancel := install_sig_handler()
	defer cancel()

	logger := logging.GetLogger(config_obj, &logging.ClientComponent)

	clock := utils.RealClock{}
	sm, err := startup.StartClientServices(ctx, config_obj, clock)
	if err != nil {
		return err
	}

	source := experiments.NewSource(config_obj, clock)
	go sm.Manager.Run(ctx, source.Updates(ctx))

	if *client_visits != "" {
		if sm.Aggregator == nil {
			logger.Warn("Visit counting is disabled, ignoring %v", *client_visits)
		} else {
			fd, err := openVisits(*client_visits)
			if err != nil {
				sm.Shutdown(context.Background())
				return err
			}
			defer fd.Close()

			events := make(chan visits.VisitEvent)
			go readVisits(ctx, fd, events)
			go sm.Aggregator.Run(ctx, events)
		}
	}

	<-ctx.Done()
	logger.Info("<red>Exiting</>: flushing reports before shutdown")

	// The signal context is gone by now, the shutdown hook is
	// bounded by the configured shutdown timeout instead.
	sm.Shutdown(context.Background())
	return nil
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		if command == client.FullCommand() {
			kingpin.FatalIfError(doClient(), "Client")
			return true
		}
		return false
	})
}
