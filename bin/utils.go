package main

import (
	"context"
	"encoding/base64"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-errors/errors"
	"www.velocidex.com/golang/dapreporter/dap"
	"www.velocidex.com/golang/dapreporter/logging"
)

// Commands that print results to stdout keep stderr quiet unless
// asked otherwise.
func quietLogging() {
	if !*verbose_flag {
		logging.SuppressLogging = true
		logging.Reset()
	}
}

func install_sig_handler() (context.Context, context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		select {
		case <-quit:
			cancel()

		case <-ctx.Done():
			return
		}
	}()

	return ctx, cancel
}

func encodeKey(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

// Measurements are given on the command line as a single number or
// a comma separated list.
func parseMeasurement(value string) (dap.Measurement, error) {
	result := dap.Measurement{}
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		v, err := strconv.ParseUint(item, 0, 64)
		if err != nil {
			return nil, errors.Wrap(err, 0)
		}
		result = append(result, v)
	}

	if len(result) == 0 {
		return nil, errors.New("empty measurement")
	}
	return result, nil
}
