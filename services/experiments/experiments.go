// Sources of the feature flag that turns reporting on and off.
package experiments

import (
	"context"
	"os"
	"time"

	"github.com/Velocidex/yaml/v2"
	"www.velocidex.com/golang/dapreporter/config"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
	"www.velocidex.com/golang/dapreporter/logging"
	"www.velocidex.com/golang/dapreporter/utils"
)

type FeatureState struct {
	Enabled bool `json:"enabled"`
}

type Source interface {
	// The channel closes when the source has nothing more to say
	// or ctx is done.
	Updates(ctx context.Context) <-chan FeatureState
}

// Emits a single fixed state.
type StaticSource struct {
	State FeatureState
}

func (self StaticSource) Updates(ctx context.Context) <-chan FeatureState {
	output_chan := make(chan FeatureState, 1)
	output_chan <- self.State
	close(output_chan)
	return output_chan
}

// Polls a YAML flag file and emits the state whenever it changes.
// The first successful read is always emitted. A missing or broken
// file leaves the last state in place.
type FileSource struct {
	path     string
	interval time.Duration
	clock    utils.Clock
	logger   *logging.LogContext
}

func NewFileSource(config_obj *config_proto.Config,
	path string, clock utils.Clock) *FileSource {
	if clock == nil {
		clock = utils.RealClock{}
	}

	return &FileSource{
		path:     path,
		interval: config.GetFlagPollInterval(config_obj),
		clock:    clock,
		logger:   logging.GetLogger(config_obj, &logging.ClientComponent),
	}
}

func (self *FileSource) read() (*FeatureState, error) {
	data, err := os.ReadFile(self.path)
	if err != nil {
		return nil, err
	}

	result := &FeatureState{}
	err = yaml.Unmarshal(data, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (self *FileSource) Updates(ctx context.Context) <-chan FeatureState {
	output_chan := make(chan FeatureState)

	go func() {
		defer close(output_chan)

		var last *FeatureState
		for {
			state, err := self.read()
			if err != nil {
				self.logger.Debug("FileSource: %v: %v", self.path, err)

			} else if last == nil || last.Enabled != state.Enabled {
				self.logger.Info("FileSource: Feature is now enabled=%v",
					state.Enabled)

				select {
				case <-ctx.Done():
					return
				case output_chan <- *state:
				}
				last = state
			}

			select {
			case <-ctx.Done():
				return
			case <-self.clock.After(self.interval):
			}
		}
	}()

	return output_chan
}

// A flag file if one is configured, otherwise the configured state.
func NewSource(config_obj *config_proto.Config, clock utils.Clock) Source {
	if config_obj.Features != nil && config_obj.Features.FlagFile != "" {
		return NewFileSource(config_obj, config_obj.Features.FlagFile, clock)
	}

	enabled := config_obj.Features == nil || config_obj.Features.Enabled
	return StaticSource{State: FeatureState{Enabled: enabled}}
}
