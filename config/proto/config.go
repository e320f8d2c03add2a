// Package proto holds the configuration types. They are plain YAML
// structs shared by every package that needs to read settings.
//
// The yaml library reads the json struct tags.
package proto

import (
	"strconv"
)

type Config struct {
	Client        *ClientConfig        `json:"Client,omitempty"`
	Datastore     *DatastoreConfig     `json:"Datastore,omitempty"`
	Logging       *LoggingConfig       `json:"Logging,omitempty"`
	Tasks         []*Task              `json:"Tasks,omitempty"`
	VisitCounting *VisitCountingConfig `json:"VisitCounting,omitempty"`
	Features      *FeaturesConfig      `json:"Features,omitempty"`

	// Set by the loader, not read from the file.
	Verbose bool `json:"-"`
}

type ClientConfig struct {
	LeaderEndpoint   string `json:"leader_endpoint,omitempty"`
	HelperEndpoint   string `json:"helper_endpoint,omitempty"`
	LeaderHpkeConfig string `json:"leader_hpke_config,omitempty"`
	HelperHpkeConfig string `json:"helper_hpke_config,omitempty"`

	// Oblivious relay. Both must be set for relay mode.
	OhttpRelay  string `json:"ohttp_relay,omitempty"`
	OhttpConfig string `json:"ohttp_config,omitempty"`

	SubmissionIntervalMinutes uint64 `json:"submission_interval_minutes,omitempty"`
	CapWindowDays             uint64 `json:"cap_window_days,omitempty"`
	TimeoutSeconds            uint64 `json:"timeout_seconds,omitempty"`
	ShutdownTimeoutSeconds    uint64 `json:"shutdown_timeout_seconds,omitempty"`
	MaxConcurrency            uint64 `json:"max_concurrency,omitempty"`
}

type DatastoreConfig struct {
	// One of leveldb, sqlite or memory.
	Implementation string `json:"implementation,omitempty"`
	Location       string `json:"location,omitempty"`
}

type LoggingConfig struct {
	OutputDirectory string `json:"output_directory,omitempty"`
	Debug           bool   `json:"debug,omitempty"`
	MaxAgeDays      uint64 `json:"max_age_days,omitempty"`
}

type Task struct {
	Id                 string      `json:"id,omitempty"`
	Vdaf               string      `json:"vdaf,omitempty"`
	Bits               uint64      `json:"bits,omitempty"`
	Length             uint64      `json:"length,omitempty"`
	TimePrecision      uint64      `json:"time_precision,omitempty"`
	DefaultMeasurement Uint64Array `json:"default_measurement,omitempty"`
}

type UrlPattern struct {
	Pattern string `json:"pattern,omitempty"`
	Bucket  uint64 `json:"bucket"`
}

type VisitTask struct {
	Task     `json:",inline"`
	Patterns []*UrlPattern `json:"patterns,omitempty"`
}

type VisitCountingConfig struct {
	Enabled          bool         `json:"enabled,omitempty"`
	BudgetWindowDays uint64       `json:"budget_window_days,omitempty"`
	MaxReports       uint64       `json:"max_reports,omitempty"`
	MaxVisitCount    uint64       `json:"max_visit_count,omitempty"`
	Tasks            []*VisitTask `json:"tasks,omitempty"`
}

type FeaturesConfig struct {
	Enabled bool `json:"enabled,omitempty"`

	// When set the file is polled for an `enabled` key.
	FlagFile            string `json:"flag_file,omitempty"`
	PollIntervalSeconds uint64 `json:"poll_interval_seconds,omitempty"`
}

// Can be a list or a single number in YAML but always parses to a
// list. A sum task is naturally written with a scalar default.
type Uint64Array []uint64

func (self *Uint64Array) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var multi []uint64
	err := unmarshal(&multi)
	if err != nil {
		var single uint64
		err := unmarshal(&single)
		if err != nil {
			return err
		}
		*self = []uint64{single}
	} else {
		*self = multi
	}
	return nil
}

func (self Uint64Array) String() string {
	if len(self) == 1 {
		return strconv.FormatUint(self[0], 10)
	}

	result := "["
	for i, v := range self {
		if i > 0 {
			result += ","
		}
		result += strconv.FormatUint(v, 10)
	}
	return result + "]"
}
