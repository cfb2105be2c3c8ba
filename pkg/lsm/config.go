package lsm

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/tejchid/heliosdb/pkg/metrics"
)

// Options configures an engine instance. The zero tunables are filled in by
// DefaultOptions; a YAML config file may override them via LoadOptions.
type Options struct {
	// DataDir is the database directory, created if missing.
	DataDir string `yaml:"data_dir" validate:"required"`

	// MemtableBytes is the approximate buffered-byte threshold that triggers
	// a flush. The check runs after every write and fires on >=.
	MemtableBytes int `yaml:"memtable_bytes" validate:"gt=0"`

	// CompactThreshold is the live-table count at which a flush signals the
	// background worker.
	CompactThreshold int `yaml:"compact_threshold" validate:"gte=2"`

	// MergeFanIn is how many of the newest tables one compaction cycle merges.
	MergeFanIn int `yaml:"merge_fan_in" validate:"gte=2"`

	// FlushOnClose flushes the memtable during Close. Off by default: callers
	// that need durability without replay call Flush before Close.
	FlushOnClose bool `yaml:"flush_on_close"`

	// LogLevel is a logrus level name ("info", "warn", ...) applied to the
	// default logger when Logger is nil.
	LogLevel string `yaml:"log_level"`

	Logger  *logrus.Logger    `yaml:"-"`
	Metrics *metrics.Registry `yaml:"-"`
}

// DefaultOptions returns the recommended configuration for dir.
func DefaultOptions(dir string) Options {
	return Options{
		DataDir:          dir,
		MemtableBytes:    1 << 20,
		CompactThreshold: 8,
		MergeFanIn:       4,
	}
}

// LoadOptions reads a YAML config file over the defaults and validates it.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions("")

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, errors.Wrapf(err, "config: parse %s", path)
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// Validate checks the option constraints.
func (o *Options) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(o); err != nil {
		return errors.Wrap(err, "config: invalid options")
	}
	return nil
}

func (o *Options) logger() *logrus.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	log := logrus.StandardLogger()
	if o.LogLevel != "" {
		if level, err := logrus.ParseLevel(o.LogLevel); err == nil {
			log.SetLevel(level)
		}
	}
	return log
}
