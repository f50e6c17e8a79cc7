package config

import (
	"errors"
	"time"

	"gopkg.in/ini.v1"
)

// ErrHostRequired is returned by Validate when Host is empty, and by
// LoadTargetsINI when a section's "host" key is present but empty.
// Sections with no "host" key are not treated as targets and are
// skipped.
var ErrHostRequired = errors.New("config: host is required")

// LoadTargetsINI reads a file of `[target "name"]`-sectioned connection
// options, one section per remote target. Returns a map keyed by target
// name.
//
// Recognised keys per section: host, port, subsystem_nqn, host_nqn,
// timeout (seconds), kato (milliseconds), header_digest, data_digest,
// queue_size.
func LoadTargetsINI(path string) (map[string]Options, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Options)
	for _, section := range cfg.Sections() {
		name := section.Name()
		if name == ini.DefaultSection || !sectionIsTarget(section) {
			continue
		}
		opts, err := optionsFromSection(section)
		if err != nil {
			return nil, err
		}
		out[targetName(name)] = opts
	}
	return out, nil
}

func sectionIsTarget(section *ini.Section) bool {
	return section.HasKey("host")
}

// targetName strips the `target "` / `"` wrapper ini.v1 uses for
// quoted, parameterised section names (`[target "mytarget"]`).
func targetName(raw string) string {
	const prefix = `target "`
	if len(raw) > len(prefix)+1 && raw[:len(prefix)] == prefix && raw[len(raw)-1] == '"' {
		return raw[len(prefix) : len(raw)-1]
	}
	return raw
}

func optionsFromSection(section *ini.Section) (Options, error) {
	var opts Options
	opts.Host = section.Key("host").String()
	if opts.Host == "" {
		return Options{}, ErrHostRequired
	}
	opts.Port = section.Key("port").MustInt(0)
	opts.SubsystemNQN = section.Key("subsystem_nqn").String()
	opts.HostNQN = section.Key("host_nqn").String()
	if secs := section.Key("timeout").MustInt(0); secs > 0 {
		opts.Timeout = time.Duration(secs) * time.Second
	}
	if ms := section.Key("kato").MustInt(0); ms > 0 {
		opts.KATO = time.Duration(ms) * time.Millisecond
	}
	opts.HeaderDigest = section.Key("header_digest").MustBool(true)
	opts.DataDigest = section.Key("data_digest").MustBool(true)
	opts.QueueSize = uint16(section.Key("queue_size").MustInt(0))
	return opts.WithDefaults(), nil
}
