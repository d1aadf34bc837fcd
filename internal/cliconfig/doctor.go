package cliconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KafClaw/guildkeeper/internal/config"
	"github.com/KafClaw/guildkeeper/internal/kshark"
	"github.com/KafClaw/guildkeeper/internal/scheduler"
	"github.com/KafClaw/guildkeeper/internal/timeline"
)

// probeTimeout bounds the whole Kafka probe.
const probeTimeout = 30 * time.Second

type DoctorStatus string

const (
	DoctorPass DoctorStatus = "pass"
	DoctorWarn DoctorStatus = "warn"
	DoctorFail DoctorStatus = "fail"
)

type DoctorCheck struct {
	Name    string
	Status  DoctorStatus
	Message string
}

type DoctorReport struct {
	Checks []DoctorCheck
}

type DoctorOptions struct {
	// Fix creates the data directory when it is missing.
	Fix bool
	// Probe dials the configured Kafka brokers.
	Probe bool
}

func (r DoctorReport) HasFailures() bool {
	for _, c := range r.Checks {
		if c.Status == DoctorFail {
			return true
		}
	}
	return false
}

func (r *DoctorReport) add(name string, status DoctorStatus, format string, args ...any) {
	r.Checks = append(r.Checks, DoctorCheck{Name: name, Status: status, Message: fmt.Sprintf(format, args...)})
}

func RunDoctor() (DoctorReport, error) {
	return RunDoctorWithOptions(DoctorOptions{})
}

func RunDoctorWithOptions(opts DoctorOptions) (DoctorReport, error) {
	report := DoctorReport{Checks: make([]DoctorCheck, 0, 10)}

	cfgPath, err := config.ConfigPath()
	if err != nil {
		report.add("config_path", DoctorFail, "cannot resolve config path: %v", err)
		return report, nil
	}

	if _, err := os.Stat(cfgPath); err != nil {
		if os.IsNotExist(err) {
			report.add("config_file", DoctorWarn, "config file not found at %s (environment and defaults will be used)", cfgPath)
		} else {
			report.add("config_file", DoctorFail, "cannot access config file: %v", err)
		}
	} else {
		report.add("config_file", DoctorPass, "config file found at %s", cfgPath)
	}

	checkEnvFiles(&report)

	cfg, err := config.Load()
	if err != nil {
		report.add("config_load", DoctorFail, "config load failed: %v", err)
		return report, nil
	}
	report.add("config_load", DoctorPass, "config loaded successfully")

	switch src, err := ApplyStoredSecrets(cfg); {
	case err != nil:
		report.add("discord_token", DoctorFail, "%v", err)
	case src == TokenMissing:
		report.add("discord_token", DoctorFail, "no token in environment, config or secret store (run 'guildkeeper token set')")
	default:
		report.add("discord_token", DoctorPass, "token from %s", src)
	}

	if err := cfg.Validate(); err != nil {
		for _, msg := range strings.Split(err.Error(), "\n") {
			report.add("config_valid", DoctorFail, "%s", msg)
		}
	} else {
		report.add("config_valid", DoctorPass, "token and channel ids are set")
	}

	checkMemberCount(&report, cfg)
	checkDelivery(&report, cfg)
	if opts.Probe {
		probeKafka(&report, cfg)
	}
	checkDataDir(&report, cfg, opts.Fix)
	return report, nil
}

// checkEnvFiles reports env files in use, their malformed lines and any
// variables still using the original bot's bare names.
func checkEnvFiles(report *DoctorReport) {
	for _, f := range config.ScanEnvFiles() {
		report.add("env_file", DoctorPass, "%s sets %d variables", f.Path, len(f.Entries))
		if len(f.Invalid) > 0 {
			report.add("env_file", DoctorWarn, "%s: ignoring malformed lines %v", f.Path, f.Invalid)
		}
		for _, e := range f.Legacy() {
			repl, _ := config.LegacyReplacement(e.Key)
			report.add("env_file", DoctorWarn, "%s:%d uses legacy %s; rename it to %s", f.Path, e.Line, e.Key, repl)
		}
	}
}

func checkMemberCount(report *DoctorReport, cfg *config.Config) {
	if !cfg.MemberCount.Enabled() {
		report.add("member_count", DoctorWarn, "member count display disabled (no TARGET_CHANNEL_ID)")
		return
	}
	if _, err := scheduler.ParseCron(cfg.MemberCount.Schedule); err != nil {
		report.add("member_count", DoctorFail, "invalid schedule %q: %v", cfg.MemberCount.Schedule, err)
		return
	}
	if !cfg.Scheduler.Enabled {
		report.add("member_count", DoctorWarn, "scheduler disabled; the display only updates on joins and leaves")
		return
	}
	report.add("member_count", DoctorPass, "channel %s refreshed on %q", cfg.MemberCount.ChannelID, cfg.MemberCount.Schedule)
}

func checkDelivery(report *DoctorReport, cfg *config.Config) {
	if cfg.Slack.Enabled {
		report.add("slack", DoctorPass, "mirroring audit notifications to a webhook")
	} else {
		report.add("slack", DoctorPass, "disabled")
	}
	if cfg.Kafka.Enabled {
		report.add("kafka", DoctorPass, "publishing to %s on %s", cfg.Kafka.Topic, strings.Join(cfg.Kafka.BrokerList(), ","))
	} else {
		report.add("kafka", DoctorPass, "disabled")
	}
}

func probeKafka(report *DoctorReport, cfg *config.Config) {
	if !cfg.Kafka.Enabled {
		report.add("kafka_probe", DoctorWarn, "skipped: kafka is disabled")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	r := kshark.Run(ctx, kshark.Options{Brokers: cfg.Kafka.BrokerList(), Topic: cfg.Kafka.Topic, Timeout: 5 * time.Second})
	for _, row := range r.Rows {
		status := DoctorPass
		switch row.Status {
		case kshark.FAIL:
			status = DoctorFail
		case kshark.WARN, kshark.SKIP:
			status = DoctorWarn
		}
		msg := fmt.Sprintf("%s %s: %s", row.Layer, row.Target, row.Detail)
		if row.Hint != "" {
			msg += " (" + row.Hint + ")"
		}
		report.add("kafka_probe", status, "%s", msg)
	}
}

// checkDataDir verifies the data directory, the timeline database and the
// instance lock.
func checkDataDir(report *DoctorReport, cfg *config.Config, fix bool) {
	dir := cfg.Paths.DataDir
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist) && fix:
		if err := config.EnsureDir(dir); err != nil {
			report.add("data_dir", DoctorFail, "cannot create %s: %v", dir, err)
			return
		}
		report.add("data_dir", DoctorPass, "created %s", dir)
	case errors.Is(err, os.ErrNotExist):
		report.add("data_dir", DoctorWarn, "%s does not exist yet (created on first run, or use --fix)", dir)
		return
	case err != nil:
		report.add("data_dir", DoctorFail, "cannot access %s: %v", dir, err)
		return
	case !info.IsDir():
		report.add("data_dir", DoctorFail, "%s is not a directory", dir)
		return
	default:
		probe := filepath.Join(dir, ".doctor-probe")
		if err := os.WriteFile(probe, nil, 0o600); err != nil {
			report.add("data_dir", DoctorFail, "%s is not writable: %v", dir, err)
			return
		}
		_ = os.Remove(probe)
		report.add("data_dir", DoctorPass, "%s is writable", dir)
	}

	tl, err := timeline.NewTimelineService(cfg.Paths.TimelinePath())
	if err != nil {
		report.add("timeline", DoctorFail, "cannot open %s: %v", cfg.Paths.TimelinePath(), err)
	} else {
		_ = tl.Close()
		report.add("timeline", DoctorPass, "%s opens", cfg.Paths.TimelinePath())
	}

	lock := scheduler.NewFileLock(cfg.Paths.LockPath())
	ok, err := lock.TryLock()
	switch {
	case err != nil:
		report.add("instance_lock", DoctorFail, "cannot lock %s: %v", lock.Path(), err)
	case !ok:
		report.add("instance_lock", DoctorWarn, "another guildkeeper instance holds %s", lock.Path())
	default:
		_ = lock.Unlock()
		report.add("instance_lock", DoctorPass, "no other instance running")
	}
}
