package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values (spec.md §6: "-F" foreground, "-w" worker).
type Flags struct {
	ConfigPath string
	Foreground bool
	Worker     bool
}

// ParseFlags parses command-line flags and returns a Flags struct.
func ParseFlags() *Flags {
	f := &Flags{}
	flag.StringVar(&f.ConfigPath, "config", "./authd.toml", "Path to configuration file")
	flag.BoolVar(&f.Foreground, "F", false, "Run in the foreground (authd always does; this flag has no effect)")
	flag.BoolVar(&f.Worker, "w", false, "Run as a worker subprocess")
	flag.Parse()
	return f
}

// Load parses a TOML configuration file and returns the Config. If the file
// does not exist, returns the default configuration.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig Config
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	return mergeConfig(cfg, fileConfig), nil
}

// mergeConfig merges non-zero values from src into dst.
func mergeConfig(dst, src Config) Config {
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if len(src.Listeners) > 0 {
		dst.Listeners = src.Listeners
	}
	if len(src.Passdbs) > 0 {
		dst.Passdbs = src.Passdbs
	}
	if src.Worker.Count > 0 {
		dst.Worker.Count = src.Worker.Count
	}
	if src.Worker.MaxPending > 0 {
		dst.Worker.MaxPending = src.Worker.MaxPending
	}
	if src.Worker.RequestTimeout != "" {
		dst.Worker.RequestTimeout = src.Worker.RequestTimeout
	}
	if src.FailureDelay.Delay != "" {
		dst.FailureDelay.Delay = src.FailureDelay.Delay
	}
	if src.Timeouts.Inactivity != "" {
		dst.Timeouts.Inactivity = src.Timeouts.Inactivity
	}
	if src.RestrictAccess.UID != "" {
		dst.RestrictAccess.UID = src.RestrictAccess.UID
	}
	if src.RestrictAccess.GID != "" {
		dst.RestrictAccess.GID = src.RestrictAccess.GID
	}
	if src.RestrictAccess.Chroot != "" {
		dst.RestrictAccess.Chroot = src.RestrictAccess.Chroot
	}
	if len(src.RestrictAccess.ExtraGroups) > 0 {
		dst.RestrictAccess.ExtraGroups = src.RestrictAccess.ExtraGroups
	}
	if len(src.RestrictAccess.KeepEnv) > 0 {
		dst.RestrictAccess.KeepEnv = src.RestrictAccess.KeepEnv
	}
	if src.Metrics.Enabled {
		dst.Metrics.Enabled = src.Metrics.Enabled
	}
	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}
	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}
	return dst
}

// LoadWithFlags loads configuration from the path specified in flags, then
// overlays listeners discovered from the environment (spec.md §6).
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if envListeners := ListenersFromEnv(); len(envListeners) > 0 {
		cfg.Listeners = envListeners
	}
	return cfg, nil
}

// ListenersFromEnv scans AUTH_<n> / AUTH_<n>_MASTER environment variables
// starting at n=1, exactly as original_source/src/auth/main.c's
// add_extra_listeners() does: the scan stops at the first n for which
// *neither* variable is set, so a client-only or master-only listener at a
// given index is permitted (spec.md §9 Open Questions, resolved in
// DESIGN.md).
func ListenersFromEnv() []ListenerConfig {
	var out []ListenerConfig
	for n := 1; ; n++ {
		clientKey := "AUTH_" + strconv.Itoa(n)
		masterKey := clientKey + "_MASTER"

		clientPath, clientOK := os.LookupEnv(clientKey)
		masterPath, masterOK := os.LookupEnv(masterKey)
		if !clientOK && !masterOK {
			break
		}

		if clientOK {
			out = append(out, listenerFromEnv(clientKey, clientPath, KindClient))
		}
		if masterOK {
			out = append(out, listenerFromEnv(masterKey, masterPath, KindMaster))
		}
	}
	return out
}

func listenerFromEnv(envKey, path string, kind ListenerKind) ListenerConfig {
	return ListenerConfig{
		Path:  path,
		Kind:  kind,
		Mode:  os.Getenv(envKey + "_MODE"),
		User:  os.Getenv(envKey + "_USER"),
		Group: os.Getenv(envKey + "_GROUP"),
	}
}

// Supervised reports whether AUTHD_MASTER is set, the marker of a daemon
// started by a supervising master process (spec.md §6). Nothing in the
// daemon consults it: listener sockets are always created from the
// configuration, and inherited fds such as MASTER_SOCKET_FD or
// CLIENT_LISTEN_FD are not used.
func Supervised() bool {
	_, ok := os.LookupEnv("AUTHD_MASTER")
	return ok
}
