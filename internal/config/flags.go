package config

import "flag"

// Flags are the command line overrides shared by the irctest binaries and the
// conformance tests.
type Flags struct {
	path     *string
	target   *string
	password *string
	match    *string
}

// RegisterFlags defines -config, -target, -password and -match on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		path: fs.String("config",
			"",
			"Path to a TOML file with the target configuration. Flags override values from the file."),
		target: fs.String("target",
			"",
			"host:port of the IRC server under test. Defaults to "+DefaultConfig.Addr()),
		password: fs.String("password",
			"",
			"Registration password sent with PASS. If empty, the "+PasswordEnv+" environment variable or the configuration file is used."),
		match: fs.String("match",
			"",
			`How replies are matched: "substring" (default) or "command".`),
	}
}

// Target reports whether -target or -config was given, i.e. whether the user
// pointed irctest at a real server.
func (f *Flags) Target() bool {
	return *f.target != "" || *f.path != ""
}

// Load returns the effective configuration.
func (f *Flags) Load() (Target, error) {
	cfg := DefaultConfig
	if *f.path != "" {
		var err error
		if cfg, err = FromFile(*f.path); err != nil {
			return cfg, err
		}
	} else {
		cfg.applyEnv()
	}
	if *f.target != "" {
		if err := cfg.SetAddr(*f.target); err != nil {
			return cfg, err
		}
	}
	if *f.password != "" {
		cfg.Password = *f.password
	}
	if *f.match != "" {
		cfg.Match = MatchMode(*f.match)
	}
	return cfg, cfg.Validate()
}
