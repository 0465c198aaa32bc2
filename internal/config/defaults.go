package config

const (
	defaultConfigPath           = "~/.config/demobroker/config.toml"
	defaultSocketPath           = "/tmp/cs-demo.sock"
	defaultLogDir               = "~/.local/share/demobroker/logs"
	defaultAPIBind              = "127.0.0.1:3000"
	defaultKeyField             = "shareCode"
	defaultValueField           = "demoURL"
	defaultMaxFrameBytes        = 1 << 20
	defaultWriteTimeoutMS       = 2000
	defaultLookupTimeoutSeconds = 10
	defaultReconnectDelayMS     = 1000
	defaultDialTimeoutMS        = 2000
	defaultResolverBackend      = BackendExec
	defaultQueryTimeoutSeconds  = 30
	defaultMaxConcurrent        = 4
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Resolver backend identifiers.
const (
	BackendExec   = "exec"
	BackendStatic = "static"
)

// Environment overrides honoured during normalization.
const (
	EnvAPIToken   = "DEMOBROKER_API_TOKEN"
	EnvSocketPath = "DEMOBROKER_SOCKET"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			SocketPath: defaultSocketPath,
			LogDir:     defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Bus: Bus{
			KeyField:       defaultKeyField,
			ValueField:     defaultValueField,
			MaxFrameBytes:  defaultMaxFrameBytes,
			WriteTimeoutMS: defaultWriteTimeoutMS,
		},
		Broker: Broker{
			LookupTimeoutSeconds: defaultLookupTimeoutSeconds,
		},
		Client: Client{
			ReconnectDelayMS: defaultReconnectDelayMS,
			DialTimeoutMS:    defaultDialTimeoutMS,
		},
		Resolver: Resolver{
			Backend:             defaultResolverBackend,
			QueryTimeoutSeconds: defaultQueryTimeoutSeconds,
			MaxConcurrent:       defaultMaxConcurrent,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
