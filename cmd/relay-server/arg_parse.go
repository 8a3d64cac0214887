package main

import (
    "errors"
    "flag"
    "fmt"
    "os"
    "time"

    "github.com/rs/zerolog"
    "gopkg.in/yaml.v3"
)

type Args struct {
    // IP on which the server will accept connections. Defaults to 0.0.0.0
    IP string `yaml:"ip"`
    // Port on which the server will accept connections. Defaults to 8000
    Port int `yaml:"port"`
    // ReadSize allocated for gorilla-ws's buffer when a new connection is accepted. Defaults to 1024
    ReadSize int `yaml:"read_size"`
    // WriteSize allocated for gorilla-ws's buffer when a new connection is accepted. Defaults to 1024
    WriteSize int `yaml:"write_size"`
    // IgnoreOrigin and accept connections from any source (mostly for development)
    IgnoreOrigin bool `yaml:"ignore_origin"`

    // AuthTimeout for a WebSocket to send its authentication payload
    AuthTimeout time.Duration `yaml:"auth_timeout"`
    // DuplicateAuthGrace during which a repeated authentication payload is ignored
    DuplicateAuthGrace time.Duration `yaml:"duplicate_auth_grace"`
    // PushTimeout for delivering a message to a single WebSocket
    PushTimeout time.Duration `yaml:"push_timeout"`
    // PingTimeout after which an idle WebSocket is pinged, and then closed. 0 disables it
    PingTimeout time.Duration `yaml:"ping_timeout"`
    // WriteTimeout for every WebSocket write. 0 disables it
    WriteTimeout time.Duration `yaml:"write_timeout"`

    // MaxMessageSize accepted by the HTTP API, in bytes
    MaxMessageSize int64 `yaml:"max_message_size"`
    // RateLimit of messages per second that each sender may send. 0 disables it
    RateLimit float64 `yaml:"rate_limit"`
    // RateBurst of messages that a sender may send at once
    RateBurst int `yaml:"rate_burst"`

    // DataDir where identities are persisted. Identities are kept in memory if empty
    DataDir string `yaml:"data_dir"`
    // LogLevel of the server (trace, debug, info, warn, error)
    LogLevel string `yaml:"log_level"`
}

// Environment variables that supply default values for some flags. They
// may also be set from a '.env' file.
const (
    envConfFile = "RELAY_CONF_FILE"
    envLogLevel = "RELAY_LOG_LEVEL"
)

// parseArgs either from the command line or from the supplied YAML file.
//
// If a YAML file is supplied, it overrides the default parameters, but
// arguments explicitly set in the command line override the file.
func parseArgs(fs *flag.FlagSet, argv []string) (Args, error) {
    var args Args
    var confFile string
    const defaultIP = "0.0.0.0"
    const defaultPort = 8000
    const defaultReadSize = 1024
    const defaultWriteSize = 1024
    const defaultIgnoreOrigin = true
    const defaultAuthTimeout = time.Second * 5
    const defaultDuplicateAuthGrace = time.Second * 2
    const defaultPushTimeout = time.Second * 2
    const defaultPingTimeout = time.Minute
    const defaultWriteTimeout = time.Second * 10
    const defaultMaxMessageSize = 64 * 1024
    const defaultRateBurst = 10

    defaultLogLevel := os.Getenv(envLogLevel)
    if len(defaultLogLevel) == 0 {
        defaultLogLevel = "info"
    }

    fs.StringVar(&args.IP, "IP", defaultIP, "IP on which the server will accept connections")
    fs.IntVar(&args.Port, "Port", defaultPort, "Port on which the server will accept connections")
    fs.IntVar(&args.ReadSize, "ReadSize", defaultReadSize, "ReadSize allocated for gorilla-ws's buffer when a new connection is accepted")
    fs.IntVar(&args.WriteSize, "WriteSize", defaultWriteSize, "WriteSize allocated for gorilla-ws's buffer when a new connection is accepted")
    fs.BoolVar(&args.IgnoreOrigin, "IgnoreOrigin", defaultIgnoreOrigin, "IgnoreOrigin and accept connections from any source (mostly for development)")
    fs.DurationVar(&args.AuthTimeout, "AuthTimeout", defaultAuthTimeout, "AuthTimeout for a WebSocket to send its authentication payload")
    fs.DurationVar(&args.DuplicateAuthGrace, "DuplicateAuthGrace", defaultDuplicateAuthGrace, "DuplicateAuthGrace during which a repeated authentication payload is ignored")
    fs.DurationVar(&args.PushTimeout, "PushTimeout", defaultPushTimeout, "PushTimeout for delivering a message to a single WebSocket")
    fs.DurationVar(&args.PingTimeout, "PingTimeout", defaultPingTimeout, "PingTimeout after which an idle WebSocket is pinged, and then closed. 0 disables it")
    fs.DurationVar(&args.WriteTimeout, "WriteTimeout", defaultWriteTimeout, "WriteTimeout for every WebSocket write. 0 disables it")
    fs.Int64Var(&args.MaxMessageSize, "MaxMessageSize", defaultMaxMessageSize, "MaxMessageSize accepted by the HTTP API, in bytes")
    fs.Float64Var(&args.RateLimit, "RateLimit", 0, "RateLimit of messages per second that each sender may send. 0 disables it")
    fs.IntVar(&args.RateBurst, "RateBurst", defaultRateBurst, "RateBurst of messages that a sender may send at once")
    fs.StringVar(&args.DataDir, "DataDir", "", "DataDir where identities are persisted. Identities are kept in memory if empty")
    fs.StringVar(&args.LogLevel, "LogLevel", defaultLogLevel, "LogLevel of the server (trace, debug, info, warn, error)")
    fs.StringVar(&confFile, "confFile", os.Getenv(envConfFile), "YAML file with the configuration options. May be overriden by other CLI arguments")
    if err := fs.Parse(argv); err != nil {
        return args, err
    }

    if len(confFile) != 0 {
        // Save every explicitly set argument, since decoding the file
        // overwrites them.
        set := make(map[string]string)
        fs.Visit(func (f *flag.Flag) {
            if f.Name != "confFile" {
                set[f.Name] = f.Value.String()
            }
        })

        data, err := os.ReadFile(confFile)
        if err != nil {
            return args, fmt.Errorf("couldn't read the configuration file '%s': %w", confFile, err)
        }
        if err := yaml.Unmarshal(data, &args); err != nil {
            return args, fmt.Errorf("couldn't decode the configuration file '%s': %w", confFile, err)
        }

        for name, val := range set {
            if err := fs.Set(name, val); err != nil {
                return args, fmt.Errorf("couldn't override '%s' with '%s': %w", name, val, err)
            }
        }
    }

    if args.Port <= 0 || args.Port > 0xffff {
        return args, fmt.Errorf("invalid port %d", args.Port)
    } else if args.MaxMessageSize <= 0 {
        return args, errors.New("MaxMessageSize must be positive")
    } else if _, err := zerolog.ParseLevel(args.LogLevel); err != nil {
        return args, fmt.Errorf("invalid log level '%s': %w", args.LogLevel, err)
    }

    return args, nil
}

// logArgs report the options the server is starting with.
func logArgs(logger zerolog.Logger, args Args) {
    logger.Info().
            Str("ip", args.IP).
            Int("port", args.Port).
            Int("read_size", args.ReadSize).
            Int("write_size", args.WriteSize).
            Bool("ignore_origin", args.IgnoreOrigin).
            Dur("auth_timeout", args.AuthTimeout).
            Dur("duplicate_auth_grace", args.DuplicateAuthGrace).
            Dur("push_timeout", args.PushTimeout).
            Dur("ping_timeout", args.PingTimeout).
            Dur("write_timeout", args.WriteTimeout).
            Int64("max_message_size", args.MaxMessageSize).
            Float64("rate_limit", args.RateLimit).
            Int("rate_burst", args.RateBurst).
            Str("data_dir", args.DataDir).
            Str("log_level", args.LogLevel).
            Msg("Starting server with options")
}
