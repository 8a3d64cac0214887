package main

import (
    "flag"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/joho/godotenv"
    "github.com/rs/zerolog"
)

// newLogger create the process-wide logger, writing human readable lines
// to stderr.
func newLogger(level string) zerolog.Logger {
    lvl, err := zerolog.ParseLevel(level)
    if err != nil {
        lvl = zerolog.InfoLevel
    }

    out := zerolog.ConsoleWriter {
        Out: os.Stderr,
        TimeFormat: time.RFC3339,
    }
    return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// startServer and configure its signal handler.
func startServer(logger zerolog.Logger) int {
    args, err := parseArgs(flag.CommandLine, os.Args[1:])
    if err != nil {
        logger.Error().Err(err).Msg("Invalid arguments")
        return 2
    }

    logger = newLogger(args.LogLevel)
    logArgs(logger, args)

    intHndlr := make(chan os.Signal, 1)
    signal.Notify(intHndlr, os.Interrupt, syscall.SIGTERM)

    closer, err := runWeb(args, logger)
    if err != nil {
        logger.Error().Err(err).Msg("Couldn't start the server")
        return 1
    }

    sig := <-intHndlr
    logger.Info().Stringer("signal", sig).Msg("Exiting...")
    closer.Close()

    return 0
}

func main() {
    // A missing .env is fine; it only supplies defaults.
    _ = godotenv.Load()

    logger := newLogger(os.Getenv(envLogLevel))

    defer func() {
        if r := recover(); r != nil {
            logger.Fatal().Interface("panic", r).Msg("Application panicked!")
        }
    } ()

    os.Exit(startServer(logger))
}
