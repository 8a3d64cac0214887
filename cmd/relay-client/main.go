package main

import (
    "context"
    "fmt"
    "os"
    "os/signal"
    "strings"
    "time"

    "github.com/rs/zerolog"
    "github.com/spf13/cobra"
)

// Header that carries the caller's identity.
const userHeader = "X-User-ID"

var (
    serverURL string
    verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command {
    Use: "relay-client",
    Short: "Command line client for the message relay",
    SilenceUsage: true,
}

func newLogger() zerolog.Logger {
    lvl := zerolog.InfoLevel
    if verbose {
        lvl = zerolog.DebugLevel
    }

    out := zerolog.ConsoleWriter {
        Out: os.Stderr,
        TimeFormat: time.RFC3339,
    }
    return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

var registerCmd = &cobra.Command {
    Use: "register [name]",
    Short: "Register a new identity",
    Args: cobra.ExactArgs(1),
    RunE: func(cmd *cobra.Command, args []string) error {
        id, err := newAPIClient(serverURL).register(args[0])
        if err != nil {
            return err
        }
        fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id.Name, id.ID)
        return nil
    },
}

var listCmd = &cobra.Command {
    Use: "list",
    Short: "List every registered identity",
    Args: cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        users, err := newAPIClient(serverURL).list()
        if err != nil {
            return err
        }
        for name, id := range users {
            fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, id)
        }
        return nil
    },
}

var resolveCmd = &cobra.Command {
    Use: "resolve [name]",
    Short: "Retrieve the ID of an identity",
    Args: cobra.ExactArgs(1),
    RunE: func(cmd *cobra.Command, args []string) error {
        id, err := newAPIClient(serverURL).resolve(args[0])
        if err != nil {
            return err
        }
        fmt.Fprintln(cmd.OutOrStdout(), id.ID)
        return nil
    },
}

var sendFrom string

var sendCmd = &cobra.Command {
    Use: "send [recipient] [message]",
    Short: "Send a message to every device of the recipient",
    Args: cobra.ExactArgs(2),
    RunE: func(cmd *cobra.Command, args []string) error {
        receipt, err := newAPIClient(serverURL).send(sendFrom, args[0], args[1])
        if err != nil {
            return err
        }
        fmt.Fprintf(cmd.OutOrStdout(), "%s delivered to %d device(s)\n",
                receipt.MessageID, receipt.DeliveredTo)
        return nil
    },
}

var (
    listenID string
    listenName string
    listenHeader bool
    listenHeartbeat time.Duration
)

var listenCmd = &cobra.Command {
    Use: "listen",
    Short: "Print every message sent to an identity",
    Args: cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        logger := newLogger()

        id := listenID
        if len(id) == 0 {
            if len(listenName) == 0 {
                return fmt.Errorf("either --id or --name is required")
            }

            ident, err := newAPIClient(serverURL).resolve(listenName)
            if err != nil {
                return err
            }
            id = ident.ID
        }

        ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
        defer stop()

        opts := listenOpts {
            URL: wsURL(serverURL),
            ID: id,
            Header: listenHeader,
            Heartbeat: listenHeartbeat,
        }
        logger.Info().Str("url", opts.URL).Msg("Waiting...")
        return listen(ctx, opts, cmd.OutOrStdout(), logger)
    },
}

// wsURL convert the server's base URL into its WebSocket endpoint.
func wsURL(base string) string {
    base = strings.TrimSuffix(base, "/")
    if strings.HasPrefix(base, "https://") {
        return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
    }
    return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
}

func init() {
    rootCmd.CompletionOptions.DisableDefaultCmd = true
    rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8000", "base URL of the relay server")
    rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

    sendCmd.Flags().StringVar(&sendFrom, "from", "", "ID of the sender")
    sendCmd.MarkFlagRequired("from")

    listenCmd.Flags().StringVar(&listenID, "id", "", "ID of the identity to listen as")
    listenCmd.Flags().StringVar(&listenName, "name", "", "name of the identity to listen as, resolved through the API")
    listenCmd.Flags().BoolVar(&listenHeader, "header", false, "authenticate through the X-User-ID header")
    listenCmd.Flags().DurationVar(&listenHeartbeat, "heartbeat", time.Second * 10, "period between heartbeats (0 disables them)")

    rootCmd.AddCommand(registerCmd, listCmd, resolveCmd, sendCmd, listenCmd)
}

func main() {
    if err := rootCmd.Execute(); err != nil {
        fmt.Fprintf(os.Stderr, "Error: %v\n", err)
        os.Exit(1)
    }
}
