package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/visiontool/internal/config"
	"github.com/roach88/visiontool/internal/protocol"
	"github.com/roach88/visiontool/internal/serialport"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	Port    string
	Baud    int
	ReqID   string
	Args    string
	Timeout time.Duration
	List    bool

	// OpenPort allows overriding the serial port (for testing).
	// If nil, defaults to serialport.Open.
	OpenPort func(path string, opts serialport.Options) (io.ReadWriteCloser, error)
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	return newSendCommand(&SendOptions{RootOptions: rootOpts})
}

func newSendCommand(opts *SendOptions) *cobra.Command {
	def := config.Default().Serial

	cmd := &cobra.Command{
		Use:   "send [cmd]",
		Short: "Send one request to a device and print the reply",
		Long: `Send one request to a device over a serial port and print the reply line.

The request id defaults to a fresh UUID. A --req-id that is a JSON number or
boolean is sent as such, anything else as a string. Sending the same id twice
within the dedup window returns the first reply verbatim.

Examples:
  visiontool send PING --port /dev/ttyUSB0
  visiontool send SCAN --args '{"mode":"fast"}'
  visiontool send LEARN --args '{"person":"OWNER_1","frames":7}' --timeout 10s
  visiontool send --list`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.List {
				return listPorts(opts, cmd)
			}
			if len(args) == 0 {
				return NewExitError(ExitCommandError, "send requires a command, or --list")
			}
			return sendRequest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Port, "port", def.Port, "serial device")
	cmd.Flags().IntVar(&opts.Baud, "baud", def.Baud, "baud rate")
	cmd.Flags().StringVar(&opts.ReqID, "req-id", "", "request id (default: generated)")
	cmd.Flags().StringVar(&opts.Args, "args", "{}", "command arguments as a JSON object")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 6*time.Second, "how long to wait for the reply")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list serial ports and exit")

	return cmd
}

// buildRequest renders the request line for command.
func buildRequest(reqID, command, rawArgs string) ([]byte, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return nil, fmt.Errorf("invalid --args JSON: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}

	if reqID == "" {
		reqID = uuid.Must(uuid.NewV7()).String()
	}
	id := json.RawMessage(reqID)
	var scalar any
	if json.Unmarshal(id, &scalar) != nil || !isScalar(scalar) {
		id, _ = json.Marshal(reqID)
	}

	return json.Marshal(struct {
		ReqID json.RawMessage `json:"req_id"`
		Cmd   string          `json:"cmd"`
		Args  map[string]any  `json:"args"`
	}{id, command, args})
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, float64, bool:
		return true
	}
	return false
}

func sendRequest(opts *SendOptions, command string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	line, err := buildRequest(opts.ReqID, command, opts.Args)
	if err != nil {
		return WrapExitError(ExitCommandError, "bad request", err)
	}

	openPort := opts.OpenPort
	if openPort == nil {
		openPort = serialport.Open
	}
	port, err := openPort(opts.Port, serialport.Options{
		BaudRate:    opts.Baud,
		ReadTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		_ = formatter.Error(ErrCodePort, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open serial port", err)
	}
	defer port.Close()

	framer := protocol.NewFramer(port,
		protocol.WithMaxLineBytes(config.Default().Serial.MaxLineBytes),
		protocol.WithMaxWriteBytes(config.Default().Serial.MaxLineBytes),
	)
	formatter.VerboseLog("-> %s", line)
	if err := framer.WriteLine(line); err != nil {
		return WrapExitError(ExitCommandError, "failed to write request", err)
	}

	reply, ok := framer.ReadLine(opts.Timeout)
	if !ok || len(reply) == 0 {
		_ = formatter.Error(ErrCodeNoReply, fmt.Sprintf("no reply within %s", opts.Timeout), nil)
		return NewExitError(ExitFailure, "no reply")
	}
	formatter.VerboseLog("<- %s", reply)

	var resp struct {
		OK    bool                `json:"ok"`
		Error *protocol.ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(reply, &resp); err != nil {
		_ = formatter.Error(ErrCodeNoReply, "reply is not JSON", string(reply))
		return WrapExitError(ExitFailure, "malformed reply", err)
	}

	if resp.OK {
		if formatter.Format == "json" {
			return formatter.Success(json.RawMessage(reply))
		}
		fmt.Fprintln(formatter.Writer, string(reply))
		return nil
	}

	code, message := "error", ""
	if resp.Error != nil {
		code, message = string(resp.Error.Code), resp.Error.Message
	}
	if formatter.Format == "json" {
		_ = formatter.Error(code, message, json.RawMessage(reply))
	} else {
		fmt.Fprintln(formatter.Writer, string(reply))
	}
	return NewExitError(ExitFailure, fmt.Sprintf("device returned %s", code))
}

func listPorts(opts *SendOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ports, err := serialport.List()
	if err != nil {
		_ = formatter.Error(ErrCodePort, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list ports", err)
	}
	if formatter.Format == "json" {
		return formatter.Success(ports)
	}
	if len(ports) == 0 {
		fmt.Fprintln(formatter.Writer, "No serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(formatter.Writer, p)
	}
	return nil
}
